package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/nexobay/courier/internal/session"
	"github.com/nexobay/courier/internal/transport"
	"github.com/nexobay/courier/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	tokenFlag := flag.String("token", "", "store a bearer token for this session and continue")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sess, err := session.Open(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	if *tokenFlag != "" {
		if err := sess.SetToken(*tokenFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if sess.UserID == "" {
		fmt.Fprintf(os.Stderr, "no credentials for session %q; run again with --token <token>\n", sessionName)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A dial failure is not fatal; the transport keeps retrying with
	// backoff while the UI shows the reconnecting state.
	if err := sess.Start(ctx); err != nil && errors.Is(err, transport.ErrNoCredentials) {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	app := tui.NewApp(sess)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
