package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nexobay/courier/internal/daemon"
	"github.com/nexobay/courier/internal/server"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (overrides ~/.courier/config.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	issueFlag := flag.String("issue-token", "", "mint a bearer token for the given user id and exit")
	flag.Parse()

	params := daemon.Params{
		ConfigPath: *configFlag,
		ListenAddr: *listenFlag,
	}

	if *issueFlag != "" {
		cfg, err := daemon.LoadConfig(params)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(server.IssueToken(cfg.Server.AuthSecret, *issueFlag, cfg.Server.TokenDuration()))
		return
	}

	fx.New(daemon.Module(params)).Run()
}
