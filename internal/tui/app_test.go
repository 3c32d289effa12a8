package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/session"
	"github.com/nexobay/courier/internal/transport"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// fakeEndpoint accepts one websocket, expects an auth envelope and answers
// with an ack so the transport reaches Connected.
func fakeEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if env, err := protocol.Decode(data); err != nil || env.Type != protocol.TypeAuth {
			_ = c.Close(websocket.StatusPolicyViolation, "auth expected")
			return
		}
		ack, _ := protocol.Encode(protocol.TypeAck, protocol.Ack{Timestamp: time.Now().UnixMilli()})
		if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
			return
		}
		<-ctx.Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestRunSeedsConnStateForLateSubscriber: the session dials and reaches
// Connected before the UI subscribes to the bus, and the bus retains
// nothing. Without seeding from Conn.State() the composer would stay
// disabled until some later reconnect re-emits a transition.
func TestRunSeedsConnStateForLateSubscriber(t *testing.T) {
	srv := fakeEndpoint(t)

	logger := zap.NewNop()
	b := bus.New()
	cfg := config.Default()
	cfg.Client.Endpoint = srv.URL
	conn := transport.New(cfg.Client, b, logger)
	defer conn.Logout()

	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if conn.State() != transport.Connected {
		t.Fatalf("state = %s, want CONNECTED", conn.State())
	}

	sess := &session.Session{
		Name:   "test",
		UserID: "me",
		Config: cfg,
		Logger: logger,
		Bus:    b,
		Conn:   conn,
	}

	a := NewApp(sess)
	if a.composer.Enabled() {
		t.Fatal("composer starts disabled before the state sync")
	}

	a.syncConnState()

	if !a.composer.Enabled() {
		t.Error("composer stays disabled although the connection is live")
	}
}
