package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/convlist"
	"github.com/nexobay/courier/internal/history"
	"github.com/nexobay/courier/internal/msgstore"
	"github.com/nexobay/courier/internal/presence"
	"github.com/nexobay/courier/internal/transport"
	"go.uber.org/zap"
)

// testSession wires a session against an httptest REST server, skipping
// Open's filesystem setup.
func testSession(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()
	logger := zap.NewNop()
	b := bus.New()
	cfg := config.Default()
	conn := transport.New(cfg.Client, b, logger)
	agg := presence.New("me", b, logger)
	store := msgstore.New("me", conn, agg, b, logger)
	convs := convlist.New("me", agg, b, logger)
	return &Session{
		Name:     "test",
		UserID:   "me",
		Config:   cfg,
		Logger:   logger,
		Bus:      b,
		Conn:     conn,
		Messages: store,
		Presence: agg,
		Convs:    convs,
		History:  history.New(srv.URL, "tok"),
		token:    "tok",
		loaded:   make(map[string]bool),
	}
}

func TestSeedLoadsConversationsAndUnread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"otherUserId":"bob","otherUserName":"Bob","lastMessage":"new","lastTimestamp":300,"unreadCount":2},
			{"otherUserId":"alice","otherUserName":"Alice","lastMessage":"old","lastTimestamp":100,"unreadCount":0,"isLastFromMe":true}
		]`))
	}))
	defer srv.Close()

	s := testSession(t, srv)
	s.seed(context.Background())

	got := s.Convs.List()
	if len(got) != 2 || got[0].OtherUserID != "bob" || got[1].OtherUserID != "alice" {
		t.Fatalf("list = %+v", got)
	}
	// Unread counts are read through the aggregator, primed from the seed.
	if got[0].UnreadCount != 2 {
		t.Errorf("unread(bob) = %d, want 2", got[0].UnreadCount)
	}
	if got[1].UnreadCount != 0 {
		t.Errorf("unread(alice) = %d, want 0", got[1].UnreadCount)
	}
	if !got[1].IsLastFromMe {
		t.Error("alice conversation should keep IsLastFromMe")
	}
}

func TestRefreshActiveMergesHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/bob" {
			t.Errorf("unexpected path %q", r.URL.Path)
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[
			{"messageId":"m1","senderId":"bob","recipientId":"me","content":"missed while offline","timestamp":100}
		]`))
	}))
	defer srv.Close()

	s := testSession(t, srv)
	s.Presence.SetActiveChat("bob")

	s.refreshActive(context.Background())
	// Re-running is harmless; the merge is idempotent.
	s.refreshActive(context.Background())

	msgs := s.Messages.Messages("bob")
	if len(msgs) != 1 || msgs[0].Content != "missed while offline" {
		t.Fatalf("messages = %+v", msgs)
	}
	if s.Presence.UnreadCount("bob") != 0 {
		t.Error("active conversation stays read after refresh")
	}
}

func TestRefreshActiveNoopWithoutActiveChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an active conversation")
	}))
	defer srv.Close()

	s := testSession(t, srv)
	s.refreshActive(context.Background())
}
