package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/store"
	"go.uber.org/zap"
)

func testApp(t *testing.T) (*fiber.App, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Server{AuthSecret: "s3cret"}
	return New(cfg, db, NewHub(db, zap.NewNop()), zap.NewNop()), db
}

func authedGet(t *testing.T, app *fiber.App, userID, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+IssueToken("s3cret", userID, time.Hour))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("unmarshal %s: %v", body, err)
	}
}

func TestRESTRequiresBearerToken(t *testing.T) {
	app, _ := testApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer alice:123:forged")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", resp.StatusCode)
	}
}

func TestConversationsEndpoint(t *testing.T) {
	app, db := testApp(t)
	if err := db.UpsertUser("alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.RecordMessage(&store.Message{
		MsgID: "m1", SenderID: "alice", RecipientID: "bob", Content: "hi", Timestamp: 100,
	}); err != nil {
		t.Fatal(err)
	}

	resp := authedGet(t, app, "bob", "/api/conversations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var convs []conversationJSON
	decodeBody(t, resp, &convs)
	if len(convs) != 1 {
		t.Fatalf("convs = %+v", convs)
	}
	c := convs[0]
	if c.OtherUserID != "alice" || c.OtherUserName != "Alice" || c.UnreadCount != 1 || c.IsLastFromMe {
		t.Fatalf("conv = %+v", c)
	}
}

func TestMessagesEndpointChronological(t *testing.T) {
	app, db := testApp(t)
	for i, content := range []string{"first", "second", "third"} {
		if _, err := db.RecordMessage(&store.Message{
			MsgID: content, SenderID: "alice", RecipientID: "bob",
			Content: content, Timestamp: int64(i+1) * 100,
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp := authedGet(t, app, "bob", "/api/messages/alice?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msgs []protocol.Message
	decodeBody(t, resp, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("msgs = %+v", msgs)
	}
	// Newest page, oldest-first within the page.
	if msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Fatalf("order = %s, %s", msgs[0].Content, msgs[1].Content)
	}
}

func TestSearchEndpoint(t *testing.T) {
	app, db := testApp(t)
	for _, u := range []struct{ id, name string }{{"alice", "Alice"}, {"bob", "Bob"}} {
		if err := db.UpsertUser(u.id, u.name); err != nil {
			t.Fatal(err)
		}
	}

	resp := authedGet(t, app, "bob", "/api/users/search?q=al")
	var users []userJSON
	decodeBody(t, resp, &users)
	if len(users) != 1 || users[0].ID != "alice" {
		t.Fatalf("users = %+v", users)
	}

	// Empty query returns an empty list, not an error.
	resp = authedGet(t, app, "bob", "/api/users/search")
	decodeBody(t, resp, &users)
	if len(users) != 0 {
		t.Fatalf("users = %+v", users)
	}
}

// TestMessagesLimitIsCapped: an oversized limit query must not page the
// whole conversation in one response.
func TestMessagesLimitIsCapped(t *testing.T) {
	app, db := testApp(t)
	for i := 0; i < maxMessagePageSize+10; i++ {
		if _, err := db.RecordMessage(&store.Message{
			MsgID: fmt.Sprintf("m-%d", i), SenderID: "alice", RecipientID: "bob",
			Content: fmt.Sprintf("msg %d", i), Timestamp: int64(i+1) * 10,
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp := authedGet(t, app, "bob", "/api/messages/alice?limit=1000000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msgs []protocol.Message
	decodeBody(t, resp, &msgs)
	if len(msgs) != maxMessagePageSize {
		t.Fatalf("page size = %d, want %d", len(msgs), maxMessagePageSize)
	}
	// Still the newest page, oldest-first within it.
	if got := msgs[len(msgs)-1].Content; got != fmt.Sprintf("msg %d", maxMessagePageSize+9) {
		t.Errorf("last message = %q", got)
	}
}
