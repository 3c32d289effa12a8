package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConversationsSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"otherUserId":"alice","otherUserName":"Alice","lastMessage":"hi","lastTimestamp":100,"unreadCount":2}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-1")
	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].OtherUserID != "alice" || convs[0].UnreadCount != 2 {
		t.Fatalf("convs = %+v", convs)
	}
}

func TestMessagesKeysetParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/bob" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("before") != "500" || q.Get("limit") != "50" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`[{"messageId":"m1","senderId":"bob","recipientId":"me","content":"old","timestamp":100}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	msgs, err := c.Messages(context.Background(), "bob", 500, 50)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestMessagesOmitsZeroBefore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("before") {
			t.Error("before param sent for newest page")
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "tok").Messages(context.Background(), "bob", 0, 50); err != nil {
		t.Fatalf("Messages: %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/search" || r.URL.Query().Get("q") != "al" {
			t.Errorf("url = %q", r.URL.String())
		}
		w.Write([]byte(`[{"id":"alice","name":"Alice"}]`))
	}))
	defer srv.Close()

	users, err := New(srv.URL, "tok").SearchUsers(context.Background(), "al")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Alice" {
		t.Fatalf("users = %+v", users)
	}
}

func TestNonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "bad").Conversations(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}
