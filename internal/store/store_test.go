package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Error("pair key must not depend on argument order")
	}
	if got := PairKey("bob", "alice"); got != "alice|bob" {
		t.Errorf("PairKey = %q, want alice|bob", got)
	}
}

func TestRecordMessageIdempotent(t *testing.T) {
	db := testDB(t)
	m := &Message{MsgID: "m1", SenderID: "alice", RecipientID: "bob", Content: "hi", Timestamp: 100}

	fresh, err := db.RecordMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Error("first delivery should be fresh")
	}

	// Redelivery after a reconnect: same msg_id again.
	fresh, err = db.RecordMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Error("duplicate delivery reported as fresh")
	}

	msgs, err := db.ListMessages("bob", "alice", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(msgs))
	}

	// The unread counter must not be double-bumped either.
	n, err := db.UnreadCount("bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unread(bob) = %d, want 1", n)
	}
}

func TestUnreadCountersArePerSide(t *testing.T) {
	db := testDB(t)

	mustRecord(t, db, &Message{MsgID: "m1", SenderID: "alice", RecipientID: "bob", Content: "one", Timestamp: 100})
	mustRecord(t, db, &Message{MsgID: "m2", SenderID: "alice", RecipientID: "bob", Content: "two", Timestamp: 200})
	mustRecord(t, db, &Message{MsgID: "m3", SenderID: "bob", RecipientID: "alice", Content: "reply", Timestamp: 300})

	if n, _ := db.UnreadCount("bob", "alice"); n != 2 {
		t.Errorf("unread(bob) = %d, want 2", n)
	}
	if n, _ := db.UnreadCount("alice", "bob"); n != 1 {
		t.Errorf("unread(alice) = %d, want 1", n)
	}

	if err := db.MarkSeen("bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.UnreadCount("bob", "alice"); n != 0 {
		t.Errorf("unread(bob) after seen = %d, want 0", n)
	}
	// Bob's seen must not touch Alice's side.
	if n, _ := db.UnreadCount("alice", "bob"); n != 1 {
		t.Errorf("unread(alice) = %d, want 1", n)
	}

	// Seen twice is fine.
	if err := db.MarkSeen("bob", "alice"); err != nil {
		t.Fatal(err)
	}
	// Seen on an unknown pair is fine too.
	if err := db.MarkSeen("bob", "nobody"); err != nil {
		t.Fatal(err)
	}
}

func TestListConversationsPerspective(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertUser("alice", "Alice"); err != nil {
		t.Fatal(err)
	}

	mustRecord(t, db, &Message{MsgID: "m1", SenderID: "alice", RecipientID: "bob", Content: "old", Timestamp: 100})
	mustRecord(t, db, &Message{MsgID: "m2", SenderID: "bob", RecipientID: "carol", Content: "new", Timestamp: 200})

	views, err := db.ListConversations("bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("conversations = %d, want 2", len(views))
	}
	// Most recently active first.
	if views[0].OtherUserID != "carol" || views[1].OtherUserID != "alice" {
		t.Fatalf("order = %s, %s", views[0].OtherUserID, views[1].OtherUserID)
	}
	if !views[0].IsLastFromMe {
		t.Error("bob sent the carol message, IsLastFromMe should be true")
	}
	if views[1].IsLastFromMe {
		t.Error("alice sent the alice message, IsLastFromMe should be false")
	}
	if views[1].OtherUserName != "Alice" {
		t.Errorf("other name = %q, want Alice", views[1].OtherUserName)
	}
	if views[1].UnreadCount != 1 {
		t.Errorf("unread from alice = %d, want 1", views[1].UnreadCount)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	for i := int64(1); i <= 5; i++ {
		mustRecord(t, db, &Message{
			MsgID: "m" + string(rune('0'+i)), SenderID: "alice", RecipientID: "bob",
			Content: "msg", Timestamp: i * 100,
		})
	}

	page, err := db.ListMessages("bob", "alice", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 500 || page[1].Timestamp != 400 {
		t.Fatalf("newest page = %+v", page)
	}

	older, err := db.ListMessages("bob", "alice", page[1].Timestamp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].Timestamp != 300 || older[1].Timestamp != 200 {
		t.Fatalf("older page = %+v", older)
	}
}

func TestSearchUsersExcludesSearcher(t *testing.T) {
	db := testDB(t)
	for _, u := range []struct{ id, name string }{
		{"alice", "Alice"}, {"albert", "Albert"}, {"bob", "Bob"},
	} {
		if err := db.UpsertUser(u.id, u.name); err != nil {
			t.Fatal(err)
		}
	}

	users, err := db.SearchUsers("al", "albert", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "alice" {
		t.Fatalf("search = %+v", users)
	}
}

func TestUpsertUserKeepsNameWhenBlank(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertUser("alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	// A later login without a display name must not erase the known one.
	if err := db.UpsertUser("alice", ""); err != nil {
		t.Fatal(err)
	}
	u, err := db.GetUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Alice" {
		t.Fatalf("user = %+v", u)
	}
}

func mustRecord(t *testing.T, db *DB, m *Message) {
	t.Helper()
	if _, err := db.RecordMessage(m); err != nil {
		t.Fatal(err)
	}
}
