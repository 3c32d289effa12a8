package store

import "strings"

// User is a directory entry, refreshed on every login.
type User struct {
	ID         string
	Name       string
	LastSeenAt int64
}

// Message is one durably stored direct message.
type Message struct {
	ID          int64
	MsgID       string
	SenderID    string
	RecipientID string
	Content     string
	Timestamp   int64
}

// ConversationView is one row of a user's conversation listing, already
// resolved to that user's perspective.
type ConversationView struct {
	OtherUserID   string
	OtherUserName string
	LastMessage   string
	LastTimestamp int64
	UnreadCount   int
	IsLastFromMe  bool
}

// PairKey returns the canonical conversation key for two users, order
// independent.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
