package store

import (
	"fmt"
	"time"
)

// RecordMessage durably stores a delivered message and rolls the pair's
// conversation row forward. Idempotent on (pair, msg_id): a duplicate
// delivery changes nothing, including the recipient's unread counter.
// Returns whether the message was new.
func (db *DB) RecordMessage(m *Message) (bool, error) {
	pair := PairKey(m.SenderID, m.RecipientID)
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO messages (pair, msg_id, sender_id, recipient_id, content, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair, msg_id) DO NOTHING`,
		pair, m.MsgID, m.SenderID, m.RecipientID, m.Content, m.Timestamp, now)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		// Duplicate delivery; the conversation row already reflects it.
		return false, tx.Commit()
	}

	a, b := m.SenderID, m.RecipientID
	if a > b {
		a, b = b, a
	}
	unreadCol := "unread_a"
	if m.RecipientID == b {
		unreadCol = "unread_b"
	}
	query := fmt.Sprintf(`
		INSERT INTO conversations (pair, user_a, user_b, last_message, last_sender, last_timestamp, %s, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(pair) DO UPDATE SET
			last_message = excluded.last_message,
			last_sender = excluded.last_sender,
			last_timestamp = excluded.last_timestamp,
			%s = conversations.%s + 1,
			updated_at = excluded.updated_at`, unreadCol, unreadCol, unreadCol)
	if _, err := tx.Exec(query, pair, a, b, m.Content, m.SenderID, m.Timestamp, now); err != nil {
		return false, fmt.Errorf("upsert conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListMessages returns one page of a pair's history using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(userID, otherID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, msg_id, sender_id, recipient_id, content, timestamp
		FROM messages
		WHERE pair = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, PairKey(userID, otherID), beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.SenderID, &m.RecipientID, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
