package store

import (
	"database/sql"
	"time"
)

// ListConversations returns a user's conversations from their perspective,
// most recently active first.
func (db *DB) ListConversations(userID string) ([]ConversationView, error) {
	rows, err := db.Query(`
		SELECT
			CASE WHEN c.user_a = ? THEN c.user_b ELSE c.user_a END AS other_id,
			COALESCE(u.name, '') AS other_name,
			c.last_message,
			c.last_timestamp,
			CASE WHEN c.user_a = ? THEN c.unread_a ELSE c.unread_b END AS unread,
			c.last_sender = ? AS from_me
		FROM conversations c
		LEFT JOIN users u
			ON u.id = CASE WHEN c.user_a = ? THEN c.user_b ELSE c.user_a END
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.last_timestamp DESC`,
		userID, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var views []ConversationView
	for rows.Next() {
		var v ConversationView
		if err := rows.Scan(&v.OtherUserID, &v.OtherUserName, &v.LastMessage, &v.LastTimestamp, &v.UnreadCount, &v.IsLastFromMe); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// MarkSeen zeroes the durable unread counter on userID's side of the pair.
// Idempotent; unknown pairs are a no-op.
func (db *DB) MarkSeen(userID, otherID string) error {
	a, b := userID, otherID
	if a > b {
		a, b = b, a
	}
	col := "unread_a"
	if userID == b {
		col = "unread_b"
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(
		`UPDATE conversations SET `+col+` = 0, updated_at = ? WHERE pair = ?`,
		now, PairKey(userID, otherID))
	return err
}

// UnreadCount returns the durable unread counter on userID's side, 0 for
// unknown pairs.
func (db *DB) UnreadCount(userID, otherID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT CASE WHEN user_a = ? THEN unread_a ELSE unread_b END
		FROM conversations WHERE pair = ?`,
		userID, PairKey(userID, otherID)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
