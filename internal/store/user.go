package store

import (
	"database/sql"
	"time"
)

// UpsertUser records a user in the directory, refreshing name and last seen.
func (db *DB) UpsertUser(id, name string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, name, last_seen_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			last_seen_at = excluded.last_seen_at`,
		id, name, now, now)
	return err
}

// GetUser returns a directory entry, nil if unknown.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, name, last_seen_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers returns directory entries whose id or name starts with the
// given prefix, excluding the searcher.
func (db *DB) SearchUsers(prefix, excludeID string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := prefix + "%"
	rows, err := db.Query(`
		SELECT id, name, last_seen_at FROM users
		WHERE (id LIKE ? OR name LIKE ?) AND id != ?
		ORDER BY last_seen_at DESC
		LIMIT ?`, pattern, pattern, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.LastSeenAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
