package storage

import (
	"fmt"
	"time"
)

// Block records that userID no longer wants contact with targetID.
// Blocking twice is a no-op.
func (d *DB) Block(userID, targetID string) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO blocked_users (user_id, blocked_id, created_at)
		 VALUES (?, ?, ?)`,
		userID, targetID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// Unblock removes a block. Unblocking someone who was never blocked is
// a no-op.
func (d *DB) Unblock(userID, targetID string) error {
	_, err := d.db.Exec(
		`DELETE FROM blocked_users WHERE user_id = ? AND blocked_id = ?`,
		userID, targetID,
	)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	return nil
}

// BlockedIDs returns the ids userID has blocked, sorted.
func (d *DB) BlockedIDs(userID string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT blocked_id FROM blocked_users WHERE user_id = ? ORDER BY blocked_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Blocked reports whether either party has blocked the other. A block in
// one direction stops messages in both.
func (d *DB) Blocked(a, b string) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM blocked_users
		 WHERE (user_id = ? AND blocked_id = ?) OR (user_id = ? AND blocked_id = ?)`,
		a, b, b, a,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return n > 0, nil
}
