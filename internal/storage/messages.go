package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petervdpas/huddle/internal/message"
)

// ErrMessageNotFound is returned when a message id matches no row.
var ErrMessageNotFound = errors.New("message not found")

// InsertMessage stores a new message.
func (d *DB) InsertMessage(m *message.Message) error {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO messages (id, sender_id, receiver_id, group_id, text, image, status, reactions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.Text, m.Image,
		string(m.Status), string(reactions), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// DirectHistory returns the conversation between two users, oldest
// first, limited to the most recent limit messages (0 means all).
func (d *DB) DirectHistory(a, b string, limit int) ([]message.Message, error) {
	q := `SELECT id, sender_id, receiver_id, group_id, text, image, status, reactions, created_at
	      FROM messages
	      WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
	      ORDER BY created_at DESC, rowid DESC`
	args := []any{a, b, b, a}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return d.queryMessages(q, args...)
}

// GroupHistory returns a group's messages, oldest first.
func (d *DB) GroupHistory(groupID string, limit int) ([]message.Message, error) {
	q := `SELECT id, sender_id, receiver_id, group_id, text, image, status, reactions, created_at
	      FROM messages WHERE group_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{groupID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return d.queryMessages(q, args...)
}

func (d *DB) queryMessages(q string, args ...any) ([]message.Message, error) {
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var status, reactions string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID,
			&m.Text, &m.Image, &status, &reactions, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Status = message.Status(status)
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return nil, fmt.Errorf("decode reactions: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Rows came newest-first so LIMIT keeps the recent tail; flip
	// to chronological order for the caller.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkSeen flags every message from authorID to readerID as seen and
// reports how many rows changed.
func (d *DB) MarkSeen(authorID, readerID string) (int64, error) {
	res, err := d.db.Exec(
		`UPDATE messages SET status = ?
		 WHERE sender_id = ? AND receiver_id = ? AND status != ?`,
		string(message.StatusSeen), authorID, readerID, string(message.StatusSeen),
	)
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UnreadCounts returns, per sender, how many direct messages to
// readerID are not yet seen. Senders with no unread messages are absent.
func (d *DB) UnreadCounts(readerID string) (map[string]int, error) {
	rows, err := d.db.Query(
		`SELECT sender_id, COUNT(*) FROM messages
		 WHERE receiver_id = ? AND status != ?
		 GROUP BY sender_id`,
		readerID, string(message.StatusSeen))
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("scan unread: %w", err)
		}
		out[sender] = n
	}
	return out, rows.Err()
}

// AddReaction appends or replaces a user's emoji reaction on a message
// and returns the updated message.
func (d *DB) AddReaction(messageID, userID, emoji string) (*message.Message, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT reactions FROM messages WHERE id = ?`, messageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}

	var reactions []message.Reaction
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	// One reaction per user per message.
	replaced := false
	for i := range reactions {
		if reactions[i].UserID == userID {
			reactions[i].Emoji = emoji
			replaced = true
			break
		}
	}
	if !replaced {
		reactions = append(reactions, message.Reaction{UserID: userID, Emoji: emoji})
	}

	updated, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("encode reactions: %w", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET reactions = ? WHERE id = ?`,
		string(updated), messageID); err != nil {
		return nil, fmt.Errorf("store reactions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	msgs, err := d.queryMessages(
		`SELECT id, sender_id, receiver_id, group_id, text, image, status, reactions, created_at
		 FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return &msgs[0], nil
}

// ClearDirectHistory deletes the conversation between two users.
func (d *DB) ClearDirectHistory(a, b string) error {
	_, err := d.db.Exec(
		`DELETE FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		a, b, b, a)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
