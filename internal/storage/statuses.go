package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrStatusNotFound is returned when a status id matches nothing live.
var ErrStatusNotFound = errors.New("status not found")

// statusLifetime is how long a status stays in the feed.
const statusLifetime = 24 * time.Hour

// Status is one story entry: an image, optional caption text, gone from
// the feed after a day.
type Status struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	CreatedAt int64  `json:"createdAt"`

	// Viewed says whether the requesting user opened this status.
	Viewed bool `json:"viewed"`
	// Viewers is filled only on the author's own statuses.
	Viewers []string `json:"viewers,omitempty"`
}

// StatusGroup is one feed row: a user and their live statuses, oldest
// first.
type StatusGroup struct {
	User     User     `json:"user"`
	Statuses []Status `json:"statuses"`
}

// InsertStatus stores a new status for userID. Expired statuses are
// pruned on the way in.
func (d *DB) InsertStatus(userID, text, image string) (*Status, error) {
	now := time.Now().UnixMilli()
	if _, err := d.db.Exec(
		`DELETE FROM statuses WHERE created_at <= ?`, now-statusLifetime.Milliseconds(),
	); err != nil {
		return nil, fmt.Errorf("prune statuses: %w", err)
	}

	s := &Status{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Image:     image,
		CreatedAt: now,
	}
	_, err := d.db.Exec(
		`INSERT INTO statuses (id, user_id, text, image, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Text, s.Image, s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert status: %w", err)
	}
	return s, nil
}

// MarkStatusViewed records that viewerID opened a status. Viewing twice
// is a no-op.
func (d *DB) MarkStatusViewed(statusID, viewerID string) error {
	var exists int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM statuses WHERE id = ? AND created_at > ?`,
		statusID, time.Now().UnixMilli()-statusLifetime.Milliseconds(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check status: %w", err)
	}
	if exists == 0 {
		return ErrStatusNotFound
	}
	_, err = d.db.Exec(
		`INSERT OR IGNORE INTO status_views (status_id, viewer_id, viewed_at)
		 VALUES (?, ?, ?)`,
		statusID, viewerID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	return nil
}

// StatusFeed returns every user's live statuses grouped per user, with
// the Viewed flag resolved for selfID and viewer lists on selfID's own
// statuses.
func (d *DB) StatusFeed(selfID string) ([]StatusGroup, error) {
	cutoff := time.Now().UnixMilli() - statusLifetime.Milliseconds()
	rows, err := d.db.Query(
		`SELECT s.id, s.user_id, s.text, s.image, s.created_at,
		        u.username, u.full_name, u.avatar, u.last_seen, u.created_at,
		        EXISTS(SELECT 1 FROM status_views v
		               WHERE v.status_id = s.id AND v.viewer_id = ?)
		 FROM statuses s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.created_at > ?
		 ORDER BY u.username, s.created_at, s.rowid`,
		selfID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("load status feed: %w", err)
	}
	defer rows.Close()

	feed := []StatusGroup{}
	for rows.Next() {
		var s Status
		var u User
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Text, &s.Image, &s.CreatedAt,
			&u.Username, &u.FullName, &u.Avatar, &u.LastSeen, &u.CreatedAt,
			&s.Viewed,
		); err != nil {
			return nil, err
		}
		u.ID = s.UserID
		if n := len(feed); n == 0 || feed[n-1].User.ID != u.ID {
			feed = append(feed, StatusGroup{User: u})
		}
		g := &feed[len(feed)-1]
		g.Statuses = append(g.Statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.fillStatusViewers(selfID, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// fillStatusViewers loads who viewed selfID's own statuses.
func (d *DB) fillStatusViewers(selfID string, feed []StatusGroup) error {
	var own *StatusGroup
	for i := range feed {
		if feed[i].User.ID == selfID {
			own = &feed[i]
			break
		}
	}
	if own == nil {
		return nil
	}

	rows, err := d.db.Query(
		`SELECT v.status_id, v.viewer_id
		 FROM status_views v
		 JOIN statuses s ON s.id = v.status_id
		 WHERE s.user_id = ?
		 ORDER BY v.viewed_at, v.rowid`,
		selfID,
	)
	if err != nil {
		return fmt.Errorf("load status viewers: %w", err)
	}
	defer rows.Close()

	viewers := make(map[string][]string)
	for rows.Next() {
		var statusID, viewerID string
		if err := rows.Scan(&statusID, &viewerID); err != nil {
			return err
		}
		viewers[statusID] = append(viewers[statusID], viewerID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range own.Statuses {
		own.Statuses[i].Viewers = viewers[own.Statuses[i].ID]
	}
	return nil
}
