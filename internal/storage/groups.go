package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrGroupNotFound is returned when a group id matches no row.
var ErrGroupNotFound = errors.New("group not found")

// Group is a named set of members. The owner is always a member.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OwnerID   string   `json:"ownerId"`
	CreatedAt int64    `json:"createdAt"`
	Members   []string `json:"members,omitempty"`
}

// CreateGroup creates a group and enrolls the owner plus the given
// members in one transaction.
func (d *DB) CreateGroup(name, ownerID string, members []string) (*Group, error) {
	g := &Group{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UnixMilli(),
	}

	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO groups (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.OwnerID, g.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}

	seen := map[string]bool{}
	for _, uid := range append([]string{ownerID}, members...) {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		if _, err := tx.Exec(
			`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`,
			g.ID, uid); err != nil {
			return nil, fmt.Errorf("insert member: %w", err)
		}
		g.Members = append(g.Members, uid)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return g, nil
}

// GroupByID loads a group with its member list.
func (d *DB) GroupByID(id string) (*Group, error) {
	var g Group
	err := d.db.QueryRow(
		`SELECT id, name, owner_id, created_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.Members, err = d.MemberIDs(id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// MemberIDs returns the user ids enrolled in a group.
func (d *DB) MemberIDs(groupID string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// GroupsFor returns every group a user belongs to.
func (d *DB) GroupsFor(userID string) ([]Group, error) {
	rows, err := d.db.Query(
		`SELECT g.id, g.name, g.owner_id, g.created_at
		 FROM groups g JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = ? ORDER BY g.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Members, err = d.MemberIDs(out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IsMember reports whether a user belongs to a group.
func (d *DB) IsMember(groupID, userID string) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return n > 0, nil
}
