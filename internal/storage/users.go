package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is returned when a lookup matches no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when a username already exists.
	ErrUsernameTaken = errors.New("username already taken")
)

// User is an account row. PasswordHash never leaves the server.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"fullName"`
	Avatar       string `json:"avatar,omitempty"`
	LastSeen     int64  `json:"lastSeen,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	PasswordHash string `json:"-"`
}

// CreateUser inserts a new account with a pre-hashed password.
func (d *DB) CreateUser(username, fullName, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     fullName,
		CreatedAt:    time.Now().UnixMilli(),
		PasswordHash: passwordHash,
	}
	_, err := d.db.Exec(
		`INSERT INTO users (id, username, full_name, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FullName, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UserByUsername looks a user up by username.
func (d *DB) UserByUsername(username string) (*User, error) {
	row := d.db.QueryRow(
		`SELECT id, username, full_name, password_hash, avatar, last_seen, created_at
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// UserByID looks a user up by id.
func (d *DB) UserByID(id string) (*User, error) {
	row := d.db.QueryRow(
		`SELECT id, username, full_name, password_hash, avatar, last_seen, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash,
		&u.Avatar, &u.LastSeen, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ListUsersExcept returns every account except the given one, for the
// contact sidebar.
func (d *DB) ListUsersExcept(id string) ([]User, error) {
	rows, err := d.db.Query(
		`SELECT id, username, full_name, avatar, last_seen, created_at
		 FROM users WHERE id != ? ORDER BY username`, id)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName,
			&u.Avatar, &u.LastSeen, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetAvatar updates a user's avatar image reference.
func (d *DB) SetAvatar(id, avatar string) error {
	_, err := d.db.Exec(`UPDATE users SET avatar = ? WHERE id = ?`, avatar, id)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return nil
}

// SetLastSeen records the moment a user's last connection dropped,
// in unix milliseconds.
func (d *DB) SetLastSeen(id string, millis int64) error {
	_, err := d.db.Exec(`UPDATE users SET last_seen = ? WHERE id = ?`, millis, id)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}
