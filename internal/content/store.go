// Package content stores message image attachments on disk, addressed by
// content hash. A re-sent image is stored once; messages carry only the id.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotFound = errors.New("attachment not found")
	ErrBadID    = errors.New("invalid attachment id")
	ErrTooLarge = errors.New("attachment too large")
)

// MaxBytes caps a single attachment. Images above this are rejected at
// upload time.
const MaxBytes = 5 << 20

// idLen is the attachment id length: the first 16 bytes of the sha256,
// hex encoded.
const idLen = 32

// Store is a flat content-addressed file store.
type Store struct {
	root string
}

// NewStore creates an attachment store under {dataDir}/attachments.
func NewStore(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "attachments")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("attachment dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Put stores data and returns its id. Storing the same bytes twice
// returns the same id without rewriting the file.
func (s *Store) Put(data []byte) (string, error) {
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}
	id := hashID(data)
	p := s.path(id)
	if _, err := os.Stat(p); err == nil {
		return id, nil
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return id, nil
}

// Read returns the attachment bytes for id.
func (s *Store) Read(id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrBadID
	}
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Exists reports whether id is stored.
func (s *Store) Exists(id string) bool {
	if !validID(id) {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id)
}

// validID rejects anything that is not a bare fixed-length hex id, so an
// id can never escape the root.
func validID(id string) bool {
	if len(id) != idLen {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func hashID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:idLen/2])
}
