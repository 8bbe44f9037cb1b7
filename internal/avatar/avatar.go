// Package avatar stores user avatar images on disk, one file per user,
// with a content hash per image for cheap cache invalidation.
package avatar

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store manages avatar files under {dataDir}/avatars. The hash of every
// stored avatar is kept in memory so serving an ETag never touches disk.
type Store struct {
	mu     sync.RWMutex
	dir    string
	hashes map[string]string // userID -> hash
}

// NewStore creates an avatar store rooted at dataDir and indexes any
// avatars already on disk.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "avatars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("avatar dir: %w", err)
	}
	s := &Store{dir: dir, hashes: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".png") {
			continue
		}
		userID := strings.TrimSuffix(name, ".png")
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		s.hashes[userID] = hashBytes(data)
	}
	return s, nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+".png")
}

// Hash returns the current avatar hash for a user (16 hex chars), or ""
// when the user has no avatar.
func (s *Store) Hash(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[userID]
}

// Read returns the avatar bytes for a user, or nil when none exists.
func (s *Store) Read(userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Write stores a user's avatar and returns its hash.
func (s *Store) Write(userID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(userID), data, 0o644); err != nil {
		return "", err
	}
	h := hashBytes(data)
	s.hashes[userID] = h
	return h, nil
}

// Remove deletes a user's avatar. Removing an absent avatar is not an
// error.
func (s *Store) Remove(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, userID)
	err := os.Remove(s.path(userID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}
