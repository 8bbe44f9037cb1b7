// Package registry maps identities to their live connections. It is the
// single source of truth for presence: an identity is online iff it owns at
// least one registered connection.
package registry

import (
	"sync"
	"time"
)

// Departure is the presence-change signal emitted by Deregister.
type Departure struct {
	UserID string
	// WentOffline is true when this was the identity's last connection.
	WentOffline bool
	// LastSeen is stamped exactly once, at the 1→0 transition.
	LastSeen time.Time
}

// ConnectionRegistry is the presence directory consumed by every fan-out
// operation. The in-memory implementation below is strictly process-local;
// consumers must not assume more than this interface promises, so a shared
// store could back it later.
type ConnectionRegistry interface {
	// Register adds connID under userID. Idempotent per connID.
	// Returns true when the identity just came online.
	Register(connID, userID string) bool
	// Deregister removes connID, looked up by connection (the caller may
	// not know the owning identity). Returns ok=false for unknown ids.
	Deregister(connID string) (Departure, bool)
	// ConnectionsFor returns the open connection ids of userID, empty when
	// offline.
	ConnectionsFor(userID string) []string
	// OnlineIdentities returns every identity with at least one connection.
	OnlineIdentities() []string
}

// Memory is the in-memory ConnectionRegistry. All presence is lost on
// process restart and rebuilt as connections re-establish.
type Memory struct {
	mu    sync.Mutex
	conns map[string]string              // connID → userID
	users map[string]map[string]struct{} // userID → connID set

	now func() time.Time
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{
		conns: make(map[string]string),
		users: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

func (m *Memory) Register(connID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.conns[connID]; ok {
		// Re-registering the same connection is a no-op; a connection
		// never changes owner.
		_ = owner
		return false
	}
	m.conns[connID] = userID

	set, ok := m.users[userID]
	if !ok {
		set = make(map[string]struct{})
		m.users[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

func (m *Memory) Deregister(connID string) (Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.conns[connID]
	if !ok {
		return Departure{}, false
	}
	delete(m.conns, connID)

	dep := Departure{UserID: userID}
	if set, ok := m.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.users, userID)
			dep.WentOffline = true
			dep.LastSeen = m.now()
		}
	}
	return dep, true
}

func (m *Memory) ConnectionsFor(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.users[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (m *Memory) OnlineIdentities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	return out
}

// owner returns the identity that owns connID, if any.
func (m *Memory) owner(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.conns[connID]
	return id, ok
}
