// Package presence turns connection lifecycle into presence broadcasts:
// the online set goes out on every connect, and an identity's last-seen
// time is stamped and announced exactly once, when its final connection
// drops.
package presence

import (
	"log"
	"sort"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/registry"
)

// Broadcaster is the slice of the hub the presence service needs.
type Broadcaster interface {
	Broadcast(env event.Envelope) int
}

// LastSeenRecorder persists the last-seen stamp so it survives the
// process-local registry. Optional.
type LastSeenRecorder interface {
	SetLastSeen(userID string, millis int64) error
}

// Service owns all registry mutation. Nothing else registers or
// deregisters connections.
type Service struct {
	reg   registry.ConnectionRegistry
	out   Broadcaster
	store LastSeenRecorder
}

// New creates the presence service. store may be nil.
func New(reg registry.ConnectionRegistry, out Broadcaster, store LastSeenRecorder) *Service {
	return &Service{reg: reg, out: out, store: store}
}

// Connected registers a new authenticated connection and broadcasts the
// updated online set. Pairing-mode connections (empty userID) are not
// presence participants.
func (s *Service) Connected(connID, userID string) {
	if userID == "" {
		return
	}
	first := s.reg.Register(connID, userID)
	if first {
		log.Printf("PRESENCE: %s online", userID)
	}
	s.broadcastOnline()
}

// Disconnected deregisters a connection. On the identity's last drop it
// stamps last-seen, persists it, and announces the departure.
func (s *Service) Disconnected(connID string) {
	dep, ok := s.reg.Deregister(connID)
	if !ok {
		return
	}
	if !dep.WentOffline {
		return
	}

	log.Printf("PRESENCE: %s offline", dep.UserID)
	millis := dep.LastSeen.UnixMilli()
	if s.store != nil {
		if err := s.store.SetLastSeen(dep.UserID, millis); err != nil {
			log.Printf("PRESENCE: persist last-seen for %s: %v", dep.UserID, err)
		}
	}
	s.out.Broadcast(event.Must(event.UserOffline, event.UserOfflinePayload{
		UserID:   dep.UserID,
		LastSeen: millis,
	}))
	s.broadcastOnline()
}

func (s *Service) broadcastOnline() {
	ids := s.reg.OnlineIdentities()
	sort.Strings(ids)
	s.out.Broadcast(event.Must(event.OnlineUsers, event.OnlineUsersPayload(ids)))
}
