// Package relay fans freshly persisted messages, typing indicators and
// read receipts out to the live connections of their targets. Delivery is
// deliberately fire-and-forget: an offline recipient simply misses the
// live push and catches up from storage on the next fetch.
package relay

import (
	"fmt"
	"log"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/message"
)

// Pusher is the slice of the hub the relay fans out through.
type Pusher interface {
	SendToUser(userID string, env event.Envelope) int
}

// GroupDirectory resolves group membership. Backed by storage; defined
// here so the relay can be tested with a fixture.
type GroupDirectory interface {
	MemberIDs(groupID string) ([]string, error)
}

// Relay pushes message-layer events between identities.
type Relay struct {
	push   Pusher
	groups GroupDirectory
}

// New creates a relay. groups may be nil when group messaging is disabled.
func New(push Pusher, groups GroupDirectory) *Relay {
	return &Relay{push: push, groups: groups}
}

// RelayNewMessage pushes m to every live connection of its targets: the
// single receiver for a direct message, or all group members minus the
// sender. The sender gets no push on this path — it already holds the
// record from its create call, and every pushed copy carries the stable
// message id so receiving stores can deduplicate.
func (r *Relay) RelayNewMessage(m *message.Message) error {
	targets, err := r.resolveTargets(m)
	if err != nil {
		return err
	}

	env := event.Must(event.NewMessage, event.NewMessagePayload{Message: *m})
	delivered := 0
	for _, id := range targets {
		delivered += r.push.SendToUser(id, env)
	}
	log.Printf("RELAY: message %s → %d target(s), %d connection(s)", m.ID[:8], len(targets), delivered)
	return nil
}

func (r *Relay) resolveTargets(m *message.Message) ([]string, error) {
	if m.GroupID == "" {
		if m.ReceiverID == "" {
			return nil, fmt.Errorf("message %s has no target", m.ID)
		}
		return []string{m.ReceiverID}, nil
	}

	if r.groups == nil {
		return nil, fmt.Errorf("message %s targets a group but no group directory is wired", m.ID)
	}
	members, err := r.groups.MemberIDs(m.GroupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", m.GroupID, err)
	}
	targets := make([]string, 0, len(members))
	for _, id := range members {
		if id != m.SenderID {
			targets = append(targets, id)
		}
	}
	return targets, nil
}

// RelayTyping pushes a typing or stopTyping notice to the receiver's
// connections. No persistence, no delivery guarantee — the receiving
// store self-expires the indicator anyway.
func (r *Relay) RelayTyping(senderID, receiverID string, typing bool) {
	name := event.Typing
	if !typing {
		name = event.StopTyping
	}
	r.push.SendToUser(receiverID, event.Must(name, event.TypingNotice{SenderID: senderID}))
}

// RelaySeen tells the author's open UIs that readerID has read the
// conversation. A hint only — the authoritative seen state lives in
// storage.
func (r *Relay) RelaySeen(readerID, authorID string) {
	r.push.SendToUser(authorID, event.Must(event.MessagesSeen, event.MessagesSeenPayload{ReceiverID: readerID}))
}
