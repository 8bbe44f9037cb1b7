// Package client holds the connection-side state a chat frontend renders
// from: the ordered conversation list, message logs, presence, typing
// indicators and unread counters, reconciled against pushed events.
package client

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/message"
)

// typingTTL is how long a typing indicator stays lit without a fresh
// typing event.
const typingTTL = 2 * time.Second

// Upstream sends client events back to the server.
type Upstream interface {
	Emit(env event.Envelope) error
}

// Conversation is one sidebar row. Key is the peer user id for direct
// chats or the group id for group chats.
type Conversation struct {
	Key           string
	IsGroup       bool
	LastMessage   *message.Message
	LastMessageAt int64
	Unread        int
}

// ChangeKind says what part of the store a change touched.
type ChangeKind int

const (
	ChangeConversations ChangeKind = iota + 1
	ChangeMessages
	ChangePresence
	ChangeTyping
	ChangeSeen
	ChangeCall
	ChangePairing
)

// Change is pushed to subscribers after the store mutates.
type Change struct {
	Kind ChangeKind
	// Conv is the affected conversation key, when one applies.
	Conv string
	// Payload carries the raw server payload for call and pairing
	// changes, which the store forwards rather than folds in.
	Payload event.Outbound
}

type typingKey struct {
	Conv string
	User string
}

// SyncStore reconciles pushed events into renderable state.
type SyncStore struct {
	selfID string
	up     Upstream

	mu sync.Mutex

	// Sidebar order, most recent first. index gives O(1) lookup into it.
	order []*Conversation
	index map[string]int

	logs  map[string][]message.Message
	seen  map[string]struct{} // message ids already applied
	local map[string]string   // local pending id -> conversation key

	online map[string]struct{}
	active string

	typing *ttlcache.Cache[typingKey, struct{}]

	stopTyping map[string]*time.Timer // receiver -> pending stopTyping

	subs map[chan Change]struct{}
}

// NewSyncStore creates a store for the given identity. up may be nil for
// a read-only store (tests, replays).
func NewSyncStore(selfID string, up Upstream) *SyncStore {
	s := &SyncStore{
		selfID:     selfID,
		up:         up,
		index:      make(map[string]int),
		logs:       make(map[string][]message.Message),
		seen:       make(map[string]struct{}),
		local:      make(map[string]string),
		online:     make(map[string]struct{}),
		stopTyping: make(map[string]*time.Timer),
		subs:       make(map[chan Change]struct{}),
		typing: ttlcache.New[typingKey, struct{}](
			ttlcache.WithTTL[typingKey, struct{}](typingTTL),
			ttlcache.WithDisableTouchOnHit[typingKey, struct{}](),
		),
	}
	s.typing.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[typingKey, struct{}]) {
		s.notify(Change{Kind: ChangeTyping, Conv: item.Key().Conv})
	})
	go s.typing.Start()
	return s
}

// Close stops the typing expiry loop.
func (s *SyncStore) Close() {
	s.typing.Stop()
}

// Subscribe returns a channel of change notifications. Call cancel when
// done. Slow subscribers lose changes rather than block the store.
func (s *SyncStore) Subscribe() (ch chan Change, cancel func()) {
	ch = make(chan Change, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel = func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *SyncStore) notify(c Change) {
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
	s.mu.Unlock()
}

// notifyLocked is notify for callers already holding s.mu.
func (s *SyncStore) notifyLocked(c Change) {
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// OnPush reconciles one pushed envelope. Unknown event names are logged
// and skipped so an older client survives a newer server.
func (s *SyncStore) OnPush(env event.Envelope) {
	out, err := event.DecodeOutbound(env)
	if err != nil {
		log.Printf("SYNC: dropping frame %q: %v", env.Event, err)
		return
	}

	switch p := out.(type) {
	case event.OnlineUsersPayload:
		s.applyOnline(p)
	case event.NewMessagePayload:
		s.applyMessage(p.Message)
	case event.MessagesSeenPayload:
		s.applySeen(p.ReceiverID)
	case event.TypingNotice:
		s.applyTyping(p.SenderID, true)
	case event.StopTypingNotice:
		s.applyTyping(p.SenderID, false)
	case event.UserOfflinePayload:
		s.applyOffline(p)
	case event.CallIncomingPayload, event.CallConnectedPayload,
		event.CallRejectedPayload, event.CallEndedPayload,
		event.CallFailedPayload, event.ICECandidateNotice:
		s.notify(Change{Kind: ChangeCall, Payload: out})
	case event.PairingCodePayload, event.PairingAuthorizedPayload:
		s.notify(Change{Kind: ChangePairing, Payload: out})
	default:
		log.Printf("SYNC: no handler for %q", env.Event)
	}
}

// --- presence ---

func (s *SyncStore) applyOnline(ids event.OnlineUsersPayload) {
	s.mu.Lock()
	s.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.online[id] = struct{}{}
	}
	s.notifyLocked(Change{Kind: ChangePresence})
	s.mu.Unlock()
}

func (s *SyncStore) applyOffline(p event.UserOfflinePayload) {
	s.mu.Lock()
	delete(s.online, p.UserID)
	s.notifyLocked(Change{Kind: ChangePresence, Conv: p.UserID})
	s.mu.Unlock()
}

// IsOnline reports whether a user currently has a live connection.
func (s *SyncStore) IsOnline(userID string) bool {
	s.mu.Lock()
	_, ok := s.online[userID]
	s.mu.Unlock()
	return ok
}

// Online returns the online user ids, sorted.
func (s *SyncStore) Online() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// --- messages ---

func (s *SyncStore) applyMessage(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A replayed or duplicated push must not double the log.
	if _, dup := s.seen[m.ID]; dup {
		return
	}
	s.seen[m.ID] = struct{}{}

	conv := s.conversationKey(&m)
	s.appendLocked(conv, m)

	c := s.bumpLocked(conv, &m)
	if m.SenderID != s.selfID && s.active != conv {
		c.Unread++
	}
	// An incoming message supersedes the sender's typing indicator.
	s.typing.Delete(typingKey{Conv: conv, User: m.SenderID})

	s.notifyLocked(Change{Kind: ChangeMessages, Conv: conv})
	s.notifyLocked(Change{Kind: ChangeConversations, Conv: conv})
}

func (s *SyncStore) conversationKey(m *message.Message) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.ConversationWith(s.selfID)
}

func (s *SyncStore) appendLocked(conv string, m message.Message) {
	s.logs[conv] = append(s.logs[conv], m)
}

// bumpLocked moves a conversation to the top of the sidebar, creating it
// if needed, and stamps the latest message.
func (s *SyncStore) bumpLocked(conv string, m *message.Message) *Conversation {
	var c *Conversation
	if i, ok := s.index[conv]; ok {
		c = s.order[i]
		// Splice out, unshift to the front.
		s.order = append(s.order[:i], s.order[i+1:]...)
	} else {
		c = &Conversation{Key: conv, IsGroup: m != nil && m.GroupID != ""}
	}
	if m != nil {
		c.LastMessage = m
		c.LastMessageAt = m.CreatedAt
	}
	s.order = append([]*Conversation{c}, s.order...)
	for i, e := range s.order {
		s.index[e.Key] = i
	}
	return c
}

// Conversations returns the sidebar rows, most recent first.
func (s *SyncStore) Conversations() []Conversation {
	s.mu.Lock()
	out := make([]Conversation, len(s.order))
	for i, c := range s.order {
		out[i] = *c
	}
	s.mu.Unlock()
	return out
}

// Messages returns a copy of a conversation's log, oldest first.
func (s *SyncStore) Messages(conv string) []message.Message {
	s.mu.Lock()
	src := s.logs[conv]
	out := make([]message.Message, len(src))
	copy(out, src)
	s.mu.Unlock()
	return out
}

// Unread returns the unread counter for one conversation.
func (s *SyncStore) Unread(conv string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[conv]; ok {
		return s.order[i].Unread
	}
	return 0
}

// LoadHistory seeds a conversation from fetched history, replacing any
// optimistic state. Pushed duplicates of these messages are ignored.
func (s *SyncStore) LoadHistory(conv string, isGroup bool, msgs []message.Message) {
	s.mu.Lock()
	s.logs[conv] = append([]message.Message(nil), msgs...)
	for i := range msgs {
		s.seen[msgs[i].ID] = struct{}{}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		c := s.bumpLocked(conv, &last)
		c.IsGroup = isGroup
	}
	s.notifyLocked(Change{Kind: ChangeMessages, Conv: conv})
	s.mu.Unlock()
}

// --- optimistic sends ---

// AppendPending records a locally created message before the server has
// confirmed it, so the UI shows it immediately.
func (s *SyncStore) AppendPending(m *message.Message) {
	s.mu.Lock()
	conv := s.conversationKey(m)
	pm := *m
	pm.Pending = true
	s.appendLocked(conv, pm)
	s.local[m.ID] = conv
	s.bumpLocked(conv, &pm)
	s.notifyLocked(Change{Kind: ChangeMessages, Conv: conv})
	s.notifyLocked(Change{Kind: ChangeConversations, Conv: conv})
	s.mu.Unlock()
}

// ConfirmPending swaps a pending entry for the server's version of the
// message, correlating by the local id.
func (s *SyncStore) ConfirmPending(localID string, confirmed *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.local[localID]
	if !ok {
		return
	}
	delete(s.local, localID)
	s.seen[confirmed.ID] = struct{}{}

	msgs := s.logs[conv]
	for i := range msgs {
		if msgs[i].ID == localID {
			msgs[i] = *confirmed
			break
		}
	}
	if i, ok := s.index[conv]; ok {
		c := s.order[i]
		if c.LastMessage != nil && c.LastMessage.ID == localID {
			c.LastMessage = confirmed
			c.LastMessageAt = confirmed.CreatedAt
		}
	}
	s.notifyLocked(Change{Kind: ChangeMessages, Conv: conv})
}

// FailPending rolls a pending entry back out of the log after the send
// was rejected.
func (s *SyncStore) FailPending(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.local[localID]
	if !ok {
		return
	}
	delete(s.local, localID)

	msgs := s.logs[conv]
	for i := range msgs {
		if msgs[i].ID == localID {
			s.logs[conv] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if i, ok := s.index[conv]; ok {
		c := s.order[i]
		if c.LastMessage != nil && c.LastMessage.ID == localID {
			c.LastMessage = nil
			if rest := s.logs[conv]; len(rest) > 0 {
				c.LastMessage = &rest[len(rest)-1]
				c.LastMessageAt = c.LastMessage.CreatedAt
			}
		}
	}
	s.notifyLocked(Change{Kind: ChangeMessages, Conv: conv})
	s.notifyLocked(Change{Kind: ChangeConversations, Conv: conv})
}

// --- seen / active conversation ---

func (s *SyncStore) applySeen(readerID string) {
	s.mu.Lock()
	msgs := s.logs[readerID]
	for i := range msgs {
		if msgs[i].SenderID == s.selfID {
			msgs[i].Status = message.StatusSeen
		}
	}
	s.notifyLocked(Change{Kind: ChangeSeen, Conv: readerID})
	s.mu.Unlock()
}

// SetActive marks a conversation as the one on screen. Its unread counter
// resets and, for direct chats, the peer's messages are acknowledged
// upstream. Pass "" when no conversation is open.
func (s *SyncStore) SetActive(conv string) {
	s.mu.Lock()
	s.active = conv
	var ack bool
	if i, ok := s.index[conv]; ok {
		c := s.order[i]
		if c.Unread > 0 && !c.IsGroup {
			ack = true
		}
		c.Unread = 0
	}
	s.notifyLocked(Change{Kind: ChangeConversations, Conv: conv})
	up := s.up
	s.mu.Unlock()

	if ack && up != nil {
		if err := up.Emit(event.Must(event.MarkSeen, event.MarkSeenPayload{SenderID: conv})); err != nil {
			log.Printf("SYNC: mark seen: %v", err)
		}
	}
}

// --- typing ---

func (s *SyncStore) applyTyping(senderID string, typing bool) {
	key := typingKey{Conv: senderID, User: senderID}
	if typing {
		s.typing.Set(key, struct{}{}, ttlcache.DefaultTTL)
	} else {
		s.typing.Delete(key)
	}
	s.notify(Change{Kind: ChangeTyping, Conv: senderID})
}

// IsTyping reports whether a user's typing indicator is currently lit.
func (s *SyncStore) IsTyping(userID string) bool {
	return s.typing.Has(typingKey{Conv: userID, User: userID})
}

// NotifyTyping tells the receiver this client is typing. Every keystroke
// emits again: the receiver's indicator only lives for typingTTL and a
// fresh typing event is what keeps it lit. The matching stopTyping is
// sent automatically after a pause, re-armed on every keystroke.
func (s *SyncStore) NotifyTyping(receiverID string) {
	s.mu.Lock()
	up := s.up
	if t, ok := s.stopTyping[receiverID]; ok {
		t.Reset(typingTTL)
	} else {
		s.stopTyping[receiverID] = time.AfterFunc(typingTTL, func() {
			s.mu.Lock()
			delete(s.stopTyping, receiverID)
			s.mu.Unlock()
			if up != nil {
				_ = up.Emit(event.Must(event.StopTyping, event.TypingPayload{ReceiverID: receiverID}))
			}
		})
	}
	s.mu.Unlock()

	if up != nil {
		if err := up.Emit(event.Must(event.Typing, event.TypingPayload{ReceiverID: receiverID})); err != nil {
			log.Printf("SYNC: typing: %v", err)
		}
	}
}
