package message

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Reaction is one emoji reaction attached to a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the canonical message record. The same shape is persisted by
// storage and pushed over the event channel — the relay never rewrites it.
// A message targets either a single receiver or a group, never both.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId,omitempty"`
	GroupID    string     `json:"groupId,omitempty"`
	Text       string     `json:"text,omitempty"`
	Image      string     `json:"image,omitempty"` // attachment reference, opaque to the core
	Status     Status     `json:"status"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	CreatedAt  int64      `json:"createdAt"` // unix millis

	// Pending marks a local optimistic entry that has not been confirmed by
	// the server yet. Client-side only, never serialized.
	Pending bool `json:"-"`
}

// NewDirect creates a 1:1 message from sender to receiver.
func NewDirect(sender, receiver, text, image string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		Image:      image,
		Status:     StatusSent,
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// NewGroup creates a group message from sender to every member of groupID.
func NewGroup(sender, groupID, text, image string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SenderID:  sender,
		GroupID:   groupID,
		Text:      text,
		Image:     image,
		Status:    StatusSent,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// ConversationWith returns the conversation key this message belongs to from
// the point of view of self: the group id for group messages, otherwise the
// other party.
func (m *Message) ConversationWith(self string) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Preview returns the sidebar summary line for this message.
func (m *Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Image != "" {
		return "📷 Photo"
	}
	return ""
}
