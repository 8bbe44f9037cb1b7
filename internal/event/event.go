// Package event defines the wire protocol of the bidirectional event
// channel: a closed set of named events per direction, each with a fixed
// payload shape. Both the hub (server) and the sync store (client) decode
// through this package, so an unknown or malformed frame is rejected in
// exactly one place.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/huddle/internal/message"
)

// Client → server event names.
const (
	Typing         = "typing"
	StopTyping     = "stopTyping"
	MarkSeen       = "markMessagesAsSeen"
	CallUser       = "call:user"
	CallAccepted   = "call:accepted"
	CallReject     = "call:reject"
	CallEnded      = "call:ended" // both directions
	ICECandidate   = "ice:candidate"
	PairingRequest = "pairing:request"
)

// Server → client event names. CallEnded, Typing and StopTyping are shared
// with the client → server set above.
const (
	OnlineUsers       = "getOnlineUsers"
	NewMessage        = "newMessage"
	MessagesSeen      = "messagesSeen"
	UserOffline       = "userOffline"
	CallIncoming      = "call:incoming"
	CallConnected     = "call:connected"
	CallRejected      = "call:rejected"
	CallFailed        = "call:failed"
	PairingCode       = "pairing:code"
	PairingAuthorized = "pairing:authorized"
)

// CallType is the requested media type of a call.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Valid reports whether t is one of the known call types.
func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

// Envelope is one frame on the socket: an event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Must builds an envelope from a payload that is known to marshal.
func Must(name string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("event: marshal %s: %v", name, err))
	}
	return Envelope{Event: name, Data: b}
}

// ErrUnknownEvent is returned for frames whose event name is not part of
// the protocol for the decoded direction.
var ErrUnknownEvent = errors.New("unknown event")

// Inbound is implemented by every client → server payload variant.
type Inbound interface{ inbound() }

// TypingPayload carries typing / stopTyping toward a receiver.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
	// Stop distinguishes stopTyping after decoding. Not on the wire; the
	// event name is.
	Stop bool `json:"-"`
}

// MarkSeenPayload acknowledges all messages from SenderID as seen.
type MarkSeenPayload struct {
	SenderID string `json:"senderId"`
}

// CallUserPayload initiates a call: the caller's SDP offer for To.
type CallUserPayload struct {
	To    string                    `json:"to"`
	Offer webrtc.SessionDescription `json:"offer"`
	Type  CallType                  `json:"type"`
}

// CallAcceptedPayload answers a ringing call with the callee's SDP answer.
type CallAcceptedPayload struct {
	To  string                    `json:"to"`
	Ans webrtc.SessionDescription `json:"ans"`
}

// CallTargetPayload addresses call:reject and call:ended at the other party.
type CallTargetPayload struct {
	To string `json:"to"`
}

// ICECandidatePayload relays one ICE candidate to the other party. The
// candidate is forwarded verbatim; the core never inspects it.
type ICECandidatePayload struct {
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PairingRequestPayload asks for a pairing code on an unauthenticated
// connection. It has no fields.
type PairingRequestPayload struct{}

func (TypingPayload) inbound()         {}
func (MarkSeenPayload) inbound()       {}
func (CallUserPayload) inbound()       {}
func (CallAcceptedPayload) inbound()   {}
func (CallTargetPayload) inbound()     {}
func (ICECandidatePayload) inbound()   {}
func (PairingRequestPayload) inbound() {}

// CallRejectPayload and CallEndPayload give call:reject and call:ended
// distinct types so a dispatch switch stays exhaustive.
type CallRejectPayload CallTargetPayload

func (CallRejectPayload) inbound() {}

// DecodeInbound parses one client → server frame into its typed variant.
func DecodeInbound(env Envelope) (Inbound, error) {
	switch env.Event {
	case Typing, StopTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		p.Stop = env.Event == StopTyping
		return p, nil
	case MarkSeen:
		var p MarkSeenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallUser:
		var p CallUserPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if !p.Type.Valid() {
			return nil, fmt.Errorf("decode %s: bad call type %q", env.Event, p.Type)
		}
		return p, nil
	case CallAccepted:
		var p CallAcceptedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallReject:
		var p CallRejectPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallEnded:
		var p CallTargetPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case ICECandidate:
		var p ICECandidatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case PairingRequest:
		return PairingRequestPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Server → client payloads.

// TypingNotice tells the receiver who is typing.
type TypingNotice struct {
	SenderID string `json:"senderId"`
}

// MessagesSeenPayload tells a message author that ReceiverID has read the
// conversation.
type MessagesSeenPayload struct {
	ReceiverID string `json:"receiverId"`
}

// UserOfflinePayload announces an identity going fully offline.
type UserOfflinePayload struct {
	UserID   string `json:"userId"`
	LastSeen int64  `json:"lastSeen"` // unix millis
}

// CallIncomingPayload rings the callee with the caller's offer.
type CallIncomingPayload struct {
	From  string                    `json:"from"`
	Offer webrtc.SessionDescription `json:"offer"`
	Type  CallType                  `json:"type"`
}

// CallConnectedPayload delivers the callee's answer to the caller.
type CallConnectedPayload struct {
	Ans webrtc.SessionDescription `json:"ans"`
}

// CallFailedPayload reports that a call could not be placed, so the
// caller's UI never hangs in "calling".
type CallFailedPayload struct {
	Reason string `json:"reason"`
}

// PairingCodePayload delivers a short-lived pairing code to the connection
// that requested it.
type PairingCodePayload struct {
	PairingCode string `json:"pairingCode"`
}

// PairingAuthorizedPayload delivers the single-use pairing token after an
// authenticated device confirmed the code.
type PairingAuthorizedPayload struct {
	PairingToken string `json:"pairingToken"`
}

// Outbound is implemented by every server → client payload variant that
// the client sync store reconciles.
type Outbound interface{ outbound() }

// OnlineUsersPayload is the full set of online identities. The whole set is
// broadcast on every presence change, as the original protocol does.
type OnlineUsersPayload []string

func (OnlineUsersPayload) outbound()      {}
func (TypingNotice) outbound()            {}
func (MessagesSeenPayload) outbound()     {}
func (UserOfflinePayload) outbound()      {}
func (CallIncomingPayload) outbound()     {}
func (CallConnectedPayload) outbound()    {}
func (CallFailedPayload) outbound()       {}
func (PairingCodePayload) outbound()      {}
func (PairingAuthorizedPayload) outbound() {}

// NewMessagePayload carries the full message record.
type NewMessagePayload struct {
	message.Message
}

func (NewMessagePayload) outbound() {}

// CallRejectedPayload and CallEndedPayload have no fields; the event name
// is the information.
type CallRejectedPayload struct{}
type CallEndedPayload struct{}

func (CallRejectedPayload) outbound() {}
func (CallEndedPayload) outbound()    {}

// StopTypingNotice mirrors TypingNotice for the stopTyping event.
type StopTypingNotice TypingNotice

func (StopTypingNotice) outbound() {}

// ICECandidateNotice is a relayed ICE candidate. From identifies the sender
// so multi-call clients can route it.
type ICECandidateNotice struct {
	From      string                  `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (ICECandidateNotice) outbound() {}

// DecodeOutbound parses one server → client frame into its typed variant.
func DecodeOutbound(env Envelope) (Outbound, error) {
	switch env.Event {
	case OnlineUsers:
		var p OnlineUsersPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case NewMessage:
		var p NewMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case MessagesSeen:
		var p MessagesSeenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case Typing:
		var p TypingNotice
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case StopTyping:
		var p StopTypingNotice
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case UserOffline:
		var p UserOfflinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallIncoming:
		var p CallIncomingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallConnected:
		var p CallConnectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallRejected:
		return CallRejectedPayload{}, nil
	case CallEnded:
		return CallEndedPayload{}, nil
	case ICECandidate:
		var p ICECandidateNotice
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case CallFailed:
		var p CallFailedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case PairingCode:
		var p PairingCodePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	case PairingAuthorized:
		var p PairingAuthorizedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}
