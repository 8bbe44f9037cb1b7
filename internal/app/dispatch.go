package app

import (
	"log"

	"github.com/petervdpas/huddle/internal/callsig"
	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/hub"
	"github.com/petervdpas/huddle/internal/pairing"
	"github.com/petervdpas/huddle/internal/presence"
	"github.com/petervdpas/huddle/internal/relay"
	"github.com/petervdpas/huddle/internal/storage"
)

// wireHub routes connection lifecycle and decoded client events to the
// coordinators.
func wireHub(h *hub.Hub, db *storage.DB, pres *presence.Service,
	rel *relay.Relay, calls *callsig.Coordinator, pair *pairing.Coordinator) {

	onConnect := func(c *hub.Conn) {
		pres.Connected(c.ID(), c.UserID())
	}

	// The registry must reflect the departure before call teardown runs:
	// a ringing callee ends only when no connection of theirs remains.
	onDisconnect := func(c *hub.Conn) {
		pres.Disconnected(c.ID())
		calls.ConnClosed(c.ID(), c.UserID())
		pair.ConnClosed(c.ID())
	}

	onEvent := func(c *hub.Conn, in event.Inbound) {
		// Pairing-mode connections have no identity; the only thing
		// they may do is ask for a code.
		if c.UserID() == "" {
			if _, ok := in.(event.PairingRequestPayload); ok {
				if _, err := pair.Initiate(c.ID()); err != nil {
					log.Printf("PAIR: initiate: %v", err)
				}
			}
			return
		}

		switch p := in.(type) {
		case event.TypingPayload:
			rel.RelayTyping(c.UserID(), p.ReceiverID, !p.Stop)
		case event.MarkSeenPayload:
			n, err := db.MarkSeen(p.SenderID, c.UserID())
			if err != nil {
				log.Printf("CHAT: mark seen: %v", err)
				return
			}
			if n > 0 {
				rel.RelaySeen(c.UserID(), p.SenderID)
			}
		case event.CallUserPayload:
			calls.HandleCallUser(c.ID(), c.UserID(), p)
		case event.CallAcceptedPayload:
			calls.HandleAccept(c.ID(), c.UserID(), p)
		case event.CallRejectPayload:
			calls.HandleReject(c.ID(), c.UserID(), p)
		case event.CallTargetPayload:
			calls.HandleEnded(c.ID(), c.UserID(), p)
		case event.ICECandidatePayload:
			calls.HandleICE(c.ID(), c.UserID(), p)
		case event.PairingRequestPayload:
			if _, err := pair.Initiate(c.ID()); err != nil {
				log.Printf("PAIR: initiate: %v", err)
			}
		default:
			log.Printf("HUB: no handler for %T", in)
		}
	}

	h.SetHandlers(onConnect, onDisconnect, onEvent)
}
