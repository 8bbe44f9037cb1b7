// Package callsig relays the call-signaling handshake between exactly two
// identities: offer, answer, ICE candidates, accept/reject/end. SDP and
// candidate payloads are opaque to the coordinator and relayed verbatim;
// the media path itself never touches the server.
package callsig

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/huddle/internal/event"
)

// Signaler is the slice of the hub the coordinator pushes through.
type Signaler interface {
	SendTo(connID string, env event.Envelope) bool
	SendToUser(userID string, env event.Envelope) int
}

// Roster answers reachability questions. A subset of the connection
// registry, declared here so tests can use a fixture.
type Roster interface {
	ConnectionsFor(userID string) []string
}

// State of a call session. A session in a terminal state is removed, so
// only the live states exist as values.
type State string

const (
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

// Session is one active call between a caller and a callee. Each identity
// participates in at most one session at a time.
type Session struct {
	ID        string
	Caller    string
	Callee    string
	Type      event.CallType
	State     State
	CreatedAt time.Time

	// callerConn is the connection that placed the call, calleeConn the
	// one that accepted it (empty while ringing). A call rings on every
	// device of the callee, but once a connection carries the call,
	// losing it ends the call.
	callerConn string
	calleeConn string
}

// Coordinator owns all call sessions in the process.
type Coordinator struct {
	sig Signaler
	reg Roster

	mu     sync.Mutex
	byUser map[string]*Session // both parties map to the same session
}

// New creates a coordinator.
func New(sig Signaler, reg Roster) *Coordinator {
	return &Coordinator{
		sig:    sig,
		reg:    reg,
		byUser: make(map[string]*Session),
	}
}

// SessionFor returns the active session userID participates in, if any.
func (c *Coordinator) SessionFor(userID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// HandleCallUser places a call from the connection connID owned by from.
// An unreachable or busy callee fails immediately back to the caller —
// the caller's UI must never hang in "calling" for a call that cannot
// ring.
func (c *Coordinator) HandleCallUser(connID, from string, p event.CallUserPayload) {
	fail := func(reason string) {
		c.sig.SendTo(connID, event.Must(event.CallFailed, event.CallFailedPayload{Reason: reason}))
		log.Printf("CALL: %s → %s failed: %s", from, p.To, reason)
	}

	if p.To == "" || p.To == from {
		fail("invalid callee")
		return
	}
	if len(c.reg.ConnectionsFor(p.To)) == 0 {
		fail("user unavailable")
		return
	}

	c.mu.Lock()
	if _, busy := c.byUser[from]; busy {
		c.mu.Unlock()
		fail("already in a call")
		return
	}
	if _, busy := c.byUser[p.To]; busy {
		c.mu.Unlock()
		fail("user busy")
		return
	}
	s := &Session{
		ID:         uuid.NewString(),
		Caller:     from,
		Callee:     p.To,
		Type:       p.Type,
		State:      StateRinging,
		CreatedAt:  time.Now(),
		callerConn: connID,
	}
	c.byUser[from] = s
	c.byUser[p.To] = s
	c.mu.Unlock()

	n := c.sig.SendToUser(p.To, event.Must(event.CallIncoming, event.CallIncomingPayload{
		From:  from,
		Offer: p.Offer,
		Type:  p.Type,
	}))
	if n == 0 {
		// The callee vanished between the reachability check and the
		// push. Same outcome as unreachable.
		c.remove(s)
		fail("user unavailable")
		return
	}
	log.Printf("CALL: %s ringing %s on %d device(s) (%s)", from, p.To, n, p.Type)
}

// HandleAccept answers a ringing call. First accept wins: the answering
// connection becomes the carrying one and every sibling device of the
// callee is told the call ended so it stops ringing.
func (c *Coordinator) HandleAccept(connID, from string, p event.CallAcceptedPayload) {
	c.mu.Lock()
	s, ok := c.byUser[from]
	if !ok || s.Callee != from || s.Caller != p.To || s.State != StateRinging {
		c.mu.Unlock()
		log.Printf("CALL: stray accept from %s ignored", from)
		return
	}
	s.State = StateConnected
	s.calleeConn = connID
	c.mu.Unlock()

	c.sig.SendTo(s.callerConn, event.Must(event.CallConnected, event.CallConnectedPayload{Ans: p.Ans}))
	for _, sibling := range c.reg.ConnectionsFor(from) {
		if sibling != connID {
			c.sig.SendTo(sibling, event.Must(event.CallEnded, event.CallEndedPayload{}))
		}
	}
	log.Printf("CALL: %s ↔ %s connected", s.Caller, s.Callee)
}

// HandleReject declines a ringing call; the caller is told explicitly.
func (c *Coordinator) HandleReject(connID, from string, p event.CallRejectPayload) {
	c.mu.Lock()
	s, ok := c.byUser[from]
	if !ok || s.Callee != from || s.State != StateRinging {
		c.mu.Unlock()
		return
	}
	c.removeLocked(s)
	c.mu.Unlock()

	c.sig.SendTo(s.callerConn, event.Must(event.CallRejected, event.CallRejectedPayload{}))
	log.Printf("CALL: %s rejected %s", from, s.Caller)
}

// HandleEnded hangs up from either side, in any state. While ringing this
// is the caller cancelling; the other party hears call:ended on every
// device so ringing UIs clear too.
func (c *Coordinator) HandleEnded(connID, from string, p event.CallTargetPayload) {
	c.mu.Lock()
	s, ok := c.byUser[from]
	if !ok {
		c.mu.Unlock()
		return
	}
	other := s.other(from)
	c.removeLocked(s)
	c.mu.Unlock()

	c.sig.SendToUser(other, event.Must(event.CallEnded, event.CallEndedPayload{}))
	log.Printf("CALL: %s ↔ %s ended by %s", s.Caller, s.Callee, from)
}

// HandleICE relays one candidate to the other party, verbatim. Order is
// preserved per sender by the per-connection send queues; no cross-party
// ordering is promised.
func (c *Coordinator) HandleICE(connID, from string, p event.ICECandidatePayload) {
	c.mu.Lock()
	s, ok := c.byUser[from]
	if !ok || s.other(from) != p.To {
		c.mu.Unlock()
		log.Printf("CALL: dropping ICE candidate from %s outside any call", from)
		return
	}
	target := ""
	if s.State == StateConnected {
		if p.To == s.Caller {
			target = s.callerConn
		} else {
			target = s.calleeConn
		}
	}
	c.mu.Unlock()

	env := event.Must(event.ICECandidate, event.ICECandidateNotice{From: from, Candidate: p.Candidate})
	if target != "" {
		c.sig.SendTo(target, env)
		return
	}
	// Still ringing: the callee's devices buffer candidates until one of
	// them answers.
	c.sig.SendToUser(p.To, env)
}

// ConnClosed tears down any call the closing connection was involved in,
// so an unclean disconnect never leaves the other party hanging. Must be
// called after the registry has deregistered the connection.
func (c *Coordinator) ConnClosed(connID, userID string) {
	if userID == "" {
		return
	}

	c.mu.Lock()
	s, ok := c.byUser[userID]
	if !ok {
		c.mu.Unlock()
		return
	}

	end := false
	switch s.State {
	case StateConnected:
		// Only losing the carrying connection kills a connected call.
		end = connID == s.callerConn || connID == s.calleeConn
	case StateRinging:
		if userID == s.Caller {
			end = connID == s.callerConn
		} else {
			// The callee rings on every device; the call survives until
			// the last one is gone.
			end = len(c.reg.ConnectionsFor(userID)) == 0
		}
	}
	if !end {
		c.mu.Unlock()
		return
	}
	other := s.other(userID)
	c.removeLocked(s)
	c.mu.Unlock()

	c.sig.SendToUser(other, event.Must(event.CallEnded, event.CallEndedPayload{}))
	log.Printf("CALL: %s ↔ %s ended, %s disconnected", s.Caller, s.Callee, userID)
}

func (s *Session) other(userID string) string {
	if userID == s.Caller {
		return s.Callee
	}
	return s.Caller
}

func (c *Coordinator) remove(s *Session) {
	c.mu.Lock()
	c.removeLocked(s)
	c.mu.Unlock()
}

// removeLocked deletes both directions of the session mapping, guarding
// against a newer session having replaced an entry.
func (c *Coordinator) removeLocked(s *Session) {
	if cur, ok := c.byUser[s.Caller]; ok && cur == s {
		delete(c.byUser, s.Caller)
	}
	if cur, ok := c.byUser[s.Callee]; ok && cur == s {
		delete(c.byUser, s.Callee)
	}
}
