// Package pairing promotes an unauthenticated connection into an
// authenticated session: a short-lived code is bound to the requesting
// connection, an already-authenticated device confirms it, and a
// single-use token is pushed back down the original connection.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/petervdpas/huddle/internal/event"
)

// Sender pushes envelopes to a single connection.
type Sender interface {
	SendTo(connID string, env event.Envelope) bool
}

// SessionIssuer exchanges a redeemed pairing for a durable session token.
// Backed by the auth layer.
type SessionIssuer interface {
	IssueSession(userID string) (string, error)
}

// Reportable pairing failures. Confirm and Redeem distinguish every case
// so the UI can say exactly what went wrong instead of a generic error.
var (
	ErrCodeNotFound  = errors.New("pairing code not found")
	ErrCodeExpired   = errors.New("pairing code expired")
	ErrCodeUsed      = errors.New("pairing code already used")
	ErrOriginGone    = errors.New("pairing device disconnected")
	ErrTokenNotFound = errors.New("pairing token not found")
	ErrTokenExpired  = errors.New("pairing token expired")
	ErrTokenUsed     = errors.New("pairing token already used")
)

type state int

const (
	statePending state = iota
	stateConfirmed
	stateConsumed
)

// Session is one pairing attempt, bound to the connection that asked for
// the code.
type Session struct {
	Code      string
	ConnID    string
	UserID    string // set on confirm
	Token     string // set on confirm
	CreatedAt time.Time
	ExpiresAt time.Time

	state state
}

// Options tune the pairing windows.
type Options struct {
	CodeTTL  time.Duration // how long a code may be confirmed
	TokenTTL time.Duration // how long a confirmed token may be redeemed
}

func (o *Options) fill() {
	if o.CodeTTL <= 0 {
		o.CodeTTL = 60 * time.Second
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 2 * time.Minute
	}
}

// Coordinator owns every pairing session in the process. Sessions are
// kept past their logical expiry (cache retention is a multiple of the
// TTL) so an expired code is reported as expired, not as unknown.
type Coordinator struct {
	send  Sender
	issue SessionIssuer
	opt   Options

	mu     sync.Mutex
	codes  *ttlcache.Cache[string, *Session]
	tokens *ttlcache.Cache[string, *Session]
}

// New creates a coordinator and starts its expiry loops.
func New(send Sender, issue SessionIssuer, opt Options) *Coordinator {
	opt.fill()
	c := &Coordinator{
		send:  send,
		issue: issue,
		opt:   opt,
		codes: ttlcache.New[string, *Session](
			ttlcache.WithTTL[string, *Session](opt.CodeTTL*5),
			ttlcache.WithDisableTouchOnHit[string, *Session](),
		),
		tokens: ttlcache.New[string, *Session](
			ttlcache.WithTTL[string, *Session](opt.TokenTTL*5),
			ttlcache.WithDisableTouchOnHit[string, *Session](),
		),
	}
	go c.codes.Start()
	go c.tokens.Start()
	return c
}

// Close stops the expiry loops.
func (c *Coordinator) Close() {
	c.codes.Stop()
	c.tokens.Stop()
}

// Initiate creates a pending session bound to connID and pushes the code
// down that connection.
func (c *Coordinator) Initiate(connID string) (*Session, error) {
	c.mu.Lock()
	code, err := c.newCodeLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	s := &Session{
		Code:      code,
		ConnID:    connID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.opt.CodeTTL),
		state:     statePending,
	}
	c.codes.Set(code, s, ttlcache.DefaultTTL)
	c.mu.Unlock()

	if !c.send.SendTo(connID, event.Must(event.PairingCode, event.PairingCodePayload{PairingCode: code})) {
		c.mu.Lock()
		c.codes.Delete(code)
		c.mu.Unlock()
		return nil, ErrOriginGone
	}
	log.Printf("PAIR: code issued to %s", connID[:8])
	return s, nil
}

// Confirm is called by an already-authenticated identity that entered the
// code. On success the single-use token is pushed down the original,
// still-open connection; if that connection has since closed the
// confirmation fails loudly so the confirming device never assumes
// success.
func (c *Coordinator) Confirm(code, userID string) error {
	c.mu.Lock()
	item := c.codes.Get(code)
	if item == nil {
		c.mu.Unlock()
		return ErrCodeNotFound
	}
	s := item.Value()
	switch {
	case s.state != statePending:
		c.mu.Unlock()
		return ErrCodeUsed
	case time.Now().After(s.ExpiresAt):
		c.mu.Unlock()
		return ErrCodeExpired
	}
	s.state = stateConfirmed
	s.UserID = userID
	s.Token = uuid.NewString()
	s.ExpiresAt = time.Now().Add(c.opt.TokenTTL)
	c.tokens.Set(s.Token, s, ttlcache.DefaultTTL)
	c.mu.Unlock()

	ok := c.send.SendTo(s.ConnID, event.Must(event.PairingAuthorized, event.PairingAuthorizedPayload{
		PairingToken: s.Token,
	}))
	if !ok {
		c.mu.Lock()
		c.codes.Delete(code)
		c.tokens.Delete(s.Token)
		c.mu.Unlock()
		return ErrOriginGone
	}
	log.Printf("PAIR: code confirmed by %s for connection %s", userID, s.ConnID[:8])
	return nil
}

// Redeem exchanges the pushed token for a durable session exactly once.
// The second attempt with the same token fails with ErrTokenUsed — this
// token grants account access, so at-most-once consumption is a hard
// invariant, not a best effort.
func (c *Coordinator) Redeem(token string) (sessionToken, userID string, err error) {
	c.mu.Lock()
	item := c.tokens.Get(token)
	if item == nil {
		c.mu.Unlock()
		return "", "", ErrTokenNotFound
	}
	s := item.Value()
	switch {
	case s.state == stateConsumed:
		c.mu.Unlock()
		return "", "", ErrTokenUsed
	case time.Now().After(s.ExpiresAt):
		c.mu.Unlock()
		return "", "", ErrTokenExpired
	}
	c.mu.Unlock()

	// Issue first, consume after: a transient issuer failure must not
	// burn the token. The re-check below keeps consumption at-most-once
	// when two redeems race; the loser's session is discarded unused.
	sessionToken, err = c.issue.IssueSession(s.UserID)
	if err != nil {
		return "", "", fmt.Errorf("issue session: %w", err)
	}

	c.mu.Lock()
	if s.state == stateConsumed {
		c.mu.Unlock()
		return "", "", ErrTokenUsed
	}
	s.state = stateConsumed
	c.mu.Unlock()

	log.Printf("PAIR: token redeemed for %s", s.UserID)
	return sessionToken, s.UserID, nil
}

// ConnClosed invalidates pending sessions bound to a closed connection;
// their codes can no longer deliver anything.
func (c *Coordinator) ConnClosed(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for code, item := range c.codes.Items() {
		s := item.Value()
		if s.ConnID == connID && s.state == statePending {
			c.codes.Delete(code)
		}
	}
}

// newCodeLocked draws a 6-digit code, matching what the linking UI
// collects. The short form is acceptable because a code lives for one
// confirmation window, is bound to a single connection, and dies on
// first use; the redeemable token is a full UUID.
func (c *Coordinator) newCodeLocked() (string, error) {
	for range 5 {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if c.codes.Get(code) == nil {
			return code, nil
		}
	}
	return "", errors.New("pairing code space exhausted, try again")
}
