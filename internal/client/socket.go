package client

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/huddle/internal/event"
)

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
)

// Socket is one live websocket to the server. Pushed envelopes are fed
// into a SyncStore; Emit sends client events upstream. It implements
// Upstream.
type Socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the server's websocket endpoint with a session token,
// or with pairing access when token is empty.
func Dial(ctx context.Context, baseURL, token string) (*Socket, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	} else {
		q.Set("pairing", "1")
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	return &Socket{conn: conn, done: make(chan struct{})}, nil
}

// Run reads pushed envelopes into the store until the connection drops
// or ctx is cancelled. It blocks.
func (s *Socket) Run(ctx context.Context, store *SyncStore) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	for {
		var env event.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		store.OnPush(env)
	}
}

// Emit sends one envelope upstream.
func (s *Socket) Emit(env event.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("emit %s: %w", env.Event, err)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		if err := s.conn.Close(); err != nil {
			log.Printf("SYNC: close: %v", err)
		}
	})
}
