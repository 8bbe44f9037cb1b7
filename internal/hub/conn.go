package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/huddle/internal/event"
)

// Conn is one live websocket connection. A connection belongs to at most
// one identity; pairing-mode connections start unowned.
type Conn struct {
	id        string
	userID    string
	sock      *websocket.Conn
	send      chan event.Envelope
	createdAt time.Time
	hub       *Hub

	mu     sync.Mutex
	closed bool
}

// ID returns the transport-assigned connection id, unique per process
// lifetime.
func (c *Conn) ID() string { return c.id }

// UserID returns the owning identity, empty for a pairing-mode connection.
func (c *Conn) UserID() string { return c.userID }

// CreatedAt returns the handshake time.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// push queues env for delivery. Non-blocking: a full buffer means the
// consumer stopped draining, and the connection is dropped rather than
// letting one slow client stall fan-out for everyone else.
func (c *Conn) push(env event.Envelope) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- env:
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		log.Printf("HUB: %s send buffer full, dropping connection", c.id[:8])
		go c.hub.drop(c)
		return false
	}
}

// readPump decodes inbound frames and hands them to the hub's event
// handler. A malformed frame is logged and skipped — one misbehaving
// connection never crashes the loop or affects others.
func (c *Conn) readPump() {
	defer c.hub.drop(c)

	c.sock.SetReadLimit(maxFrameBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("HUB: %s read error: %v", c.id[:8], err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("HUB: %s dropping malformed frame: %v", c.id[:8], err)
			continue
		}
		in, err := event.DecodeInbound(env)
		if err != nil {
			if errors.Is(err, event.ErrUnknownEvent) {
				log.Printf("HUB: %s dropping %v", c.id[:8], err)
			} else {
				log.Printf("HUB: %s dropping bad %s payload: %v", c.id[:8], env.Event, err)
			}
			continue
		}

		if c.hub.onEvent != nil {
			c.hub.onEvent(c, in)
		}
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.hub.drop(c)
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.sock.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
