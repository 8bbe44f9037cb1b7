// Package hub owns the server side of the event channel: one Conn per live
// websocket, a registry of open connections, and the push primitives every
// coordinator fans out through (single connection, all connections of an
// identity, or broadcast).
//
// Pushes are fire-and-forget: delivery is best-effort and at-most-once per
// connection per call. Durability is the storage layer's job; the hub only
// accelerates real-time delivery.
package hub

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petervdpas/huddle/internal/event"
	"github.com/petervdpas/huddle/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameBytes  = 1 << 20
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers and linked devices connect from arbitrary origins; session
	// auth happens in Authenticate, not via the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authenticator resolves the handshake: the owning identity (empty for a
// pairing-mode connection) or an error that rejects the upgrade.
type Authenticator func(r *http.Request) (userID string, pairing bool, err error)

// Hub multiplexes live connections and routes their inbound events.
type Hub struct {
	reg  registry.ConnectionRegistry
	auth Authenticator

	mu    sync.RWMutex
	conns map[string]*Conn

	// onConnect fires after the connection is registered; onDisconnect
	// after it is deregistered. onEvent receives every decoded inbound
	// frame. All three are set once, before Serve is reachable.
	onConnect    func(c *Conn)
	onDisconnect func(c *Conn)
	onEvent      func(c *Conn, in event.Inbound)
}

// New creates a hub over reg. Handlers are wired with SetHandlers before
// the websocket route goes live.
func New(reg registry.ConnectionRegistry, auth Authenticator) *Hub {
	return &Hub{
		reg:   reg,
		auth:  auth,
		conns: make(map[string]*Conn),
	}
}

// SetHandlers wires the lifecycle and event callbacks. Nil callbacks are
// allowed and skipped.
func (h *Hub) SetHandlers(onConnect, onDisconnect func(c *Conn), onEvent func(c *Conn, in event.Inbound)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
	h.onEvent = onEvent
}

// ServeWS upgrades an HTTP request into a live connection and blocks until
// the write pump exits.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, pairing, err := h.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if userID == "" && !pairing {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("HUB: upgrade failed: %v", err)
		return
	}

	c := &Conn{
		id:        uuid.NewString(),
		userID:    userID,
		sock:      sock,
		send:      make(chan event.Envelope, sendBufferSize),
		createdAt: time.Now(),
		hub:       h,
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	log.Printf("HUB: connected %s (user=%s pairing=%v)", c.id[:8], userID, pairing)
	if h.onConnect != nil {
		h.onConnect(c)
	}

	go c.readPump()
	c.writePump()
}

// drop removes c from the hub and fires the disconnect handler. Idempotent.
func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	_, open := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !open {
		return
	}

	// close(send) and sends into it are both serialized on c.mu, so the
	// write pump sees a clean shutdown and push can never hit a closed
	// channel.
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.sock.Close()
	log.Printf("HUB: disconnected %s (user=%s)", c.id[:8], c.userID)
	if h.onDisconnect != nil {
		h.onDisconnect(c)
	}
}

// SendTo pushes one envelope to a single connection. Returns false when the
// connection is gone or its buffer is full (the slow consumer is dropped;
// it will reconnect and resync from storage).
func (h *Hub) SendTo(connID string, env event.Envelope) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.push(env)
}

// SendToUser pushes one envelope to every open connection of userID and
// returns the number of pushes.
func (h *Hub) SendToUser(userID string, env event.Envelope) int {
	n := 0
	for _, connID := range h.reg.ConnectionsFor(userID) {
		if h.SendTo(connID, env) {
			n++
		}
	}
	return n
}

// Broadcast pushes one envelope to every open connection, including
// unauthenticated pairing connections.
func (h *Hub) Broadcast(env event.Envelope) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range conns {
		if c.push(env) {
			n++
		}
	}
	return n
}

// Close tears down every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.drop(c)
	}
}
