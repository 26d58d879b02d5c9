package services

import (
	"log"
	"sync"

	"github.com/kiviatgo/kiviatgo-backend/internal/models"
)

// ProfileConn is the minimal interface a live profile connection must
// satisfy (implemented by *websocket.Conn).
type ProfileConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// ProfileEvent is the payload pushed to clients on every reconciled
// snapshot.
type ProfileEvent struct {
	Type    string              `json:"type"` // "profile"
	Profile *models.UserProfile `json:"profile"`
}

// sendBuffer is the per-connection queue depth. Snapshots arrive in
// small bursts (a reset write echoes straight back through the change
// stream), so a short queue absorbs them.
const sendBuffer = 8

// ProfileClient owns all writes to one connection. gorilla/websocket
// allows a single concurrent writer per connection, so every snapshot
// is queued on the send channel and written by one goroutine.
type ProfileClient struct {
	userID string
	conn   ProfileConn
	send   chan *models.UserProfile

	mu     sync.Mutex
	closed bool
}

// Send queues a snapshot for this connection. A client too slow to
// drain its queue is closed rather than blocking the caller.
func (c *ProfileClient) Send(profile *models.UserProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- profile:
	default:
		log.Printf("profile hub: dropping slow client of %s", c.userID)
		c.closed = true
		close(c.send)
	}
}

func (c *ProfileClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *ProfileClient) writeLoop() {
	for profile := range c.send {
		if err := c.conn.WriteJSON(ProfileEvent{Type: "profile", Profile: profile}); err != nil {
			log.Printf("profile hub: write to client of %s: %v", c.userID, err)
		}
	}
	c.conn.Close()
}

// ProfileHub fans reconciled profile snapshots out to the user's open
// WebSocket connections. A user can have several (two tabs, phone + laptop).
type ProfileHub struct {
	mu    sync.RWMutex
	conns map[string]map[*ProfileClient]struct{}
}

func NewProfileHub() *ProfileHub {
	return &ProfileHub{conns: make(map[string]map[*ProfileClient]struct{})}
}

// Register adds a connection for the user and starts its writer. All
// writes to the connection, the caller's included, must go through the
// returned client's Send.
func (h *ProfileHub) Register(userID string, conn ProfileConn) *ProfileClient {
	c := &ProfileClient{
		userID: userID,
		conn:   conn,
		send:   make(chan *models.UserProfile, sendBuffer),
	}

	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*ProfileClient]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	return c
}

// Unregister removes the client and stops its writer.
func (h *ProfileHub) Unregister(c *ProfileClient) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()

	c.close()
}

// Publish queues the snapshot for all of the user's connections.
func (h *ProfileHub) Publish(userID string, profile *models.UserProfile) {
	h.mu.RLock()
	clients := make([]*ProfileClient, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(profile)
	}
}
