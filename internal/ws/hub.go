package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codechat/internal/domain"
)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 25 * time.Second
	defaultBuffer = 64
)

// client is one live transport bound to a user. Writes go through a
// buffered channel drained by a dedicated goroutine, so a slow peer never
// blocks the serialized core; on overflow the event is dropped for that
// connection and the history fetch is the recovery path.
type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan any
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// Registration is the opaque token handed out by Register and consumed by
// Unregister.
type Registration struct {
	c *client
}

// Hub is the connection registry: it maps each user to their live
// connections (multi-device) and is the only component that touches
// transport handles after the handshake.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*client]struct{}

	// offline timers delay the idle callback after a user's last
	// disconnect so reconnects do not flap presence.
	grace  time.Duration
	timers map[int64]*time.Timer

	// onIdle runs once a user has had no connection for the grace window.
	onIdle func(userID int64)

	buffer int
}

func NewHub(grace time.Duration, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		conns:  make(map[int64]map[*client]struct{}),
		grace:  grace,
		timers: make(map[int64]*time.Timer),
		buffer: buffer,
	}
}

// OnIdle installs the callback fired after the grace window with no
// remaining connections for a user. Must be set before the first Register.
func (h *Hub) OnIdle(fn func(userID int64)) {
	h.onIdle = fn
}

// Register adds a connection for the given user and starts its writer.
// first is true when the user had no live connection and no pending grace
// window, i.e. they are newly reachable.
func (h *Hub) Register(userID int64, conn *websocket.Conn) (*Registration, bool) {
	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan any, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	first := len(h.conns[userID]) == 0
	if t, ok := h.timers[userID]; ok {
		t.Stop()
		delete(h.timers, userID)
		first = false // reconnect within the grace window
	}
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*client]struct{})
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	return &Registration{c: c}, first
}

// Unregister removes the connection. last is true when this was the user's
// final live connection; the grace timer towards the idle callback starts
// then.
func (h *Hub) Unregister(reg *Registration) (last bool) {
	c := reg.c
	c.close()

	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, c.userID)
			last = true
		}
	}
	if last && h.onIdle != nil {
		userID := c.userID
		h.timers[userID] = time.AfterFunc(h.grace, func() {
			h.mu.Lock()
			_, back := h.conns[userID]
			delete(h.timers, userID)
			h.mu.Unlock()
			if !back {
				h.onIdle(userID)
			}
		})
	}
	return last
}

// Resolve reports how many live connections a user has. Zero means the
// user is push-unreachable; persisted messages wait for a history fetch.
func (h *Hub) Resolve(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// BroadcastToUsers enqueues the payload on every live connection of the
// given users. Full buffers drop the event for that connection only.
func (h *Hub) BroadcastToUsers(userIDs []int64, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, uid := range userIDs {
		for c := range h.conns[uid] {
			select {
			case c.send <- payload:
			case <-c.done:
			default:
				log.Printf("ws: send buffer full, dropping event for user %d", uid)
			}
		}
	}
}

// BroadcastAll enqueues the payload on every live connection.
func (h *Hub) BroadcastAll(payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.conns {
		for c := range conns {
			select {
			case c.send <- payload:
			case <-c.done:
			default:
				log.Printf("ws: send buffer full, dropping event for user %d", c.userID)
			}
		}
	}
}

// BroadcastPresence announces a user's presence to everyone connected.
func (h *Hub) BroadcastPresence(userID int64, status domain.Presence) {
	h.BroadcastAll(presenceEvent{Type: "presence", UserID: userID, Status: status})
}
