package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const pingPeriod = 30 * time.Second

// Transport is the write side of a websocket connection. *websocket.Conn
// satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one viewer connection. Outbound frames go through a bounded
// queue drained by WritePump; a full queue closes the client instead of
// blocking the broadcaster.
type Client struct {
	ID    string
	Admin bool

	conn         Transport
	send         chan []byte
	writeTimeout time.Duration

	mu    sync.RWMutex
	scope Scope

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(id string, admin bool, conn Transport, queueSize int, writeTimeout time.Duration) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Client{
		ID:           id,
		Admin:        admin,
		conn:         conn,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Role is the metrics label for the connection.
func (c *Client) Role() string {
	if c.Admin {
		return "admin"
	}
	return "customer"
}

// Scope reports the current subscription; ok is false until the client
// subscribes.
func (c *Client) Scope() (Scope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope, c.scope.Kind != ""
}

func (c *Client) setScope(s Scope) {
	c.mu.Lock()
	c.scope = s
	c.mu.Unlock()
}

// enqueue never blocks. It reports false when the client is closed or its
// queue is full.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the write pump and closes the transport. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// WritePump writes queued frames until the client closes or a write
// fails. Run it in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
