package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/internal/models"
)

// Connection represents one live WebSocket connection bound to a user.
// The registry owns the entry; the pumps hold a reference for the duration
// of their loops.
type Connection struct {
	ID            string
	UserID        string
	SessionID     string
	RemoteAddr    string
	EstablishedAt time.Time

	Conn *websocket.Conn
	Send chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu           sync.RWMutex
	lastActivity time.Time
	lastPong     time.Time
}

// NewConnection creates a new connection wrapper around an upgraded socket
func NewConnection(id, userID, sessionID, remoteAddr string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Connection{
		ID:            id,
		UserID:        userID,
		SessionID:     sessionID,
		RemoteAddr:    remoteAddr,
		EstablishedAt: now,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		ctx:           ctx,
		cancel:        cancel,
		lastActivity:  now,
		lastPong:      now,
	}
}

// Done is closed when the connection has been shut down
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Closed reports whether the connection has been shut down
func (c *Connection) Closed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call multiple times; the write
// pump observes the cancelled context and exits.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// Enqueue queues a payload for delivery by the write pump. It fails with
// ErrConnectionClosed once the connection is shut down and ErrSendTimeout
// when the queue stays full for the whole timeout, so one slow consumer
// cannot stall delivery to others.
func (c *Connection) Enqueue(payload []byte, timeout time.Duration) error {
	select {
	case <-c.ctx.Done():
		return models.ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.Send <- payload:
		return nil
	case <-c.ctx.Done():
		return models.ErrConnectionClosed
	case <-timer.C:
		return models.ErrSendTimeout
	}
}

// Touch records inbound activity on the connection
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// LastActivity returns the time of the last inbound frame
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// UpdateLastPong records a transport-level pong
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last transport-level pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}
