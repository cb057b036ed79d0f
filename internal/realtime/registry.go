package realtime

import (
	"sync"

	"github.com/mkhodary/chat-gateway/internal/models"
)

// PresenceNotifier receives occupancy transitions from the registry
type PresenceNotifier interface {
	MarkOnline(userID string)
	MarkOffline(userID string)
}

// ConnectionRegistry manages all live WebSocket connections. It is the only
// component that mutates the connection maps; admission and removal for one
// user are linearizable against the per-user limit.
type ConnectionRegistry struct {
	maxPerUser int
	maxTotal   int // 0 disables the global cap
	presence   PresenceNotifier

	mu          sync.RWMutex
	connections map[string]*Connection            // connection_id -> connection
	byUser      map[string]map[string]*Connection // user_id -> connection_id -> connection
	bySession   map[string]map[string]*Connection // session_id -> connection_id -> connection
}

// NewConnectionRegistry creates a new connection registry. presence may be
// nil when occupancy transitions are not tracked (tests).
func NewConnectionRegistry(maxPerUser, maxTotal int, presence PresenceNotifier) *ConnectionRegistry {
	return &ConnectionRegistry{
		maxPerUser:  maxPerUser,
		maxTotal:    maxTotal,
		presence:    presence,
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		bySession:   make(map[string]map[string]*Connection),
	}
}

// Add admits a connection. It fails with models.ErrConnectionLimit when the
// user already holds the maximum number of live connections and with
// models.ErrGatewayFull when the process-wide cap is reached; it never
// evicts an existing connection.
func (r *ConnectionRegistry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxTotal > 0 && len(r.connections) >= r.maxTotal {
		return models.ErrGatewayFull
	}
	if len(r.byUser[conn.UserID]) >= r.maxPerUser {
		return models.ErrConnectionLimit
	}

	first := len(r.byUser[conn.UserID]) == 0

	r.connections[conn.ID] = conn

	if r.byUser[conn.UserID] == nil {
		r.byUser[conn.UserID] = make(map[string]*Connection)
	}
	r.byUser[conn.UserID][conn.ID] = conn

	if conn.SessionID != "" {
		if r.bySession[conn.SessionID] == nil {
			r.bySession[conn.SessionID] = make(map[string]*Connection)
		}
		r.bySession[conn.SessionID][conn.ID] = conn
	}

	if first && r.presence != nil {
		r.presence.MarkOnline(conn.UserID)
	}
	return nil
}

// Remove removes a connection by id. Removing an unknown id is a no-op. The
// removed connection is returned so the caller can close the socket.
func (r *ConnectionRegistry) Remove(connectionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

func (r *ConnectionRegistry) removeLocked(connectionID string) (*Connection, bool) {
	conn, exists := r.connections[connectionID]
	if !exists {
		return nil, false
	}

	delete(r.connections, connectionID)

	if userConns, ok := r.byUser[conn.UserID]; ok {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.UserID)
			if r.presence != nil {
				r.presence.MarkOffline(conn.UserID)
			}
		}
	}

	if conn.SessionID != "" {
		if sessConns, ok := r.bySession[conn.SessionID]; ok {
			delete(sessConns, connectionID)
			if len(sessConns) == 0 {
				delete(r.bySession, conn.SessionID)
			}
		}
	}
	return conn, true
}

// RemoveAllForUser removes every connection for a user ("log out everywhere")
// and returns the removed connections for closing.
func (r *ConnectionRegistry) RemoveAllForUser(userID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns := r.byUser[userID]
	removed := make([]*Connection, 0, len(userConns))
	for id := range userConns {
		if conn, ok := r.removeLocked(id); ok {
			removed = append(removed, conn)
		}
	}
	return removed
}

// Get retrieves a connection by ID
func (r *ConnectionRegistry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connectionID]
	return conn, exists
}

// GetByUser retrieves all connections for a user
func (r *ConnectionRegistry) GetByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, exists := r.byUser[userID]
	if !exists {
		return nil
	}

	connections := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		connections = append(connections, conn)
	}
	return connections
}

// GetBySession retrieves all connections bound to a session
func (r *ConnectionRegistry) GetBySession(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessConns, exists := r.bySession[sessionID]
	if !exists {
		return nil
	}

	connections := make([]*Connection, 0, len(sessConns))
	for _, conn := range sessConns {
		connections = append(connections, conn)
	}
	return connections
}

// GetAll retrieves all connections
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// ActiveUserIDs returns the ids of all users with at least one live connection
func (r *ConnectionRegistry) ActiveUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// Count returns the total number of connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountByUser returns the number of connections for a user
func (r *ConnectionRegistry) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}
