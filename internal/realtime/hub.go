package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mkhodary/chat-gateway/internal/config"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/storage"
	"github.com/mkhodary/chat-gateway/pkg/logger"
)

// Hub composes the connection registry, presence tracker, dispatcher, and
// session registry into the gateway's real-time subsystem. It is the only
// entry point by which the HTTP layer and backend collaborators reach the
// live connections.
type Hub struct {
	config     config.RealtimeConfig
	registry   *ConnectionRegistry
	presence   *PresenceTracker
	dispatcher *Dispatcher
	sessions   *SessionRegistry
	redis      storage.RedisClient

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	statsMu sync.RWMutex
	stats   HubStats
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal      int64     `json:"connections_total"`
	ConnectionsActive     int64     `json:"connections_active"`
	AdmissionsRejected    int64     `json:"admissions_rejected"`
	NotificationsReceived int64     `json:"notifications_received"`
	LastNotificationTime  time.Time `json:"last_notification_time"`
}

// NewHub creates a new hub. redis may be nil when no notification stream is
// consumed (tests).
func NewHub(cfg config.RealtimeConfig, redis storage.RedisClient, sessionStore storage.SessionStore) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	presence := NewPresenceTracker(cfg.AwayAfter)
	registry := NewConnectionRegistry(cfg.MaxConnectionsPerUser, cfg.MaxConnections, presence)
	dispatcher := NewDispatcher(registry, cfg.SendTimeout)

	h := &Hub{
		config:     cfg,
		registry:   registry,
		presence:   presence,
		dispatcher: dispatcher,
		redis:      redis,
		ctx:        ctx,
		cancel:     cancel,
	}

	dispatcher.OnFailure(func(conn *Connection, err error) {
		h.Unregister(conn)
	})
	h.sessions = NewSessionRegistry(sessionStore, registry, func(conn *Connection) {
		h.Unregister(conn)
	})
	presence.Subscribe(h.onPresenceTransition)

	return h
}

// Start starts the hub's background loops: the notification-stream
// consumer, the presence sweeper, and the stale-connection monitor.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting realtime hub",
		logger.Int("max_connections_per_user", h.config.MaxConnectionsPerUser),
		logger.Duration("away_after", h.config.AwayAfter),
		logger.String("notification_stream", h.config.NotificationStream),
	)

	if h.redis != nil {
		h.wg.Add(1)
		go h.consumeNotifications()
	}

	h.wg.Add(2)
	go h.sweepPresence()
	go h.monitorConnections()

	return nil
}

// Stop stops the hub, draining and closing every live connection rather
// than abandoning them.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping realtime hub")
	h.cancel()

	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}

	h.wg.Wait()
	logger.Info("Realtime hub stopped")
}

// Register admits a new connection for a user and starts its pumps. It
// fails with models.ErrConnectionLimit or models.ErrGatewayFull when an
// admission limit is reached; an existing connection is never evicted.
func (h *Hub) Register(userID, sessionID, remoteAddr string, ws *websocket.Conn) (*Connection, error) {
	conn := NewConnection(uuid.New().String(), userID, sessionID, remoteAddr, ws)

	if err := h.registry.Add(conn); err != nil {
		h.statsMu.Lock()
		h.stats.AdmissionsRejected++
		h.statsMu.Unlock()
		logger.AdmissionsRejected.Inc()

		logger.Warn("Connection admission rejected",
			logger.ErrorField(err),
			logger.String("user_id", userID),
			logger.String("remote_addr", remoteAddr),
		)
		return nil, err
	}

	h.statsMu.Lock()
	h.stats.ConnectionsTotal++
	h.statsMu.Unlock()
	logger.ConnectionsActive.Set(float64(h.registry.Count()))

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", userID),
		logger.String("remote_addr", remoteAddr),
		logger.Int("total_connections", h.registry.Count()),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)

	return conn, nil
}

// Unregister removes a connection and closes its socket. Safe to call more
// than once for the same connection.
func (h *Hub) Unregister(conn *Connection) {
	_, removed := h.registry.Remove(conn.ID)
	conn.Close()
	if !removed {
		return
	}

	logger.ConnectionsActive.Set(float64(h.registry.Count()))
	logger.Info("Connection unregistered",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", conn.UserID),
		logger.Int("total_connections", h.registry.Count()),
	)
}

// Collaborator-facing operations. These are the entry points by which the
// CRUD/HTTP layer reaches into the subsystem.

// GetConnectionStatus reports whether a user has a live connection and how many
func (h *Hub) GetConnectionStatus(userID string) (bool, int) {
	count := h.registry.CountByUser(userID)
	return count > 0, count
}

// GetActiveUsers returns the ids of every user with a live connection
func (h *Hub) GetActiveUsers() []string {
	return h.registry.ActiveUserIDs()
}

// GetUserStatus returns a user's tracked presence
func (h *Hub) GetUserStatus(userID string) models.Presence {
	return h.presence.Status(userID)
}

// GetUserSessions returns a user's active sessions
func (h *Hub) GetUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return h.sessions.ActiveSessions(ctx, userID)
}

// RegisterSession records a session created by the auth collaborator
func (h *Hub) RegisterSession(ctx context.Context, session *models.Session) error {
	return h.sessions.Register(ctx, session)
}

// GetSession looks up one session
func (h *Hub) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return h.sessions.Get(ctx, sessionID)
}

// RevokeSession revokes a session on behalf of the requesting user and
// closes any live connection bound to it
func (h *Hub) RevokeSession(ctx context.Context, sessionID, requestingUserID string) error {
	return h.sessions.Revoke(ctx, sessionID, requestingUserID)
}

// RevokeSessionAdmin revokes a session without an ownership check.
// Authorization is enforced by the caller.
func (h *Hub) RevokeSessionAdmin(ctx context.Context, sessionID string) error {
	return h.sessions.RevokeAny(ctx, sessionID)
}

// BroadcastMessage delivers a message to every live connection of every user
func (h *Hub) BroadcastMessage(message, notifType string) DeliveryReport {
	return h.dispatcher.BroadcastAll(NewNotification(notifType, message, time.Now()).Encode())
}

// BroadcastMessageExcept delivers a message to every live connection except
// those of the excluded user
func (h *Hub) BroadcastMessageExcept(excludedUserID, message, notifType string) DeliveryReport {
	return h.dispatcher.BroadcastExcept(excludedUserID, NewNotification(notifType, message, time.Now()).Encode())
}

// SendNotification delivers a message to every live connection of one user.
// A user with no live connections is a silent no-op.
func (h *Hub) SendNotification(userID, message, notifType string) DeliveryReport {
	return h.dispatcher.SendToUser(userID, NewNotification(notifType, message, time.Now()).Encode())
}

// DisconnectUser force-closes every live connection of a user and returns
// how many were closed. Privileged; authorization is the caller's concern.
func (h *Hub) DisconnectUser(userID string) int {
	removed := h.registry.RemoveAllForUser(userID)
	for _, conn := range removed {
		conn.Close()
	}
	if len(removed) > 0 {
		logger.ConnectionsActive.Set(float64(h.registry.Count()))
		logger.Info("User force-disconnected",
			logger.String("user_id", userID),
			logger.Int("connections_closed", len(removed)),
		)
	}
	return len(removed)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.statsMu.RLock()
	defer h.statsMu.RUnlock()

	stats := h.stats
	stats.ConnectionsActive = int64(h.registry.Count())
	return stats
}

// consumeNotifications consumes notification records published by the
// backend CRUD layer and fans them out to live connections. Durability of
// the records stays with the publisher.
func (h *Hub) consumeNotifications() {
	defer h.wg.Done()

	messageChan, err := h.redis.ConsumeFromStream(
		h.ctx,
		h.config.NotificationStream,
		h.config.ConsumerGroup,
		"gateway-1",
	)
	if err != nil {
		logger.Error("Failed to start consuming notifications",
			logger.ErrorField(err),
			logger.String("stream", h.config.NotificationStream),
		)
		return
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-messageChan:
			if !ok {
				logger.Warn("Notification channel closed")
				return
			}

			notification, err := decodeNotification(msg)
			if err != nil {
				logger.Error("Failed to decode notification",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
				continue
			}

			h.statsMu.Lock()
			h.stats.NotificationsReceived++
			h.stats.LastNotificationTime = time.Now()
			h.statsMu.Unlock()
			logger.NotificationsConsumed.Inc()

			h.dispatchNotification(notification)

			ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = h.redis.AcknowledgeMessage(ackCtx, h.config.NotificationStream, h.config.ConsumerGroup, msg.ID)
			ackCancel()
			if err != nil {
				logger.Warn("Failed to acknowledge notification",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
			}
		}
	}
}

func (h *Hub) dispatchNotification(n *models.Notification) {
	var report DeliveryReport
	switch {
	case n.Broadcast && n.ExceptUserID != "":
		report = h.BroadcastMessageExcept(n.ExceptUserID, n.Message, n.Type)
	case n.Broadcast:
		report = h.BroadcastMessage(n.Message, n.Type)
	default:
		report = h.SendNotification(n.UserID, n.Message, n.Type)
	}

	logger.Debug("Dispatched notification",
		logger.String("notification_id", n.ID),
		logger.String("type", n.Type),
		logger.Int("delivered", report.Delivered),
		logger.Int("failed", report.Failed),
	)
}

// decodeNotification decodes a stream message into a Notification
func decodeNotification(msg storage.StreamMessage) (*models.Notification, error) {
	value, ok := msg.Values["notification"]
	if !ok {
		return nil, fmt.Errorf("notification field not found in message")
	}

	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("notification field is not a string")
	}

	var notification models.Notification
	if err := json.Unmarshal([]byte(str), &notification); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	return &notification, nil
}

// sweepPresence runs the away-timeout check on the configured interval
func (h *Hub) sweepPresence() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PresenceSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case now := <-ticker.C:
			transitions := h.presence.Sweep(now)
			if len(transitions) > 0 {
				logger.Debug("Presence sweep",
					logger.Int("marked_away", len(transitions)),
				)
			}
		}
	}
}

// monitorConnections removes connections whose transport stopped answering
// keep-alive pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.ReadTimeout * 2

			for _, conn := range h.registry.GetAll() {
				lastPong := conn.GetLastPong()
				if now.Sub(lastPong) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.String("user_id", conn.UserID),
						logger.Duration("idle_time", now.Sub(lastPong)),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

// onPresenceTransition publishes presence changes when enabled. It runs in
// its own goroutine because transitions can fire while registry locks are
// held.
func (h *Hub) onPresenceTransition(t Transition) {
	if !h.config.BroadcastPresence {
		return
	}

	go func() {
		if h.redis != nil {
			event := models.PresenceEvent{
				UserID:    t.UserID,
				Previous:  t.Previous,
				Current:   t.Current,
				Timestamp: t.At,
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := h.redis.Publish(ctx, h.config.PresenceChannel, event); err != nil {
				logger.Warn("Failed to publish presence event",
					logger.ErrorField(err),
					logger.String("user_id", t.UserID),
				)
			}
			cancel()
		}

		env := ServerEnvelope{
			Type:      "presence",
			UserID:    t.UserID,
			Content:   string(t.Current),
			Timestamp: t.At.Unix(),
		}
		h.dispatcher.BroadcastExcept(t.UserID, env.Encode())
	}()
}
