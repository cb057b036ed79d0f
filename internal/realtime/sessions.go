package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/storage"
	"github.com/mkhodary/chat-gateway/pkg/logger"
)

// SessionRegistry tracks logical sign-in sessions for revocation. Sessions
// are durable records in the store; the registry ties revocation to the
// live sockets so a revoked session never keeps an open connection.
type SessionRegistry struct {
	store     storage.SessionStore
	registry  *ConnectionRegistry
	closeConn func(*Connection)
}

// NewSessionRegistry creates a session registry. closeConn is invoked for
// every live connection of a revoked session.
func NewSessionRegistry(store storage.SessionStore, registry *ConnectionRegistry, closeConn func(*Connection)) *SessionRegistry {
	return &SessionRegistry{
		store:     store,
		registry:  registry,
		closeConn: closeConn,
	}
}

// Register records a new session at login
func (s *SessionRegistry) Register(ctx context.Context, session *models.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	logger.Info("Session registered",
		logger.String("session_id", session.ID),
		logger.String("user_id", session.UserID),
		logger.String("device_info", session.DeviceInfo),
	)
	return nil
}

// Get looks up a session by id
func (s *SessionRegistry) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ActiveSessions returns all non-revoked sessions for a user
func (s *SessionRegistry) ActiveSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.store.GetSessionsByUser(ctx, userID)
}

// Revoke terminates a session on behalf of requestingUserID. It fails with
// models.ErrSessionNotFound for an unknown id and models.ErrNotSessionOwner
// when the requester does not own the session; administrative revocation
// bypasses the ownership check via RevokeAny. Any live connection bound to
// the session is closed before the call returns.
func (s *SessionRegistry) Revoke(ctx context.Context, sessionID, requestingUserID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != requestingUserID {
		return models.ErrNotSessionOwner
	}
	return s.revoke(ctx, session)
}

// RevokeAny terminates a session regardless of ownership. Authorization is
// the caller's concern.
func (s *SessionRegistry) RevokeAny(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.revoke(ctx, session)
}

func (s *SessionRegistry) revoke(ctx context.Context, session *models.Session) error {
	if session.Revoked() {
		return models.ErrSessionRevoked
	}

	if err := s.store.RevokeSession(ctx, session.ID, time.Now()); err != nil {
		return err
	}

	// A revoked session must not keep an open socket: close its live
	// connections in the same logical operation.
	closed := 0
	for _, conn := range s.registry.GetBySession(session.ID) {
		closed++
		if s.closeConn != nil {
			s.closeConn(conn)
		} else {
			s.registry.Remove(conn.ID)
			conn.Close()
		}
	}

	logger.Info("Session revoked",
		logger.String("session_id", session.ID),
		logger.String("user_id", session.UserID),
		logger.Int("connections_closed", closed),
	)
	return nil
}
