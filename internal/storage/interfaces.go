package storage

import (
	"context"
	"time"

	"github.com/mkhodary/chat-gateway/internal/models"
)

// SessionStore defines the interface for durable session records. Sessions
// are created by the auth service at login; the gateway reads them and marks
// revocations.
type SessionStore interface {
	// SaveSession persists a session record
	SaveSession(ctx context.Context, session *models.Session) error

	// GetSession retrieves a session by ID; returns models.ErrSessionNotFound
	// if no such session exists
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// GetSessionsByUser retrieves all non-revoked sessions for a user
	GetSessionsByUser(ctx context.Context, userID string) ([]*models.Session, error)

	// RevokeSession marks a session revoked at the given time
	RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error

	// Close closes the storage connection
	Close() error
}

// RedisClient defines the interface for Redis operations used by the gateway
type RedisClient interface {
	// Stream operations
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	// Key-value operations
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error)

	// Close closes the Redis connection
	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}

// PubSubMessage represents a message from Redis pub/sub
type PubSubMessage struct {
	Channel string
	Message string
}
