package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mkhodary/chat-gateway/internal/models"
)

// MockSessionStore is an in-memory SessionStore for testing
type MockSessionStore struct {
	mu       sync.Mutex
	Sessions map[string]*models.Session
	SaveErr  error
	GetErr   error
}

func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		Sessions: make(map[string]*models.Session),
	}
}

func (m *MockSessionStore) SaveSession(ctx context.Context, session *models.Session) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.Sessions[session.ID] = &copied
	return nil
}

func (m *MockSessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.Sessions[sessionID]
	if !exists {
		return nil, models.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *MockSessionStore) GetSessionsByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Session
	for _, session := range m.Sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			copied := *session
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *MockSessionStore) RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.Sessions[sessionID]
	if !exists {
		return models.ErrSessionNotFound
	}
	if session.RevokedAt != nil {
		return models.ErrSessionRevoked
	}
	t := revokedAt
	session.RevokedAt = &t
	return nil
}

func (m *MockSessionStore) Close() error {
	return nil
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	mu           sync.Mutex
	Data         map[string]string
	StreamData   []StreamMessage
	Published    map[string][]string // channel -> messages
	PublishErr   error
	GetErr       error
	SetErr       error
	SubscribeErr error
	ConsumeErr   error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Data:      make(map[string]string),
		Published: make(map[string][]string),
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamData = append(m.StreamData, StreamMessage{
		Stream: stream,
		Values: map[string]interface{}{key: string(jsonData)},
	})
	return nil
}

func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan StreamMessage, len(m.StreamData)+1)
	for _, msg := range m.StreamData {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return nil
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = string(jsonData)
	return nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetErr != nil {
		return "", m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Data[key], nil
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Data, key)
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published[channel] = append(m.Published[channel], string(jsonData))
	return nil
}

func (m *MockRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	ch := make(chan PubSubMessage)
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) Close() error {
	return nil
}

// PublishedOn returns messages published on a pub/sub channel (test helper)
func (m *MockRedisClient) PublishedOn(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Published[channel]...)
}
