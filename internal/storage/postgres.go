package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mkhodary/chat-gateway/internal/config"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/pkg/logger"
)

// PostgresSessionStore implements SessionStore on PostgreSQL
type PostgresSessionStore struct {
	db       *sql.DB
	dbConfig config.DatabaseConfig
}

// NewPostgresSessionStore creates a new PostgreSQL session store
func NewPostgresSessionStore(dbConfig config.DatabaseConfig) (*PostgresSessionStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresSessionStore{
		db:       db,
		dbConfig: dbConfig,
	}

	logger.Info("PostgreSQL session store initialized",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return store, nil
}

// SaveSession persists a session record
func (s *PostgresSessionStore) SaveSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, device_info, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET revoked_at = EXCLUDED.revoked_at
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.DeviceInfo,
		session.CreatedAt,
		session.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *PostgresSessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT id, user_id, device_info, created_at, revoked_at
		FROM sessions
		WHERE id = $1
	`
	var session models.Session
	var deviceInfo sql.NullString
	var revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&deviceInfo,
		&session.CreatedAt,
		&revokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if deviceInfo.Valid {
		session.DeviceInfo = deviceInfo.String
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		session.RevokedAt = &t
	}
	return &session, nil
}

// GetSessionsByUser retrieves all non-revoked sessions for a user
func (s *PostgresSessionStore) GetSessionsByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT id, user_id, device_info, created_at, revoked_at
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var session models.Session
		var deviceInfo sql.NullString
		var revokedAt sql.NullTime

		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&deviceInfo,
			&session.CreatedAt,
			&revokedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if deviceInfo.Valid {
			session.DeviceInfo = deviceInfo.String
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			session.RevokedAt = &t
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// RevokeSession marks a session revoked at the given time
func (s *PostgresSessionStore) RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, sessionID, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected == 0 {
		// Distinguish unknown session from already-revoked
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return models.ErrSessionRevoked
	}
	return nil
}

// Close closes the database connection
func (s *PostgresSessionStore) Close() error {
	return s.db.Close()
}
