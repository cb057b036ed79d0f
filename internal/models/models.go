package models

import "time"

// PresenceState is a user's externally visible status.
type PresenceState string

const (
	PresenceOffline PresenceState = "offline"
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
)

// Presence is the tracked presence record for one user.
type Presence struct {
	UserID     string        `json:"user_id"`
	State      PresenceState `json:"state"`
	LastSeenAt time.Time     `json:"last_seen_at"`
}

// Session is a logical sign-in instance. A session may outlive any single
// WebSocket connection; a stale session (no live connection) is valid but idle.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	DeviceInfo string     `json:"device_info,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Notification is a record raised by the backend CRUD layer for delivery to
// live connections. Persistence of the record is the publisher's concern;
// the gateway only fans it out.
type Notification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"` // empty for broadcasts
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	Broadcast    bool      `json:"broadcast,omitempty"`
	ExceptUserID string    `json:"except_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PresenceEvent is published when a user's presence state changes.
type PresenceEvent struct {
	UserID    string        `json:"user_id"`
	Previous  PresenceState `json:"previous"`
	Current   PresenceState `json:"current"`
	Timestamp time.Time     `json:"timestamp"`
}
