package audit

import "time"

// Event is an immutable, append-only record of an authentication event.
//
// Invariants:
// - Events are never updated or deleted.
// - Username is the identity the event is about; TenantID is nil for
//   super-admins and for events that happen before an identity is known.
// - Audit writes are best-effort; they never block or fail auth flows.
type Event struct {
	ID       string    `json:"id" db:"id"`
	Type     EventType `json:"type" db:"type"`
	Username string    `json:"username,omitempty" db:"username"`
	TenantID *int64    `json:"tenant_id,omitempty" db:"tenant_id"`

	// ActorUsername is the authenticated caller when it differs from Username
	// (registrations, manual key rotation).
	ActorUsername string `json:"actor_username,omitempty" db:"actor_username"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	// Reason is a stable machine-readable cause for failures.
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventLoginSucceeded    EventType = "login_succeeded"
	EventLoginFailed       EventType = "login_failed"
	EventLogout            EventType = "logout"
	EventRegistered        EventType = "registered"
	EventRefreshed         EventType = "refresh_succeeded"
	EventRefreshRejected   EventType = "refresh_rejected"
	EventKeyRotated        EventType = "key_rotated"
	EventKeyRotationFailed EventType = "key_rotation_failed"
)
