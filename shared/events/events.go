// Package events publishes session lifecycle events to Kafka and consumes them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTopic carries session lifecycle events
const DefaultTopic = "session-events"

// SessionEventType names a session transition
type SessionEventType string

const (
	EventLogin         SessionEventType = "login"
	EventLogout        SessionEventType = "logout"
	EventLoginConflict SessionEventType = "login_conflict"
	EventStaleRecovery SessionEventType = "stale_recovery"
)

// SessionEvent is one session transition inside a tenant
type SessionEvent struct {
	ID            string           `json:"id"`
	Type          SessionEventType `json:"event_type"`
	TenantID      uuid.UUID        `json:"tenant_id"`
	TenantSlug    string           `json:"tenant_slug"`
	PrincipalID   uuid.UUID        `json:"principal_id"`
	PrincipalName string           `json:"principal_name"`
	Role          string           `json:"role"`
	// Other is the principal on the far side of a conflict or stale recovery
	OtherID    *uuid.UUID `json:"other_id,omitempty"`
	OtherName  string     `json:"other_name,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher accepts session events for delivery. Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, event SessionEvent) error
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, SessionEvent) error { return nil }
