// Package notify delivers scheduling events (task created, SLA breached) to
// the notification subsystem. Delivery is fire-and-forget from the
// engine's point of view.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventTaskCreated = "task_created"
	EventSLABreached = "sla_breached"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func NewEvent(typ, entityType, entityID string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  at.UTC(),
	}
}

// DedupeKey identifies the fact an event reports, independent of its id.
func (e Event) DedupeKey() string {
	return e.Type + ":" + e.EntityType + ":" + e.EntityID
}

type Notifier interface {
	Enqueue(ctx context.Context, ev Event) error
}
