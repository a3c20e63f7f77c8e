package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes events to the log. It is the fallback when no queue or
// webhook is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Enqueue(ctx context.Context, ev Event) error {
	n.Logger.Info().
		Str("event_id", ev.ID).
		Str("event", ev.Type).
		Str("entity_type", ev.EntityType).
		Str("entity_id", ev.EntityID).
		Interface("payload", ev.Payload).
		Msg("notification")
	return nil
}
