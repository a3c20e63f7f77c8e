package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/metrics"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
)

var (
	ErrNotAssignable = errors.New("target not assignable")
	ErrInvalidWindow = errors.New("report window ends before it starts")
)

// errorCode maps an error onto the reason codes used in run summaries.
func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidContract):
		return "INVALID_CONTRACT"
	case errors.Is(err, models.ErrInvalidTicket):
		return "INVALID_TICKET"
	case errors.Is(err, models.ErrContractExpired):
		return "CONTRACT_EXPIRED"
	case errors.Is(err, models.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, models.ErrStorageConflict):
		return "STORAGE_CONFLICT"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrNotAssignable):
		return "NOT_ASSIGNABLE"
	case errors.Is(err, ErrInvalidWindow):
		return "INVALID_WINDOW"
	default:
		return "INTERNAL_ERROR"
	}
}

// ErrorCode exposes errorCode for the HTTP layer.
func ErrorCode(err error) string {
	return errorCode(err)
}

// enqueue is fire-and-forget: a failed notification is logged and counted
// but never fails the scheduling write that produced it.
func enqueue(ctx context.Context, n notify.Notifier, logger zerolog.Logger, ev notify.Event) {
	if n == nil {
		return
	}
	if err := n.Enqueue(ctx, ev); err != nil {
		metrics.NotificationFailures.WithLabelValues(ev.Type).Inc()
		logger.Warn().Err(err).Str("event", ev.Type).Str("entity_id", ev.EntityID).Msg("notification enqueue failed")
	}
}
