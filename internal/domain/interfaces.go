package domain

import (
	"context"
	"time"

	"notisync/internal/models"
)

// Channel delivers one notification through one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *models.QueuedNotification) error
}

// RemoteCalendar is the remote system of record. Consumed, not
// implemented, by the sync core; internal/google provides the real one.
type RemoteCalendar interface {
	FetchEvents(ctx context.Context, start, end time.Time, maxResults int64) ([]models.CalendarEvent, error)
	ApplyMutation(ctx context.Context, op models.SyncOperation) error
}

// SentCounter tracks per-recipient deliveries inside the rolling hour
// window used by the rate cap.
type SentCounter interface {
	SentLastHour(ctx context.Context, recipientID int64) (int, error)
	RecordSent(ctx context.Context, recipientID int64) error
}

// EventPublisher emits lifecycle events for audit and metrics.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
