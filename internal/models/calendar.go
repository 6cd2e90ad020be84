package models

import "time"

// CalendarEvent is the remote calendar entity mirrored by the offline cache.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// DateKey returns the range-lookup key derived from the event start.
func (e CalendarEvent) DateKey() string {
	return e.StartTime.Format(DateKeyLayout)
}

type SyncOpType string

const (
	SyncOpCreate SyncOpType = "CREATE"
	SyncOpUpdate SyncOpType = "UPDATE"
	SyncOpDelete SyncOpType = "DELETE"
)

// SyncOperation is a local mutation waiting to be replayed against the
// remote calendar. Dropped after SyncOpMaxAttempts failed attempts.
type SyncOperation struct {
	ID         int64      `json:"id"`
	Type       SyncOpType `json:"type"`
	Payload    string     `json:"payload"`
	RetryCount int        `json:"retry_count"`
	LastError  *string    `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
