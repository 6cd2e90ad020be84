package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventDeliverySent   = "delivery_sent"
	EventDeliveryFailed = "delivery_failed"
	EventSyncCompleted  = "sync_completed"
	EventSyncFallback   = "sync_fallback"
	EventSyncOpDropped  = "sync_op_dropped"
)

// DeliveryPayload describes a settled notification for event consumers.
type DeliveryPayload struct {
	NotificationID string   `json:"notification_id"`
	RecipientID    int64    `json:"recipient_id"`
	Type           string   `json:"type"`
	Priority       string   `json:"priority"`
	Channels       []string `json:"channels"`
	RetryCount     int      `json:"retry_count"`
	Error          string   `json:"error,omitempty"`
}

// SyncPayload describes a completed or degraded sync request.
type SyncPayload struct {
	Source     string `json:"source"`
	EventCount int    `json:"event_count"`
	Applied    int    `json:"applied"`
	Dropped    int    `json:"dropped"`
	Error      string `json:"error,omitempty"`
}

// SyncOpPayload describes a pending mutation dropped after exhausting
// its retry budget. This is a lost local change.
type SyncOpPayload struct {
	OpID      int64  `json:"op_id"`
	OpType    string `json:"op_type"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
