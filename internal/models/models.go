package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type NotificationType string

const (
	TypeTaskReminder  NotificationType = "task_reminder"
	TypeEventReminder NotificationType = "event_reminder"
	TypeUrgentTask    NotificationType = "urgent_task"
	TypeDailySummary  NotificationType = "daily_summary"
	TypeCustom        NotificationType = "custom"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeTaskReminder, TypeEventReminder, TypeUrgentTask, TypeDailySummary, TypeCustom:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric weight of the priority, higher delivers first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status ends the notification lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Payload is the channel-agnostic message content. Channels decide how
// much of it they can represent and truncate what they cannot.
type Payload struct {
	Title  string  `json:"title,omitempty"`
	Body   string  `json:"body"`
	Embeds []Embed `json:"embeds,omitempty"`
}

// Embed is a rich-content block for channels that support them.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// QueuedNotification is a single delivery request owned by the queue
// service for its recipient.
type QueuedNotification struct {
	ID            string           `json:"id"`
	RecipientID   int64            `json:"recipient_id"`
	Type          NotificationType `json:"type"`
	Priority      Priority         `json:"priority"`
	Payload       Payload          `json:"payload"`
	Channels      []string         `json:"channels"`
	ScheduledTime time.Time        `json:"scheduled_time"`
	MaxRetries    int              `json:"max_retries"`
	RetryCount    int              `json:"retry_count"`
	Status        Status           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
}

// Window is a time-of-day interval, possibly wrapping midnight
// (e.g. 22:00-06:00). Times are "HH:MM".
type Window struct {
	Start       string `yaml:"start" json:"start"`
	End         string `yaml:"end" json:"end"`
	AllowUrgent bool   `yaml:"allow_urgent" json:"allow_urgent"`
}

// Contains reports whether t's time of day falls inside the window.
// A malformed window never matches; Validate catches those at load time.
func (w Window) Contains(t time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	cur := t.Hour()*60 + t.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	// Wraps midnight.
	return cur >= start || cur < end
}

// Validate checks both clock values parse.
func (w Window) Validate() error {
	if _, err := parseClock(w.Start); err != nil {
		return fmt.Errorf("invalid window start %q: %w", w.Start, err)
	}
	if _, err := parseClock(w.End); err != nil {
		return fmt.Errorf("invalid window end %q: %w", w.End, err)
	}
	return nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return h*60 + m, nil
}

// DeliveryPolicy is the per-recipient throttling configuration.
type DeliveryPolicy struct {
	MaxPerHour int     `yaml:"max_per_hour" json:"max_per_hour"`
	QuietHours *Window `yaml:"quiet_hours,omitempty" json:"quiet_hours,omitempty"`
	FocusMode  *Window `yaml:"focus_mode,omitempty" json:"focus_mode,omitempty"`
}

func (p DeliveryPolicy) Validate() error {
	if p.MaxPerHour < 0 {
		return fmt.Errorf("max_per_hour must be >= 0")
	}
	if p.QuietHours != nil {
		if err := p.QuietHours.Validate(); err != nil {
			return fmt.Errorf("quiet_hours: %w", err)
		}
	}
	if p.FocusMode != nil {
		if err := p.FocusMode.Validate(); err != nil {
			return fmt.Errorf("focus_mode: %w", err)
		}
	}
	return nil
}
