// Package queue owns per-recipient notification queues and the
// periodic dispatch loop composing the delivery filter, the channel
// dispatcher and backoff rescheduling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"notisync/internal/backoff"
	"notisync/internal/domain"
	"notisync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoChannels      = errors.New("notification must have at least one channel")
	ErrInvalidType     = errors.New("unknown notification type")
	ErrInvalidPriority = errors.New("unknown notification priority")
)

// Dispatcher sends one notification through its channels; true means
// at least one channel delivered.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.QueuedNotification) (bool, error)
}

// Retryable reports whether a dispatch failure may succeed later.
// Wired to channel.Retryable in production.
type Retryable func(err error) bool

// PolicyFunc resolves the delivery policy for a recipient.
type PolicyFunc func(recipientID int64) models.DeliveryPolicy

// EnqueueInput is the public enqueue contract; the service assigns id,
// status and bookkeeping fields.
type EnqueueInput struct {
	RecipientID   int64
	Type          models.NotificationType
	Priority      models.Priority
	Payload       models.Payload
	Channels      []string
	ScheduledTime time.Time
	MaxRetries    int
}

// Service is the notification queue manager. All queue state lives in
// process memory; a restart loses queued and processing items.
type Service struct {
	dispatcher Dispatcher
	retryable  Retryable
	policyFor  PolicyFunc
	counter    domain.SentCounter
	retry      backoff.RetryPolicy
	bus        domain.EventPublisher
	logger     zerolog.Logger

	interval   time.Duration
	maxRetries int
	now        func() time.Time

	mu     sync.Mutex
	queues map[int64]*recipientQueue
}

// recipientQueue serializes all mutation and dispatch for one
// recipient. The dispatching flag prevents overlapping cycles; the
// mutex makes queue mutation and dispatch iteration mutually exclusive.
type recipientQueue struct {
	mu          sync.Mutex
	items       []*models.QueuedNotification
	dispatching bool
}

type Options struct {
	Interval          time.Duration
	DefaultMaxRetries int
	Retry             backoff.RetryPolicy
}

func New(dispatcher Dispatcher, retryable Retryable, policyFor PolicyFunc, counter domain.SentCounter, bus domain.EventPublisher, logger zerolog.Logger, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = models.DispatchInterval
	}
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = models.DefaultMaxRetries
	}
	if opts.Retry.BaseDelay == 0 {
		opts.Retry = backoff.Default()
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	return &Service{
		dispatcher: dispatcher,
		retryable:  retryable,
		policyFor:  policyFor,
		counter:    counter,
		retry:      opts.Retry,
		bus:        bus,
		logger:     logger.With().Str("component", "queue").Logger(),
		interval:   opts.Interval,
		maxRetries: opts.DefaultMaxRetries,
		now:        time.Now,
		queues:     make(map[int64]*recipientQueue),
	}
}

// Enqueue validates the input, assigns an id and inserts the
// notification into the recipient's queue in priority order.
func (s *Service) Enqueue(input EnqueueInput) (string, error) {
	if len(input.Channels) == 0 {
		return "", ErrNoChannels
	}
	if input.Type == "" {
		input.Type = models.TypeCustom
	}
	if !input.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, input.Type)
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !input.Priority.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, input.Priority)
	}

	now := s.now()
	if input.ScheduledTime.IsZero() {
		input.ScheduledTime = now
	}
	if input.MaxRetries <= 0 {
		input.MaxRetries = s.maxRetries
	}

	n := &models.QueuedNotification{
		ID:            uuid.NewString(),
		RecipientID:   input.RecipientID,
		Type:          input.Type,
		Priority:      input.Priority,
		Payload:       input.Payload,
		Channels:      append([]string(nil), input.Channels...),
		ScheduledTime: input.ScheduledTime,
		MaxRetries:    input.MaxRetries,
		Status:        models.StatusQueued,
		CreatedAt:     now,
	}

	rq := s.queue(input.RecipientID)
	rq.mu.Lock()
	rq.items = append(rq.items, n)
	sortQueueLocked(rq)
	rq.mu.Unlock()

	s.logger.Debug().Str("notification_id", n.ID).Int64("recipient_id", n.RecipientID).
		Str("priority", string(n.Priority)).Msg("notification enqueued")
	return n.ID, nil
}

// Cancel removes a queued notification or marks a processing one
// cancelled. Cancellation is lazy: an in-flight channel call is not
// aborted, its late result is discarded when it settles.
func (s *Service) Cancel(recipientID int64, id string) bool {
	rq := s.lookup(recipientID)
	if rq == nil {
		return false
	}

	rq.mu.Lock()
	defer rq.mu.Unlock()

	for i, n := range rq.items {
		if n.ID != id {
			continue
		}
		switch n.Status {
		case models.StatusQueued:
			rq.items = append(rq.items[:i], rq.items[i+1:]...)
			return true
		case models.StatusProcessing:
			n.Status = models.StatusCancelled
			return true
		default:
			return false
		}
	}
	return false
}

// UserQueue returns a snapshot copy of the recipient's queue.
func (s *Service) UserQueue(recipientID int64) []models.QueuedNotification {
	rq := s.lookup(recipientID)
	if rq == nil {
		return nil
	}

	rq.mu.Lock()
	defer rq.mu.Unlock()

	out := make([]models.QueuedNotification, 0, len(rq.items))
	for _, n := range rq.items {
		out = append(out, *n)
	}
	return out
}

// Cleanup removes terminal records older than the threshold. Queued and
// processing items are never removed regardless of age. Idempotent.
func (s *Service) Cleanup(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)
	removed := 0

	s.mu.Lock()
	queues := make([]*recipientQueue, 0, len(s.queues))
	for _, rq := range s.queues {
		queues = append(queues, rq)
	}
	s.mu.Unlock()

	for _, rq := range queues {
		rq.mu.Lock()
		kept := rq.items[:0]
		for _, n := range rq.items {
			if n.Status.Terminal() && settledAt(n).Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, n)
		}
		rq.items = kept
		rq.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("queue cleanup done")
	}
	return removed
}

// settledAt is the age reference for cleanup: processedAt when the
// record has one, createdAt otherwise (cancelled-while-queued items).
func settledAt(n *models.QueuedNotification) time.Time {
	if n.ProcessedAt != nil {
		return *n.ProcessedAt
	}
	return n.CreatedAt
}

// Depth counts non-terminal items across all recipients.
func (s *Service) Depth() int {
	s.mu.Lock()
	queues := make([]*recipientQueue, 0, len(s.queues))
	for _, rq := range s.queues {
		queues = append(queues, rq)
	}
	s.mu.Unlock()

	depth := 0
	for _, rq := range queues {
		rq.mu.Lock()
		for _, n := range rq.items {
			if !n.Status.Terminal() {
				depth++
			}
		}
		rq.mu.Unlock()
	}
	return depth
}

// FailedNotifications snapshots permanently failed records for audit.
func (s *Service) FailedNotifications() []models.QueuedNotification {
	s.mu.Lock()
	queues := make([]*recipientQueue, 0, len(s.queues))
	for _, rq := range s.queues {
		queues = append(queues, rq)
	}
	s.mu.Unlock()

	var out []models.QueuedNotification
	for _, rq := range queues {
		rq.mu.Lock()
		for _, n := range rq.items {
			if n.Status == models.StatusFailed {
				out = append(out, *n)
			}
		}
		rq.mu.Unlock()
	}
	return out
}

func (s *Service) queue(recipientID int64) *recipientQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	rq, ok := s.queues[recipientID]
	if !ok {
		rq = &recipientQueue{}
		s.queues[recipientID] = rq
	}
	return rq
}

func (s *Service) lookup(recipientID int64) *recipientQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[recipientID]
}

// Priority descending, then scheduled time ascending, stable.
func sortQueueLocked(rq *recipientQueue) {
	sort.SliceStable(rq.items, func(i, j int) bool {
		a, b := rq.items[i], rq.items[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.ScheduledTime.Before(b.ScheduledTime)
	})
}
