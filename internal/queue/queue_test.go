package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"notisync/internal/backoff"
	"notisync/internal/channel"
	"notisync/internal/events"
	"notisync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(n *models.QueuedNotification) (bool, error)
}

func (d *stubDispatcher) Dispatch(_ context.Context, n *models.QueuedNotification) (bool, error) {
	d.mu.Lock()
	d.calls = append(d.calls, n.ID)
	d.mu.Unlock()
	if d.fn != nil {
		return d.fn(n)
	}
	return true, nil
}

func (d *stubDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type stubCounter struct {
	mu   sync.Mutex
	sent map[int64]int
}

func (c *stubCounter) SentLastHour(_ context.Context, recipientID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[recipientID], nil
}

func (c *stubCounter) RecordSent(_ context.Context, recipientID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = make(map[int64]int)
	}
	c.sent[recipientID]++
	return nil
}

func openPolicy(int64) models.DeliveryPolicy {
	return models.DeliveryPolicy{MaxPerHour: 100}
}

func newTestService(t *testing.T, d Dispatcher) *Service {
	t.Helper()
	s := New(d, channel.Retryable, openPolicy, &stubCounter{}, events.NewEventBus(), zerolog.Nop(), Options{
		Retry: backoff.RetryPolicy{BaseDelay: time.Minute, Factor: 2, MaxDelay: time.Hour},
	})
	return s
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestService(t, &stubDispatcher{})

	_, err := s.Enqueue(EnqueueInput{RecipientID: 1})
	assert.ErrorIs(t, err, ErrNoChannels)

	_, err = s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, Priority: "extreme"})
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, Type: "carrier_pigeon"})
	assert.ErrorIs(t, err, ErrInvalidType)

	id, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.PriorityMedium, q[0].Priority)
	assert.Equal(t, models.TypeCustom, q[0].Type)
	assert.Equal(t, models.StatusQueued, q[0].Status)
}

func TestQueueOrdering(t *testing.T) {
	s := newTestService(t, &stubDispatcher{})

	base := time.Now()
	for _, p := range []models.Priority{models.PriorityLow, models.PriorityUrgent, models.PriorityMedium} {
		_, err := s.Enqueue(EnqueueInput{
			RecipientID:   7,
			Channels:      []string{"webhook"},
			Priority:      p,
			ScheduledTime: base,
		})
		require.NoError(t, err)
	}

	q := s.UserQueue(7)
	require.Len(t, q, 3)
	assert.Equal(t, models.PriorityUrgent, q[0].Priority)
	assert.Equal(t, models.PriorityMedium, q[1].Priority)
	assert.Equal(t, models.PriorityLow, q[2].Priority)
}

func TestQueueOrderingSamePriority(t *testing.T) {
	s := newTestService(t, &stubDispatcher{})

	base := time.Now()
	later, err := s.Enqueue(EnqueueInput{
		RecipientID: 7, Channels: []string{"webhook"},
		Priority: models.PriorityHigh, ScheduledTime: base.Add(time.Hour),
	})
	require.NoError(t, err)
	sooner, err := s.Enqueue(EnqueueInput{
		RecipientID: 7, Channels: []string{"webhook"},
		Priority: models.PriorityHigh, ScheduledTime: base,
	})
	require.NoError(t, err)

	q := s.UserQueue(7)
	require.Len(t, q, 2)
	assert.Equal(t, sooner, q[0].ID)
	assert.Equal(t, later, q[1].ID)
}

func TestDispatchSuccess(t *testing.T) {
	d := &stubDispatcher{}
	s := newTestService(t, d)

	id, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)

	s.DispatchDue(context.Background())

	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusSent, q[0].Status)
	assert.NotNil(t, q[0].ProcessedAt)
	assert.Equal(t, 1, d.callCount())
	assert.Equal(t, id, d.calls[0])
	assert.Equal(t, 0, s.Depth())
}

func TestDispatchRetryThenFail(t *testing.T) {
	d := &stubDispatcher{fn: func(*models.QueuedNotification) (bool, error) {
		return false, &channel.TransientError{Message: "boom"}
	}}
	s := newTestService(t, d)
	s.now = func() time.Time { return time.Now() }

	_, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, MaxRetries: 3})
	require.NoError(t, err)

	// Первая попытка: остаётся в очереди с задержкой.
	s.DispatchDue(context.Background())
	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusQueued, q[0].Status)
	assert.Equal(t, 1, q[0].RetryCount)
	assert.True(t, q[0].ScheduledTime.After(time.Now()), "retry must be scheduled in the future")
	require.NotNil(t, q[0].LastError)

	// Прокручиваем время вперёд ещё на две попытки.
	for i := 0; i < 2; i++ {
		s.now = func() time.Time { return time.Now().Add(time.Duration(i+1) * 24 * time.Hour) }
		s.DispatchDue(context.Background())
	}

	q = s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusFailed, q[0].Status)
	assert.Equal(t, 3, q[0].RetryCount)
	assert.LessOrEqual(t, q[0].RetryCount, q[0].MaxRetries)
	assert.Equal(t, 3, d.callCount())

	// Ничего больше не отправляется для упавшего уведомления.
	s.DispatchDue(context.Background())
	assert.Equal(t, 3, d.callCount())
}

func TestDispatchNonRetryableFailsImmediately(t *testing.T) {
	d := &stubDispatcher{fn: func(*models.QueuedNotification) (bool, error) {
		return false, &channel.ValidationError{Message: "bad payload"}
	}}
	s := newTestService(t, d)

	_, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, MaxRetries: 3})
	require.NoError(t, err)

	s.DispatchDue(context.Background())

	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusFailed, q[0].Status)
	assert.Equal(t, 1, d.callCount())
}

func TestDispatchSkipsFutureNotifications(t *testing.T) {
	d := &stubDispatcher{}
	s := newTestService(t, d)

	_, err := s.Enqueue(EnqueueInput{
		RecipientID:   1,
		Channels:      []string{"webhook"},
		ScheduledTime: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	s.DispatchDue(context.Background())
	assert.Equal(t, 0, d.callCount())
}

func TestCancelQueued(t *testing.T) {
	s := newTestService(t, &stubDispatcher{})

	id, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)

	assert.True(t, s.Cancel(1, id))
	assert.Empty(t, s.UserQueue(1))

	// Повторная отмена уже ничего не находит.
	assert.False(t, s.Cancel(1, id))
	assert.False(t, s.Cancel(1, "no-such-id"))
	assert.False(t, s.Cancel(99, id))
}

func TestCancelInFlightDiscardsLateResult(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	d := &stubDispatcher{fn: func(*models.QueuedNotification) (bool, error) {
		close(started)
		<-proceed
		return true, nil
	}}
	s := newTestService(t, d)

	id, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.DispatchDue(context.Background())
		close(done)
	}()

	<-started
	assert.True(t, s.Cancel(1, id))
	close(proceed)
	<-done

	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusCancelled, q[0].Status)
}

func TestCleanupIdempotent(t *testing.T) {
	d := &stubDispatcher{}
	s := newTestService(t, d)

	old := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return old }
	_, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)
	s.DispatchDue(context.Background())

	s.now = time.Now
	_, err = s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, ScheduledTime: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Cleanup(24*time.Hour))
	assert.Equal(t, 0, s.Cleanup(24*time.Hour))

	// Неотправленное уведомление переживает очистку независимо от возраста.
	q := s.UserQueue(1)
	require.Len(t, q, 1)
	assert.Equal(t, models.StatusQueued, q[0].Status)
}

func TestRateCapDefersLowPriority(t *testing.T) {
	d := &stubDispatcher{}
	s := New(d, channel.Retryable, func(int64) models.DeliveryPolicy {
		return models.DeliveryPolicy{MaxPerHour: 1}
	}, &stubCounter{}, events.NewEventBus(), zerolog.Nop(), Options{})

	_, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, Priority: models.PriorityLow})
	require.NoError(t, err)
	_, err = s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}, Priority: models.PriorityHigh})
	require.NoError(t, err)

	s.DispatchDue(context.Background())

	// Только старшее по приоритету уходит, младшее остаётся в очереди.
	require.Equal(t, 1, d.callCount())
	q := s.UserQueue(1)
	var queued, sent int
	for _, n := range q {
		switch n.Status {
		case models.StatusQueued:
			queued++
		case models.StatusSent:
			sent++
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, queued)
}

func TestFailedNotifications(t *testing.T) {
	d := &stubDispatcher{fn: func(*models.QueuedNotification) (bool, error) {
		return false, &channel.AuthError{Code: 401, Message: "bad token"}
	}}
	s := newTestService(t, d)

	_, err := s.Enqueue(EnqueueInput{RecipientID: 1, Channels: []string{"webhook"}})
	require.NoError(t, err)
	s.DispatchDue(context.Background())

	failed := s.FailedNotifications()
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
}
