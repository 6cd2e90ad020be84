package queue

import (
	"context"
	"time"

	"notisync/internal/events"
	"notisync/internal/filter"
	"notisync/internal/metrics"
	"notisync/internal/models"
)

// Start runs the dispatch loop until ctx is cancelled. One cycle per
// tick plus an immediate cycle on startup.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Dispatch loop started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.DispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Dispatch loop stopped")
			return
		case <-ticker.C:
			s.DispatchDue(ctx)
		}
	}
}

// DispatchDue runs one dispatch cycle over every recipient queue.
// Recipients are independent: a slow channel for one never blocks
// another. Exported so tests and the admin API can force a cycle.
func (s *Service) DispatchDue(ctx context.Context) {
	s.mu.Lock()
	recipients := make(map[int64]*recipientQueue, len(s.queues))
	for id, rq := range s.queues {
		recipients[id] = rq
	}
	s.mu.Unlock()

	for id, rq := range recipients {
		s.dispatchRecipient(ctx, id, rq)
	}
	metrics.SetQueueDepth(s.Depth())
}

func (s *Service) dispatchRecipient(ctx context.Context, recipientID int64, rq *recipientQueue) {
	rq.mu.Lock()
	if rq.dispatching {
		rq.mu.Unlock()
		return
	}
	rq.dispatching = true
	now := s.now()
	var due []*models.QueuedNotification
	for _, n := range rq.items {
		if n.Status == models.StatusQueued && !n.ScheduledTime.After(now) {
			due = append(due, n)
		}
	}
	rq.mu.Unlock()

	defer func() {
		rq.mu.Lock()
		rq.dispatching = false
		rq.mu.Unlock()
	}()

	if len(due) == 0 {
		return
	}

	sent, err := s.counter.SentLastHour(ctx, recipientID)
	if err != nil {
		// Счётчик недоступен, считаем что лимит не выбран.
		s.logger.Warn().Err(err).Int64("recipient_id", recipientID).Msg("sent counter unavailable")
		sent = 0
	}

	eligible := filter.Apply(due, s.policyFor(recipientID), now, sent)
	for _, n := range eligible {
		rq.mu.Lock()
		if n.Status != models.StatusQueued {
			// Отменили пока ждали своей очереди.
			rq.mu.Unlock()
			continue
		}
		n.Status = models.StatusProcessing
		rq.mu.Unlock()

		ok, derr := s.dispatcher.Dispatch(ctx, n)
		s.settle(ctx, recipientID, rq, n, ok, derr)
	}
}

// settle records the outcome of one dispatch attempt. A notification
// cancelled while in flight keeps its cancelled status and the result
// is discarded.
func (s *Service) settle(ctx context.Context, recipientID int64, rq *recipientQueue, n *models.QueuedNotification, ok bool, derr error) {
	now := s.now()

	rq.mu.Lock()
	if n.Status == models.StatusCancelled {
		n.ProcessedAt = &now
		rq.mu.Unlock()
		s.logger.Debug().Str("notification_id", n.ID).Msg("late result for cancelled notification discarded")
		return
	}

	if ok {
		n.Status = models.StatusSent
		n.ProcessedAt = &now
		n.LastError = nil
		rq.mu.Unlock()

		if err := s.counter.RecordSent(ctx, recipientID); err != nil {
			s.logger.Warn().Err(err).Int64("recipient_id", recipientID).Msg("failed to record sent notification")
		}
		metrics.IncDelivery("sent")
		s.bus.PublishJSON(events.EventDeliverySent, events.DeliveryPayload{
			NotificationID: n.ID,
			RecipientID:    recipientID,
			Type:           string(n.Type),
			Priority:       string(n.Priority),
			Channels:       n.Channels,
			RetryCount:     n.RetryCount,
		})
		s.logger.Info().Str("notification_id", n.ID).Int64("recipient_id", recipientID).Msg("notification delivered")
		return
	}

	msg := "all channels failed"
	if derr != nil {
		msg = derr.Error()
	}
	n.LastError = &msg

	retryable := derr == nil || s.retryable(derr)
	n.RetryCount++
	if !retryable || n.RetryCount >= n.MaxRetries {
		n.Status = models.StatusFailed
		n.ProcessedAt = &now
		rq.mu.Unlock()

		metrics.IncDelivery("failed")
		s.bus.PublishJSON(events.EventDeliveryFailed, events.DeliveryPayload{
			NotificationID: n.ID,
			RecipientID:    recipientID,
			Type:           string(n.Type),
			Priority:       string(n.Priority),
			Channels:       n.Channels,
			RetryCount:     n.RetryCount,
			Error:          msg,
		})
		s.logger.Error().Str("notification_id", n.ID).Int64("recipient_id", recipientID).
			Int("retry_count", n.RetryCount).Bool("retryable", retryable).Err(derr).
			Msg("notification permanently failed")
		return
	}

	delay := s.retry.NextDelay(n.RetryCount)
	n.Status = models.StatusQueued
	n.ScheduledTime = now.Add(delay)
	sortQueueLocked(rq)
	rq.mu.Unlock()

	metrics.IncDelivery("retried")
	s.logger.Warn().Str("notification_id", n.ID).Int64("recipient_id", recipientID).
		Int("retry_count", n.RetryCount).Dur("next_delay", delay).Err(derr).
		Msg("delivery failed, retry scheduled")
}
