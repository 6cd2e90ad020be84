// Package syncer drives bidirectional calendar sync: replaying queued
// local mutations against the remote system of record and deciding,
// per request, between remote fetch, cached data and retry.
package syncer

import (
	"context"
	"fmt"

	"notisync/internal/cache"
	"notisync/internal/domain"
	"notisync/internal/events"
	"notisync/internal/metrics"
	"notisync/internal/models"

	"github.com/rs/zerolog"
)

// Reconciler drains the pending-mutation queue with bounded retry.
// An operation that fails maxAttempts times is dropped from the queue
// and reported, never retried again.
type Reconciler struct {
	cache       *cache.Cache
	remote      domain.RemoteCalendar
	bus         domain.EventPublisher
	logger      zerolog.Logger
	maxAttempts int
}

// ReconcileReport summarizes one queue drain. Dropped operations are
// lost changes: callers must surface them, not just log them.
type ReconcileReport struct {
	Applied int
	Retried int
	Dropped []models.SyncOperation
}

func NewReconciler(c *cache.Cache, remote domain.RemoteCalendar, bus domain.EventPublisher, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cache:       c,
		remote:      remote,
		bus:         bus,
		logger:      logger.With().Str("component", "reconciler").Logger(),
		maxAttempts: models.SyncOpMaxAttempts,
	}
}

// ProcessSyncQueue attempts to apply every pending mutation remotely.
func (r *Reconciler) ProcessSyncQueue(ctx context.Context) (*ReconcileReport, error) {
	ops, err := r.cache.PendingOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sync queue: %w", err)
	}

	report := &ReconcileReport{}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		applyErr := r.remote.ApplyMutation(ctx, op)
		if applyErr == nil {
			if err := r.cache.RemoveOperation(ctx, op.ID); err != nil {
				r.logger.Error().Err(err).Int64("op_id", op.ID).Msg("remove applied sync operation")
			}
			report.Applied++
			continue
		}

		count, err := r.cache.RecordOperationFailure(ctx, op.ID, applyErr.Error())
		if err != nil {
			r.logger.Error().Err(err).Int64("op_id", op.ID).Msg("record sync failure")
			continue
		}

		if count >= r.maxAttempts {
			if err := r.cache.RemoveOperation(ctx, op.ID); err != nil {
				r.logger.Error().Err(err).Int64("op_id", op.ID).Msg("drop exhausted sync operation")
			}
			op.RetryCount = count
			msg := applyErr.Error()
			op.LastError = &msg
			report.Dropped = append(report.Dropped, op)

			metrics.IncDroppedOp()
			r.logger.Error().Int64("op_id", op.ID).Str("op_type", string(op.Type)).Err(applyErr).
				Msg("sync operation dropped after exhausting retries, local change lost")
			_ = r.bus.PublishJSON(events.EventSyncOpDropped, events.SyncOpPayload{
				OpID:      op.ID,
				OpType:    string(op.Type),
				Attempts:  count,
				LastError: msg,
			})
			continue
		}

		report.Retried++
		r.logger.Warn().Err(applyErr).Int64("op_id", op.ID).Int("attempt", count).Msg("sync operation failed, will retry")
	}

	return report, nil
}
