package repository

import (
	"context"
	"sync/atomic"
	"time"

	"notisync/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverSentCounter prefers the primary store and degrades to the
// fallback when it fails, probing the primary again after a minute.
// Counts may diverge during a failover window; the rate cap treats
// that as acceptable drift.
type FailoverSentCounter struct {
	primary   domain.SentCounter
	fallback  domain.SentCounter
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSentCounter(primary, fallback domain.SentCounter, logger *zerolog.Logger) *FailoverSentCounter {
	return &FailoverSentCounter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSentCounter) SentLastHour(ctx context.Context, recipientID int64) (int, error) {
	if r.primaryAvailable() {
		count, err := r.primary.SentLastHour(ctx, recipientID)
		if err == nil {
			r.isDown.Store(false)
			return count, nil
		}
		r.markDown(err)
	}
	return r.fallback.SentLastHour(ctx, recipientID)
}

func (r *FailoverSentCounter) RecordSent(ctx context.Context, recipientID int64) error {
	if r.primaryAvailable() {
		err := r.primary.RecordSent(ctx, recipientID)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.RecordSent(ctx, recipientID)
}

// primaryAvailable returns true when the primary is believed up, or
// when enough time has passed to probe it again.
func (r *FailoverSentCounter) primaryAvailable() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(r.lastCheck.Load(), 0)
	return time.Since(last) > time.Minute
}

func (r *FailoverSentCounter) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary sent counter failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().Unix())
}
