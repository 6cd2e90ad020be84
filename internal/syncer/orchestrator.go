package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notisync/internal/backoff"
	"notisync/internal/cache"
	"notisync/internal/domain"
	"notisync/internal/events"
	"notisync/internal/metrics"
	"notisync/internal/models"

	"github.com/rs/zerolog"
)

// State of the sync request pipeline.
type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING"
	StateRetryWait State = "RETRY_WAIT"
	StateFallback  State = "FALLBACK_TO_CACHE"
)

// Source tags where the returned events came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// ErrSyncInFlight is returned when a sync request overlaps another.
var ErrSyncInFlight = errors.New("sync already in flight")

// DegradedError means the offline fallback itself failed: neither the
// remote nor the local cache could serve the request.
type DegradedError struct {
	Cause    error
	Guidance string
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("degraded: %v (%s)", e.Cause, e.Guidance)
}

func (e *DegradedError) Unwrap() error { return e.Cause }

// Result of a sync request. A non-nil Err together with cache-sourced
// events means stale data served after a remote failure.
type Result struct {
	Events   []models.CalendarEvent
	Source   Source
	SyncedAt *time.Time
	Err      error
}

// Status is a point-in-time snapshot of the orchestrator for the admin
// surface.
type Status struct {
	State      State      `json:"state"`
	Online     bool       `json:"online"`
	RetryCount int        `json:"retry_count"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
}

// Orchestrator decides per sync request whether to read the remote,
// read the cache, or wait and retry, based on connectivity and error
// classification. One sync may be in flight at a time.
type Orchestrator struct {
	cache      *cache.Cache
	remote     domain.RemoteCalendar
	reconciler *Reconciler
	retry      backoff.RetryPolicy
	bus        domain.EventPublisher
	logger     zerolog.Logger

	fetchTimeout time.Duration
	retryBudget  int
	maxResults   int64
	now          func() time.Time

	mu            sync.Mutex
	state         State
	online        bool
	inFlight      bool
	retryCount    int
	netErrPending bool
	retryTimer    *time.Timer
	lastStart     time.Time
	lastEnd       time.Time
}

func NewOrchestrator(c *cache.Cache, remote domain.RemoteCalendar, reconciler *Reconciler, bus domain.EventPublisher, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cache:        c,
		remote:       remote,
		reconciler:   reconciler,
		retry:        backoff.Default(),
		bus:          bus,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
		fetchTimeout: models.RemoteFetchTimeout,
		retryBudget:  models.SyncRetryBudget,
		maxResults:   250,
		now:          time.Now,
		state:        StateIdle,
		online:       true,
	}
}

// Sync serves the requested range, preferring fresh remote data and
// degrading to the cache. Offline requests never touch the network.
func (o *Orchestrator) Sync(ctx context.Context, start, end time.Time) (*Result, error) {
	return o.sync(ctx, start, end, false)
}

// ForceSync attempts the network even while marked offline.
func (o *Orchestrator) ForceSync(ctx context.Context, start, end time.Time) (*Result, error) {
	return o.sync(ctx, start, end, true)
}

func (o *Orchestrator) sync(ctx context.Context, start, end time.Time, force bool) (*Result, error) {
	o.mu.Lock()
	o.lastStart, o.lastEnd = start, end

	if !o.online && !force {
		o.mu.Unlock()
		return o.serveCache(ctx, start, end, nil)
	}

	if o.inFlight {
		o.mu.Unlock()
		return nil, ErrSyncInFlight
	}
	o.inFlight = true
	o.state = StateFetching
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	remoteEvents, err := o.remote.FetchEvents(fetchCtx, start, end, o.maxResults)
	cancel()

	if err == nil {
		return o.handleSuccess(ctx, start, end, remoteEvents)
	}
	return o.handleFailure(ctx, start, end, err)
}

func (o *Orchestrator) handleSuccess(ctx context.Context, start, end time.Time, remoteEvents []models.CalendarEvent) (*Result, error) {
	syncTime := o.now()
	if err := o.cache.CacheEvents(ctx, remoteEvents, syncTime); err != nil {
		o.logger.Error().Err(err).Msg("failed to cache fetched events")
	}

	report, err := o.reconciler.ProcessSyncQueue(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("sync queue processing failed")
	}

	o.mu.Lock()
	o.retryCount = 0
	o.netErrPending = false
	o.state = StateIdle
	o.stopRetryTimerLocked()
	o.mu.Unlock()

	payload := events.SyncPayload{Source: string(SourceRemote), EventCount: len(remoteEvents)}
	if report != nil {
		payload.Applied = report.Applied
		payload.Dropped = len(report.Dropped)
	}
	metrics.IncSync(string(SourceRemote))
	_ = o.bus.PublishJSON(events.EventSyncCompleted, payload)

	return &Result{Events: remoteEvents, Source: SourceRemote, SyncedAt: &syncTime}, nil
}

func (o *Orchestrator) handleFailure(ctx context.Context, start, end time.Time, fetchErr error) (*Result, error) {
	class, retryableErr := classify(fetchErr)

	o.mu.Lock()
	if retryableErr && o.retryCount < o.retryBudget {
		o.retryCount++
		o.state = StateRetryWait
		o.netErrPending = class == classNetwork
		delay := o.retry.NextDelay(o.retryCount)
		o.scheduleRetryLocked(delay)
		o.mu.Unlock()

		o.logger.Warn().Err(fetchErr).Dur("retry_in", delay).Msg("remote fetch failed, retry scheduled")
		return o.serveCache(ctx, start, end, fetchErr)
	}

	o.state = StateFallback
	o.retryCount = 0
	o.netErrPending = class == classNetwork
	o.mu.Unlock()

	o.logger.Error().Err(fetchErr).Msg("remote fetch failed, falling back to cache")
	metrics.IncSync(string(SourceCache))
	_ = o.bus.PublishJSON(events.EventSyncFallback, events.SyncPayload{
		Source: string(SourceCache),
		Error:  fetchErr.Error(),
	})
	return o.serveCache(ctx, start, end, fetchErr)
}

// serveCache reads the cached range. fetchErr, when non-nil, is carried
// on the result so callers can show stale data alongside the failure.
func (o *Orchestrator) serveCache(ctx context.Context, start, end time.Time, fetchErr error) (*Result, error) {
	cached, err := o.cache.CachedEvents(ctx, &start, &end)
	if err != nil {
		return nil, &DegradedError{
			Cause:    err,
			Guidance: "offline cache is unreadable; clear the cache file and force a full sync",
		}
	}

	lastSync, err := o.cache.LastSyncTime(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to read last sync time")
	}

	return &Result{Events: cached, Source: SourceCache, SyncedAt: lastSync, Err: fetchErr}, nil
}

// SetOnline records a connectivity change. An offline-to-online
// transition with a network error pending triggers an immediate retry
// outside the backoff schedule.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	wasOnline := o.online
	o.online = online
	trigger := online && !wasOnline && o.netErrPending
	if trigger {
		o.stopRetryTimerLocked()
	}
	start, end := o.lastStart, o.lastEnd
	o.mu.Unlock()

	if trigger {
		o.logger.Info().Msg("connectivity restored, retrying pending sync")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.fetchTimeout+models.NetworkTimeout)
			defer cancel()
			if _, err := o.sync(ctx, start, end, false); err != nil && !errors.Is(err, ErrSyncInFlight) {
				o.logger.Error().Err(err).Msg("connectivity-triggered sync failed")
			}
		}()
	}
}

// StartAutoSync re-invokes the request pipeline on a fixed interval
// until ctx is done. windowDays bounds the fetched range from today.
func (o *Orchestrator) StartAutoSync(ctx context.Context, interval time.Duration, windowDays int) {
	if interval <= 0 {
		interval = models.AutoSyncInterval
	}
	if windowDays <= 0 {
		windowDays = 7
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := o.now()
			start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			end := start.AddDate(0, 0, windowDays)
			if _, err := o.Sync(ctx, start, end); err != nil && !errors.Is(err, ErrSyncInFlight) {
				o.logger.Error().Err(err).Msg("auto-sync failed")
			}
		}
	}
}

// Status snapshots the pipeline state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	lastSync, err := o.cache.LastSyncTime(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to read last sync time")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:      o.state,
		Online:     o.online,
		RetryCount: o.retryCount,
		LastSync:   lastSync,
	}
}

func (o *Orchestrator) scheduleRetryLocked(delay time.Duration) {
	o.stopRetryTimerLocked()
	start, end := o.lastStart, o.lastEnd
	o.retryTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.fetchTimeout+models.NetworkTimeout)
		defer cancel()
		if _, err := o.sync(ctx, start, end, false); err != nil && !errors.Is(err, ErrSyncInFlight) {
			o.logger.Error().Err(err).Msg("scheduled retry failed")
		}
	})
}

func (o *Orchestrator) stopRetryTimerLocked() {
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
}
