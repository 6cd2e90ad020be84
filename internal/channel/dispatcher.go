package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notisync/internal/models"

	"github.com/rs/zerolog"
)

// Dispatcher fans one notification out across its channels. Channels
// fail independently; the dispatch succeeds if at least one of them
// delivered.
type Dispatcher struct {
	channels map[string]Channel
	timeout  time.Duration
	logger   zerolog.Logger
}

// Channel matches domain.Channel; declared locally so the package has
// no import cycle with consumers registering custom channels.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *models.QueuedNotification) error
}

func NewDispatcher(timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = models.NetworkTimeout
	}
	return &Dispatcher{
		channels: make(map[string]Channel),
		timeout:  timeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register adds a channel under its own name.
func (d *Dispatcher) Register(ch Channel) {
	d.channels[ch.Name()] = ch
}

// Registered reports whether a channel name is known.
func (d *Dispatcher) Registered(name string) bool {
	_, ok := d.channels[name]
	return ok
}

// Dispatch sends through every requested channel in parallel and waits
// for all attempts before settling. Returns true if any channel
// succeeded; the error joins every per-channel failure for audit.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.QueuedNotification) (bool, error) {
	if len(n.Channels) == 0 {
		return false, &ValidationError{Message: "notification has no channels"}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success bool
		errs    []error
	)

	for _, name := range n.Channels {
		ch, ok := d.channels[name]
		if !ok {
			mu.Lock()
			errs = append(errs, &ValidationError{Message: fmt.Sprintf("unknown channel %q", name)})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := ch.Send(sendCtx, n); err != nil {
				d.logger.Warn().Err(err).
					Str("channel", name).
					Str("notification_id", n.ID).
					Msg("channel delivery failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				return
			}

			mu.Lock()
			success = true
			mu.Unlock()
		}(name, ch)
	}

	wg.Wait()
	return success, errors.Join(errs...)
}
