// Package poll drives backend jobs to a terminal status by checking them on a
// fixed interval.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/paperlens/paperlens/internal/backend"
)

// DefaultInterval matches the pages' status polling cadence.
const DefaultInterval = 3 * time.Second

// Check fetches the current status of one job.
type Check func(ctx context.Context) (backend.JobStatus, error)

// Poller repeatedly invokes a Check until it reports a terminal status.
type Poller struct {
	interval time.Duration
	logger   *slog.Logger
	observe  func(backend.JobStatus)
}

// New creates a Poller. If interval is <= 0, it defaults to DefaultInterval.
func New(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		logger:   slog.Default(),
	}
}

// WithObserver registers fn to receive every successfully fetched status,
// terminal or not.
func (p *Poller) WithObserver(fn func(backend.JobStatus)) *Poller {
	p.observe = fn
	return p
}

// Until waits one interval, then checks on every tick until the status is
// done or error. A failed check is logged and the next tick retries. There is
// no attempt limit; cancel ctx to stop, in which case ctx.Err() is returned
// and check is not called again.
func (p *Poller) Until(ctx context.Context, check Check) (backend.JobStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return backend.JobStatus{}, ctx.Err()
		case <-ticker.C:
		}

		// A tick and a cancellation can be ready together.
		if ctx.Err() != nil {
			return backend.JobStatus{}, ctx.Err()
		}

		status, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backend.JobStatus{}, ctx.Err()
			}
			p.logger.Warn("status check failed", "error", err)
			continue
		}
		p.logger.Debug("status check", "status", status.Status)
		if p.observe != nil {
			p.observe(status)
		}
		if status.Terminal() {
			return status, nil
		}
	}
}

// Until is shorthand for New(interval).Until(ctx, check).
func Until(ctx context.Context, interval time.Duration, check Check) (backend.JobStatus, error) {
	return New(interval).Until(ctx, check)
}
