// Package maintenance runs periodic housekeeping over the local store while
// the server is up.
package maintenance

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs Jobs on cron specs. Standard five-field specs and
// descriptors such as "@every 1h" or "@daily" are accepted. A job whose
// previous run is still in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	logger  *slog.Logger
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		logger:  slog.Default(),
	}
}

// Add schedules job on spec. An empty spec disables the job.
func (s *Scheduler) Add(job Job, spec string) error {
	logger := s.logger.With("job", job.Name(), "spec", spec)
	if spec == "" {
		logger.Info("job disabled")
		return nil
	}
	entryID, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", "error", err)
		return err
	}
	s.entries[job.Name()] = entryID
	logger.Info("job scheduled")
	return nil
}

// Start begins running scheduled jobs with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow runs the named job once, outside its schedule, honoring the
// overlap guard.
func (s *Scheduler) RunNow(name string) bool {
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Entry(id).WrappedJob.Run()
	return true
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := s.logger.With("job", job.Name(), "spec", spec)
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		logger.Debug("job started")
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job finished", "error", err, "duration", elapsed)
			return
		}
		logger.Info("job finished", "duration", elapsed)
	}
}
