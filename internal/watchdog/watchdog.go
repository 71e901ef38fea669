// Package watchdog resolves jobs that stopped making progress: claimed jobs
// whose heartbeat went quiet are failed, and jobs nobody holds are dispatched again.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// Store is the job surface the watchdog needs
type Store interface {
	StaleJobs(ctx context.Context, status domain.JobStatus, before time.Time, limit int) ([]domain.Job, error)
	FailStaleJob(ctx context.Context, id string, before time.Time, line string) (bool, error)
	Redispatch(ctx context.Context, id string) error
}

// Config tunes sweeps
type Config struct {
	Interval     time.Duration
	StuckAfter   time.Duration // claimed running jobs quiet this long are failed
	RequeueAfter time.Duration // unclaimed jobs idle this long are dispatched again
	BatchSize    int
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 45 * time.Minute
	}
	if c.RequeueAfter <= 0 {
		c.RequeueAfter = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// SweepResult counts what one sweep changed
type SweepResult struct {
	Failed       int
	Redispatched int
}

// Watchdog periodically sweeps stale jobs
type Watchdog struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Watchdog
type Option func(*Watchdog)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// New creates a Watchdog
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Watchdog {
	cfg.setDefaults()
	w := &Watchdog{
		store:  store,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run sweeps immediately and then every interval until ctx is done
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("Watchdog started",
		slog.Duration("interval", w.config.Interval),
		slog.Duration("stuck_after", w.config.StuckAfter),
		slog.Duration("requeue_after", w.config.RequeueAfter),
	)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Watchdog sweep failed",
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over running and queued jobs
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := w.now()
	stuckBefore := now.Add(-w.config.StuckAfter)
	requeueBefore := now.Add(-w.config.RequeueAfter)

	scanBefore := requeueBefore
	if stuckBefore.After(scanBefore) {
		scanBefore = stuckBefore
	}
	running, err := w.store.StaleJobs(ctx, domain.JobStatusRunning, scanBefore, w.config.BatchSize)
	if err != nil {
		return res, err
	}

	for i := range running {
		job := &running[i]
		logger := w.logger.With(
			slog.String("job_id", job.ID),
			slog.String("step", job.CurrentStep),
			slog.Time("updated_at", job.UpdatedAt),
		)

		switch {
		case job.ClaimToken == "" && job.UpdatedAt.Before(requeueBefore):
			// between steps or released on shutdown; the next advance was lost
			if err := w.store.Redispatch(ctx, job.ID); err != nil {
				logger.Warn("Failed to redispatch idle job", slog.Any("error", err))
				continue
			}
			logger.Info("Redispatched idle running job")
			res.Redispatched++

		case job.ClaimToken != "" && job.UpdatedAt.Before(stuckBefore):
			line := fmt.Sprintf("Error in %s: no progress for %s, marked failed by watchdog",
				job.CurrentStep, w.config.StuckAfter)
			changed, err := w.store.FailStaleJob(ctx, job.ID, stuckBefore, line)
			if err != nil {
				return res, err
			}
			if changed {
				logger.Warn("Failed stuck job")
				res.Failed++
			}
		}
	}

	queued, err := w.store.StaleJobs(ctx, domain.JobStatusQueued, requeueBefore, w.config.BatchSize)
	if err != nil {
		return res, err
	}
	for _, job := range queued {
		if err := w.store.Redispatch(ctx, job.ID); err != nil {
			w.logger.Warn("Failed to redispatch queued job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}
		res.Redispatched++
	}

	if res.Failed > 0 || res.Redispatched > 0 {
		w.logger.Info("Watchdog sweep finished",
			slog.Int("failed", res.Failed),
			slog.Int("redispatched", res.Redispatched),
		)
	}
	return res, nil
}
