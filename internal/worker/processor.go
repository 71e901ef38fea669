package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// processJob runs one advance. Claim conflicts, terminal jobs and failed steps
// are settled inside Advance and come back as nil.
func (w *Worker) processJob(ctx context.Context, jobID string) error {
	if ctx.Err() != nil {
		return domain.NewRetryableError(ctx.Err())
	}

	advanceCtx := ctx
	if w.advanceTimeout > 0 {
		var cancel context.CancelFunc
		advanceCtx, cancel = context.WithTimeout(ctx, w.advanceTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.advancer.Advance(advanceCtx, jobID)
	logger := w.logger.With(
		slog.String("job_id", jobID),
		slog.Duration("elapsed", time.Since(start)),
	)

	switch {
	case err == nil:
		logger.Info("Advance finished")
		return nil
	case errors.Is(err, domain.ErrJobNotFound):
		logger.Error("Advance for unknown job")
		return err
	default:
		// shutdown, timeout or store trouble: another delivery may succeed
		return domain.NewRetryableError(err)
	}
}
