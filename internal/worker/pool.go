package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop drains jobsChan until it is closed. Every task is settled, so a
// canceled ctx still NACKs what it receives.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for t := range w.jobsChan {
		err := w.processJob(ctx, t.jobID)
		w.settle(logger, t, err)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

func (w *Worker) settle(logger *slog.Logger, t *task, err error) {
	logger = logger.With(
		slog.String("job_id", t.jobID),
		slog.Uint64("delivery_tag", t.delivery.DeliveryTag),
	)

	if err == nil {
		if ackErr := t.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message",
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	logger.Warn("Advance not completed",
		slog.Any("error", err),
		slog.Bool("requeue", requeue),
	)
	if nackErr := t.delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message",
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeue only requeues transient failures
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}
	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
