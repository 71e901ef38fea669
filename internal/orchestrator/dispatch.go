package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/shared/rabbitmq"
)

// Dispatcher schedules an Advance of a job
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// ErrDispatcherClosed is returned by Dispatch after the dispatcher shut down
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Advancer runs one step of a job
type Advancer interface {
	Advance(ctx context.Context, jobID string) error
}

// InProcessDispatcher advances jobs on goroutines of the current process,
// at most limit at a time. Used by single-node setups and tests.
type InProcessDispatcher struct {
	base     context.Context
	sem      *semaphore.Weighted
	logger   *slog.Logger
	mu       sync.Mutex // guards advancer, closed and wg.Add against Close
	advancer Advancer
	closed   bool
	wg       sync.WaitGroup
}

// NewInProcessDispatcher runs advances under base, which bounds their lifetime
func NewInProcessDispatcher(base context.Context, limit int64, logger *slog.Logger) *InProcessDispatcher {
	if limit <= 0 {
		limit = 4
	}
	return &InProcessDispatcher{
		base:   base,
		sem:    semaphore.NewWeighted(limit),
		logger: logger,
	}
}

// Bind sets the advancer; it must be called before the first Dispatch
func (d *InProcessDispatcher) Bind(a Advancer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advancer = a
}

// Dispatch starts an advance in the background and returns immediately.
// After Close it refuses new work and the job stays queued for the watchdog.
func (d *InProcessDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	a := d.advancer
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrDispatcherClosed
	case a == nil:
		d.mu.Unlock()
		return fmt.Errorf("dispatcher has no advancer bound")
	case d.base.Err() != nil:
		d.mu.Unlock()
		return d.base.Err()
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.base, 1); err != nil {
			return
		}
		defer d.sem.Release(1)

		if err := a.Advance(d.base, jobID); err != nil {
			d.logger.Warn("In-process advance failed",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Wait blocks until every dispatched advance, including re-dispatches, has returned
func (d *InProcessDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting dispatches and waits for the running advances
func (d *InProcessDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Publisher publishes a JSON message to the advance queue
type Publisher interface {
	PublishJSON(ctx context.Context, v any) error
}

var _ Publisher = (*rabbitmq.Client)(nil)

// QueueDispatcher enqueues advance messages for worker-service
type QueueDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewQueueDispatcher publishes through p
func NewQueueDispatcher(p Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{publisher: p, logger: logger}
}

// Dispatch publishes {"job_id": jobID}
func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if err := d.publisher.PublishJSON(ctx, domain.JobMessage{JobID: jobID}); err != nil {
		return fmt.Errorf("failed to publish advance for job %s: %w", jobID, err)
	}
	d.logger.Debug("Advance enqueued",
		slog.String("job_id", jobID),
	)
	return nil
}
