// Package worker consumes advance messages from RabbitMQ and runs them on a
// bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/dubbing-be/internal/orchestrator"
	"github.com/cuongbtq/dubbing-be/shared/rabbitmq"
)

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Source starts a consumer on the advance queue
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

var _ Source = (*rabbitmq.Client)(nil)

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Source      Source
	Advancer    orchestrator.Advancer
	WorkerID    string
	Concurrency int
	// AdvanceTimeout bounds one advance including its step; zero means no bound
	AdvanceTimeout time.Duration
}

// Worker represents the background advance consumer
type Worker struct {
	logger         *slog.Logger
	source         Source
	advancer       orchestrator.Advancer
	workerID       string
	concurrency    int
	advanceTimeout time.Duration
	jobsChan       chan *task
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	return &Worker{
		logger:         cfg.Logger,
		source:         cfg.Source,
		advancer:       cfg.Advancer,
		workerID:       workerID,
		concurrency:    concurrency,
		advanceTimeout: cfg.AdvanceTimeout,
		jobsChan:       make(chan *task, concurrency),
		stopChan:       make(chan struct{}),
	}
}

// ID returns the consumer tag of the worker
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes until ctx is canceled, Stop is called or the broker closes the
// delivery channel. In-flight advances are settled before it returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("advance_timeout", w.advanceTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	err = w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
	return err
}

// Stop asks a running Start to return
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
