package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

const (
	jobOK       = "11111111-1111-1111-1111-111111111111"
	jobMissing  = "22222222-2222-2222-2222-222222222222"
	jobFlaky    = "33333333-3333-3333-3333-333333333333"
	jobBlocking = "44444444-4444-4444-4444-444444444444"
)

type settlement struct {
	acked   bool
	requeue bool
}

type acknowledger struct {
	mu      sync.Mutex
	settled map[uint64]settlement
}

func newAcknowledger() *acknowledger {
	return &acknowledger{settled: map[uint64]settlement{}}
}

func (a *acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{acked: true}
	return nil
}

func (a *acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{requeue: requeue}
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *acknowledger) get(tag uint64) (settlement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.settled[tag]
	return s, ok
}

type source struct {
	deliveries chan amqp.Delivery
	err        error
}

func (s *source) Consume(string) (<-chan amqp.Delivery, error) {
	return s.deliveries, s.err
}

type advancerFunc func(ctx context.Context, jobID string) error

func (f advancerFunc) Advance(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func newDelivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func TestParseDelivery(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"` + jobOK + `"}`, want: jobOK},
		{name: "not json", body: `job`, wantErr: true},
		{name: "missing id", body: `{}`, wantErr: true},
		{name: "not a uuid", body: `{"job_id":"abc"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDelivery([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "missing job", err: fmt.Errorf("claim: %w", domain.ErrJobNotFound), want: false},
		{name: "bad payload", err: domain.ErrInvalidPayload, want: false},
		{name: "retryable", err: domain.NewRetryableError(errors.New("db down")), want: true},
		{name: "unknown", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeue(tt.err))
		})
	}
}

func TestWorker_SettlesEveryDelivery(t *testing.T) {
	ack := newAcknowledger()
	src := &source{deliveries: make(chan amqp.Delivery, 8)}

	var mu sync.Mutex
	advanced := map[string]int{}
	adv := advancerFunc(func(_ context.Context, jobID string) error {
		mu.Lock()
		advanced[jobID]++
		mu.Unlock()
		switch jobID {
		case jobMissing:
			return fmt.Errorf("failed to claim job: %w", domain.ErrJobNotFound)
		case jobFlaky:
			return errors.New("database is locked")
		}
		return nil
	})

	src.deliveries <- newDelivery(ack, 1, `{"job_id":"`+jobOK+`"}`)
	src.deliveries <- newDelivery(ack, 2, `{"job_id":"`+jobMissing+`"}`)
	src.deliveries <- newDelivery(ack, 3, `{"job_id":"`+jobFlaky+`"}`)
	src.deliveries <- newDelivery(ack, 4, `not json`)
	src.deliveries <- newDelivery(ack, 5, `{"job_id":"nope"}`)
	close(src.deliveries)

	w := NewWorker(&Config{
		Logger:      logger.NewDiscard(),
		Source:      src,
		Advancer:    adv,
		Concurrency: 2,
	})
	err := w.Start(context.Background())
	assert.ErrorIs(t, err, ErrDeliveriesClosed)

	want := map[uint64]settlement{
		1: {acked: true},
		2: {requeue: false},
		3: {requeue: true},
		4: {requeue: false},
		5: {requeue: false},
	}
	for tag, expected := range want {
		got, ok := ack.get(tag)
		require.True(t, ok, "delivery %d not settled", tag)
		assert.Equal(t, expected, got, "delivery %d", tag)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{jobOK: 1, jobMissing: 1, jobFlaky: 1}, advanced)
}

func TestWorker_ShutdownRequeuesInFlight(t *testing.T) {
	ack := newAcknowledger()
	src := &source{deliveries: make(chan amqp.Delivery, 1)}

	started := make(chan struct{})
	adv := advancerFunc(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	w := NewWorker(&Config{Logger: logger.NewDiscard(), Source: src, Advancer: adv})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	src.deliveries <- newDelivery(ack, 7, `{"job_id":"`+jobBlocking+`"}`)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("advance did not start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	got, ok := ack.get(7)
	require.True(t, ok)
	assert.Equal(t, settlement{requeue: true}, got)
}

func TestWorker_Stop(t *testing.T) {
	src := &source{deliveries: make(chan amqp.Delivery)}
	w := NewWorker(&Config{
		Logger:   logger.NewDiscard(),
		Source:   src,
		Advancer: advancerFunc(func(context.Context, string) error { return nil }),
		WorkerID: "worker-test",
	})
	assert.Equal(t, "worker-test", w.ID())

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_ConsumeError(t *testing.T) {
	w := NewWorker(&Config{
		Logger: logger.NewDiscard(),
		Source: &source{err: errors.New("not connected")},
	})
	err := w.Start(context.Background())
	assert.ErrorContains(t, err, "not connected")
}

func TestWorker_AdvanceTimeout(t *testing.T) {
	var deadline bool
	w := NewWorker(&Config{
		Logger:         logger.NewDiscard(),
		AdvanceTimeout: time.Minute,
		Advancer: advancerFunc(func(ctx context.Context, _ string) error {
			_, deadline = ctx.Deadline()
			return nil
		}),
	})
	require.NoError(t, w.processJob(context.Background(), jobOK))
	assert.True(t, deadline)
}
