package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/store"
	"github.com/cuongbtq/dubbing-be/internal/store/storetest"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

const videoID = "dQw4w9WgXcQ"

var (
	admin  = &auth.Identity{UID: "admin-1", Roles: auth.NewRoleSet(auth.RoleAdmin)}
	editor = &auth.Identity{UID: "editor-1", Roles: auth.NewRoleSet(auth.RoleEditor)}
	nobody = &auth.Identity{UID: "viewer-1"}
)

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) executor(fail error) Executor {
	return ExecutorFunc(func(ctx context.Context, sc *StepContext) error {
		c.mu.Lock()
		if c.calls == nil {
			c.calls = map[string]int{}
		}
		c.calls[sc.Step]++
		c.mu.Unlock()
		sc.Logf("ran %s", sc.Step)
		return fail
	})
}

func (c *counter) count(step string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[step]
}

func newOrchestrator(t *testing.T, registry *Registry, dispatcher Dispatcher) (*Orchestrator, *store.Store) {
	t.Helper()
	s := storetest.New(t)
	_, err := s.CreateVideoIfMissing(context.Background(), &domain.Video{ID: videoID})
	require.NoError(t, err)
	o := New(s, s, registry, dispatcher, Config{StepTimeout: 5 * time.Second, HeartbeatInterval: time.Second}, logger.NewDiscard())
	return o, s
}

func TestRegistryLookup(t *testing.T) {
	exact := ExecutorFunc(func(context.Context, *StepContext) error { return nil })
	short := ExecutorFunc(func(context.Context, *StepContext) error { return errors.New("short") })
	long := ExecutorFunc(func(context.Context, *StepContext) error { return errors.New("long") })

	r := NewRegistry().
		Register("translate-en", exact).
		RegisterPrefix("translate-", short).
		RegisterPrefix("translate-e", long)

	tests := []struct {
		step    string
		found   bool
		wantErr string
	}{
		{step: "translate-en", found: true},
		{step: "translate-es", found: true, wantErr: "long"},
		{step: "translate-fr", found: true, wantErr: "short"},
		{step: "translate-", found: false},
		{step: "mux", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			e, ok := r.Lookup(tt.step)
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			err := e.Execute(context.Background(), &StepContext{})
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
	assert.Equal(t, []string{"translate-*", "translate-e*", "translate-en"}, r.Steps())
}

func TestCreateJob_Validation(t *testing.T) {
	c := &counter{}
	o, s := newOrchestrator(t, NewRegistry().Register("a", c.executor(nil)), nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor *auth.Identity
		req   CreateJobRequest
		code  domain.Code
	}{
		{"anonymous", nil, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a"}}, domain.CodeForbidden},
		{"noRole", nobody, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a"}}, domain.CodeForbidden},
		{"editorCannotIngest", editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindIngest, Steps: []string{"a"}}, domain.CodeForbidden},
		{"emptySteps", editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS}, domain.CodeInvalidInput},
		{"unboundStep", editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a", "zzz"}}, domain.CodeInvalidInput},
		{"duplicateStep", editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a", "a"}}, domain.CodeInvalidInput},
		{"unknownVideo", editor, CreateJobRequest{VideoID: "AAAAAAAAAAA", Kind: domain.JobKindTTS, Steps: []string{"a"}}, domain.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.CreateJob(ctx, tt.actor, tt.req)
			assert.Equal(t, tt.code, domain.AsError(err).Code)
		})
	}

	jobs, err := s.ListJobs(ctx, store.JobQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected requests must not write")
}

func TestAdvance_ConcurrentAdvancesExecuteStepOnce(t *testing.T) {
	ctx := context.Background()
	c := &counter{}
	release := make(chan struct{})
	slow := ExecutorFunc(func(ctx context.Context, sc *StepContext) error {
		<-release
		return c.executor(nil).Execute(ctx, sc)
	})
	o, s := newOrchestrator(t, NewRegistry().Register("a", slow).Register("b", c.executor(nil)), nil)

	jobID, err := o.CreateJob(ctx, editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a", "b"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Advance(ctx, jobID))
		}()
	}

	// one advance holds the claim and blocks in step a; the other must no-op
	require.Eventually(t, func() bool {
		job, err := s.GetJob(ctx, jobID)
		return err == nil && job.Attempt == 1 && job.ClaimToken != ""
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// the losing advance may have arrived after step a completed and run b
	assert.Equal(t, 1, c.count("a"))
	assert.LessOrEqual(t, c.count("b"), 1)
	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "b", job.CurrentStep)
	assert.Empty(t, job.ClaimToken)
}

func TestAdvance_FailingStepIsTerminal(t *testing.T) {
	ctx := context.Background()
	c := &counter{}
	o, s := newOrchestrator(t, NewRegistry().Register("a", c.executor(errors.New("provider exploded"))), nil)

	jobID, err := o.CreateJob(ctx, editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a"}})
	require.NoError(t, err)

	require.NoError(t, o.Advance(ctx, jobID))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Log)
	assert.Equal(t, "Error in a: provider exploded", job.Log[len(job.Log)-1])
	assert.Contains(t, job.Log, "ran a")

	// further advances never resurrect the job
	for i := 0; i < 3; i++ {
		require.NoError(t, o.Advance(ctx, jobID))
	}
	job, err = s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, c.count("a"))
}

func TestAdvance_RunsAllStepsToDone(t *testing.T) {
	c := &counter{}
	registry := NewRegistry().
		Register("a", c.executor(nil)).
		Register("b", c.executor(nil)).
		Register("c", c.executor(nil))

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewInProcessDispatcher(base, 2, logger.NewDiscard())

	s := storetest.New(t)
	ctx := context.Background()
	_, err := s.CreateVideoIfMissing(ctx, &domain.Video{ID: videoID})
	require.NoError(t, err)
	o := New(s, s, registry, d, Config{}, logger.NewDiscard())
	d.Bind(o)
	s.SetDispatcher(d)

	jobID, err := o.CreateJob(ctx, editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a", "b", "c"}})
	require.NoError(t, err)

	d.Wait()

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, job.Status)
	assert.Equal(t, "c", job.CurrentStep)
	assert.GreaterOrEqual(t, len(job.Log), 4)
	assert.Equal(t, domain.LogJobCreated, job.Log[0])
	assert.Equal(t, domain.LogJobDone, job.Log[len(job.Log)-1])
	for _, step := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, c.count(step), step)
	}
}

func TestAdvance_CanceledStepReleasesClaim(t *testing.T) {
	started := make(chan struct{})
	blocking := ExecutorFunc(func(ctx context.Context, sc *StepContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	o, s := newOrchestrator(t, NewRegistry().Register("a", blocking), nil)

	jobID, err := o.CreateJob(context.Background(), editor, CreateJobRequest{VideoID: videoID, Kind: domain.JobKindTTS, Steps: []string{"a"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Advance(ctx, jobID) }()
	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Empty(t, job.ClaimToken)
}

func TestAdvance_MissingJob(t *testing.T) {
	o, _ := newOrchestrator(t, NewRegistry(), nil)
	err := o.Advance(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	c := &counter{}
	registry := NewRegistry().
		Register(domain.StepIngest, c.executor(nil)).
		Register(domain.StepTranscribe, c.executor(nil)).
		RegisterPrefix(domain.StepTranslatePrefix, c.executor(nil)).
		RegisterPrefix(domain.StepTTSPrefix, c.executor(nil)).
		Register(domain.StepMux, c.executor(nil))
	o, s := newOrchestrator(t, registry, nil)

	_, err := o.Ingest(ctx, editor, "AAAAAAAAAAA")
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))
	_, err = s.GetVideo(ctx, "AAAAAAAAAAA")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)

	jobID, err := o.Ingest(ctx, admin, "AAAAAAAAAAA")
	require.NoError(t, err)

	v, err := s.GetVideo(ctx, "AAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, jobID, v.LastJobID)
	assert.Equal(t, domain.VideoStatusProcessing, v.Status)
	assert.Equal(t, domain.InitialLangs(), v.Langs)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestSteps(), job.Steps)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "admin-1", job.CreatedBy)
}

func TestRequestTranslateTTSPublish(t *testing.T) {
	ctx := context.Background()
	c := &counter{}
	registry := NewRegistry().
		RegisterPrefix(domain.StepTranslatePrefix, c.executor(nil)).
		RegisterPrefix(domain.StepTTSPrefix, c.executor(nil)).
		Register(domain.StepPublish, c.executor(nil))
	o, s := newOrchestrator(t, registry, nil)

	_, err := o.RequestTranslate(ctx, editor, videoID, "fr")
	assert.True(t, domain.IsCode(err, domain.CodeInvalidInput))
	_, err = o.RequestTTS(ctx, nobody, videoID, "en")
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))

	id, err := o.RequestTranslate(ctx, editor, videoID, "es")
	require.NoError(t, err)
	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"translate-es"}, job.Steps)
	assert.Equal(t, []string{"Translation requested via API"}, job.Log)
	assert.Equal(t, "es", job.MetaString("lang"))

	id, err = o.RequestTTS(ctx, admin, videoID, "en")
	require.NoError(t, err)
	job, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"tts-en"}, job.Steps)
	assert.Equal(t, domain.JobKindTTS, job.Kind)

	id, err = o.RequestPublish(ctx, editor, videoID, PublishRequest{Title: "T", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	job, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "T", job.MetaString("title"))
	assert.Equal(t, []string{"a", "b"}, job.MetaStrings("tags"))

	require.NoError(t, o.AppendLog(ctx, id, "note"))
	job, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "note", job.Log[len(job.Log)-1])
}

type fakePublisher struct {
	msgs []any
	err  error
}

func (p *fakePublisher) PublishJSON(_ context.Context, v any) error {
	p.msgs = append(p.msgs, v)
	return p.err
}

func TestQueueDispatcher(t *testing.T) {
	p := &fakePublisher{}
	d := NewQueueDispatcher(p, logger.NewDiscard())

	require.NoError(t, d.Dispatch(context.Background(), "job-1"))
	assert.Equal(t, []any{domain.JobMessage{JobID: "job-1"}}, p.msgs)

	p.err = errors.New("closed")
	assert.Error(t, d.Dispatch(context.Background(), "job-2"))
}

func TestInProcessDispatcher_Unbound(t *testing.T) {
	d := NewInProcessDispatcher(context.Background(), 1, logger.NewDiscard())
	assert.Error(t, d.Dispatch(context.Background(), "job"))

	var n int32
	d.Bind(advancerFunc(func(context.Context, string) error { atomic.AddInt32(&n, 1); return nil }))
	require.NoError(t, d.Dispatch(context.Background(), "job"))
	d.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestInProcessDispatcher_CloseRefusesNewWork(t *testing.T) {
	d := NewInProcessDispatcher(context.Background(), 2, logger.NewDiscard())
	release := make(chan struct{})
	var n int32
	d.Bind(advancerFunc(func(context.Context, string) error {
		atomic.AddInt32(&n, 1)
		<-release
		return nil
	}))

	require.NoError(t, d.Dispatch(context.Background(), "job-1"))

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.closed
	}, time.Second, time.Millisecond)

	// a dispatch arriving while Close waits is refused instead of joining the wait
	assert.ErrorIs(t, d.Dispatch(context.Background(), "job-2"), ErrDispatcherClosed)

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the running advance finished")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
	assert.ErrorIs(t, d.Dispatch(context.Background(), "job-3"), ErrDispatcherClosed)
}

type advancerFunc func(ctx context.Context, jobID string) error

func (f advancerFunc) Advance(ctx context.Context, jobID string) error { return f(ctx, jobID) }
