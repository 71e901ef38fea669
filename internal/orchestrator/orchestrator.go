// Package orchestrator drives jobs through their step lists, one step per
// Advance, with the claim held in the job record rather than in memory.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/store"
)

// JobStore is the durable job record the orchestrator works against
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	CreateVideoJob(ctx context.Context, job *domain.Job, video *domain.Video) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	AppendLog(ctx context.Context, id string, lines ...string) error
	ClaimJob(ctx context.Context, id, token string) (*domain.Job, error)
	CompleteStep(ctx context.Context, c store.StepCompletion) error
	FailJob(ctx context.Context, id, token string, lines ...string) error
	ReleaseClaim(ctx context.Context, id, token string) error
	Heartbeat(ctx context.Context, id, token string) error
}

// VideoStore is the video projection checked when jobs are requested
type VideoStore interface {
	GetVideo(ctx context.Context, id string) (*domain.Video, error)
}

// Config tunes step execution
type Config struct {
	StepTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// Orchestrator creates jobs and advances them
type Orchestrator struct {
	jobs       JobStore
	videos     VideoStore
	registry   *Registry
	dispatcher Dispatcher
	config     Config
	logger     *slog.Logger
}

// New creates an Orchestrator. dispatcher may be nil, in which case
// follow-up advances are left to the watchdog.
func New(jobs JobStore, videos VideoStore, registry *Registry, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Orchestrator{
		jobs:       jobs,
		videos:     videos,
		registry:   registry,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// CreateJobRequest describes a job to create
type CreateJobRequest struct {
	VideoID string
	Kind    domain.JobKind
	Steps   []string
	Meta    map[string]any
	Log     string // first log line, defaults to "Job created"
}

// requirementFor is the capability needed to request a job of kind
func requirementFor(kind domain.JobKind) auth.Requirement {
	if kind == domain.JobKindIngest {
		return auth.RequireAdmin
	}
	return auth.RequireEditorOrAdmin
}

// CreateJob checks authorization and input before writing anything, then
// stores a queued job. The store dispatches the first advance.
func (o *Orchestrator) CreateJob(ctx context.Context, actor *auth.Identity, req CreateJobRequest) (string, error) {
	if err := auth.Authorize(actor, requirementFor(req.Kind)); err != nil {
		return "", err
	}
	if err := o.validate(req); err != nil {
		return "", err
	}
	if _, err := o.videos.GetVideo(ctx, req.VideoID); err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return "", domain.NotFound("video " + req.VideoID)
		}
		return "", err
	}
	return o.insert(ctx, actor, req)
}

func (o *Orchestrator) validate(req CreateJobRequest) error {
	if req.VideoID == "" {
		return domain.InvalidInput("videoId is required")
	}
	if len(req.Steps) == 0 {
		return domain.InvalidInput("steps must not be empty")
	}
	seen := make(map[string]bool, len(req.Steps))
	for _, step := range req.Steps {
		if seen[step] {
			return domain.InvalidInput("duplicate step %q", step)
		}
		seen[step] = true
		if _, ok := o.registry.Lookup(step); !ok {
			return domain.InvalidInput("no executor bound to step %q", step)
		}
	}
	return nil
}

func (o *Orchestrator) insert(ctx context.Context, actor *auth.Identity, req CreateJobRequest) (string, error) {
	job := newJob(actor, req)
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func newJob(actor *auth.Identity, req CreateJobRequest) *domain.Job {
	job := &domain.Job{
		VideoID: req.VideoID,
		Kind:    req.Kind,
		Steps:   req.Steps,
		Meta:    req.Meta,
	}
	if req.Log != "" {
		job.Log = []string{req.Log}
	}
	if actor != nil {
		job.CreatedBy = actor.UID
	}
	return job
}

// Ingest registers the video behind a link and starts the full localization
// pipeline. The video row and the job are written together, so a failed
// insert never leaves the video processing without a job.
func (o *Orchestrator) Ingest(ctx context.Context, actor *auth.Identity, videoID string) (string, error) {
	if err := auth.Authorize(actor, auth.RequireAdmin); err != nil {
		return "", err
	}
	req := CreateJobRequest{VideoID: videoID, Kind: domain.JobKindIngest, Steps: domain.IngestSteps()}
	if err := o.validate(req); err != nil {
		return "", err
	}

	job := newJob(actor, req)
	video := &domain.Video{
		ID:        videoID,
		Status:    domain.VideoStatusProcessing,
		Langs:     domain.InitialLangs(),
		CreatedBy: actor.UID,
	}
	if err := o.jobs.CreateVideoJob(ctx, job, video); err != nil {
		return "", err
	}
	return job.ID, nil
}

// RequestTranslate starts a single translation job
func (o *Orchestrator) RequestTranslate(ctx context.Context, actor *auth.Identity, videoID, lang string) (string, error) {
	if err := auth.Authorize(actor, auth.RequireEditorOrAdmin); err != nil {
		return "", err
	}
	if !domain.ValidTargetLang(lang) {
		return "", domain.InvalidInput("lang must be one of %v", domain.TargetLangs)
	}
	return o.CreateJob(ctx, actor, CreateJobRequest{
		VideoID: videoID,
		Kind:    domain.JobKindTranslate,
		Steps:   []string{domain.TranslateStep(lang)},
		Meta:    map[string]any{"lang": lang},
		Log:     "Translation requested via API",
	})
}

// RequestTTS starts a single dubbing job
func (o *Orchestrator) RequestTTS(ctx context.Context, actor *auth.Identity, videoID, lang string) (string, error) {
	if err := auth.Authorize(actor, auth.RequireEditorOrAdmin); err != nil {
		return "", err
	}
	if !domain.ValidTargetLang(lang) {
		return "", domain.InvalidInput("lang must be one of %v", domain.TargetLangs)
	}
	return o.CreateJob(ctx, actor, CreateJobRequest{
		VideoID: videoID,
		Kind:    domain.JobKindTTS,
		Steps:   []string{domain.TTSStep(lang)},
		Meta:    map[string]any{"lang": lang},
	})
}

// PublishRequest is the metadata pushed to the platform
type PublishRequest struct {
	Title       string
	Description string
	Tags        []string
}

// RequestPublish starts a publish job carrying the new video metadata
func (o *Orchestrator) RequestPublish(ctx context.Context, actor *auth.Identity, videoID string, p PublishRequest) (string, error) {
	if err := auth.Authorize(actor, auth.RequireEditorOrAdmin); err != nil {
		return "", err
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return o.CreateJob(ctx, actor, CreateJobRequest{
		VideoID: videoID,
		Kind:    domain.JobKindPublish,
		Steps:   []string{domain.StepPublish},
		Meta: map[string]any{
			"title":       p.Title,
			"description": p.Description,
			"tags":        tags,
		},
	})
}

// AppendLog appends a line to a job log
func (o *Orchestrator) AppendLog(ctx context.Context, jobID, line string) error {
	return o.jobs.AppendLog(ctx, jobID, line)
}

// Advance runs the current step of a job once. A concurrent or late advance
// that cannot claim the job is a no-op. On success the job moves to its next
// step (or done) and another advance is dispatched; a failing step fails the
// job for good.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	token := uuid.New().String()

	job, err := o.jobs.ClaimJob(ctx, jobID, token)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobTerminal) {
			o.logger.Debug("Advance skipped",
				slog.String("job_id", jobID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	step := job.CurrentStep
	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("step", step),
		slog.Int("attempt", job.Attempt),
	)

	executor, ok := o.registry.Lookup(step)
	if !ok {
		return o.fail(ctx, job, token, nil, fmt.Errorf("no executor bound to step %q", step), logger)
	}

	sc := &StepContext{Job: job, Step: step, Lang: domain.StepLang(step)}
	err = o.execute(ctx, executor, sc, token)

	if err != nil && ctx.Err() != nil {
		// shutdown, not a step failure: let the next advance retry the step
		if relErr := o.jobs.ReleaseClaim(context.WithoutCancel(ctx), job.ID, token); relErr != nil {
			logger.Error("Failed to release claim",
				slog.Any("error", relErr),
			)
		}
		return ctx.Err()
	}
	if err != nil {
		return o.fail(ctx, job, token, sc.Lines(), err, logger)
	}

	lines := append(sc.Lines(), fmt.Sprintf("Step %s completed", step))
	next, more := job.NextStep()
	if !more {
		lines = append(lines, domain.LogJobDone)
	}
	if err := o.jobs.CompleteStep(ctx, store.StepCompletion{
		JobID:      job.ID,
		ClaimToken: token,
		Step:       step,
		NextStep:   next,
		Done:       !more,
		Log:        lines,
	}); err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}

	if !more {
		logger.Info("Job done")
		return nil
	}
	o.dispatchNext(ctx, job.ID, logger)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, e Executor, sc *StepContext, token string) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.config.StepTimeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go o.heartbeat(stepCtx, sc.Job.ID, token, done)

	o.logger.Info("Executing step",
		slog.String("job_id", sc.Job.ID),
		slog.String("step", sc.Step),
	)
	return e.Execute(stepCtx, sc)
}

// heartbeat keeps updated_at fresh while a step runs so the watchdog leaves it alone
func (o *Orchestrator) heartbeat(ctx context.Context, jobID, token string, done <-chan struct{}) {
	ticker := time.NewTicker(o.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.jobs.Heartbeat(ctx, jobID, token); err != nil {
				o.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, token string, lines []string, cause error, logger *slog.Logger) error {
	logger.Error("Step failed",
		slog.Any("error", cause),
	)
	lines = append(lines, fmt.Sprintf("Error in %s: %s", job.CurrentStep, failureMessage(cause)))
	if err := o.jobs.FailJob(context.WithoutCancel(ctx), job.ID, token, lines...); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// failureMessage prefers the caller-safe message of domain errors
func failureMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func (o *Orchestrator) dispatchNext(ctx context.Context, jobID string, logger *slog.Logger) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.Dispatch(ctx, jobID); err != nil {
		logger.Warn("Failed to dispatch next advance, watchdog will retry",
			slog.Any("error", err),
		)
	}
}
