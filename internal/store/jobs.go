package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const jobColumns = `id, video_id, kind, steps, current_step, status, log, meta,
	attempt, claim_token, created_by, created_at, updated_at`

type jobRow struct {
	ID          string         `db:"id"`
	VideoID     string         `db:"video_id"`
	Kind        string         `db:"kind"`
	Steps       string         `db:"steps"`
	CurrentStep string         `db:"current_step"`
	Status      string         `db:"status"`
	Log         string         `db:"log"`
	Meta        string         `db:"meta"`
	Attempt     int            `db:"attempt"`
	ClaimToken  sql.NullString `db:"claim_token"`
	CreatedBy   string         `db:"created_by"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:          r.ID,
		VideoID:     r.VideoID,
		Kind:        domain.JobKind(r.Kind),
		CurrentStep: r.CurrentStep,
		Status:      domain.JobStatus(r.Status),
		Attempt:     r.Attempt,
		ClaimToken:  r.ClaimToken.String,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := unmarshalJSON(r.Steps, &job.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Log, &job.Log); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Meta, &job.Meta); err != nil {
		return nil, err
	}
	return job, nil
}

// JobCursor marks a position in the created_at DESC, id DESC ordering
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobQuery filters and bounds a job listing
type JobQuery struct {
	Status  domain.JobStatus
	Kind    domain.JobKind
	VideoID string
	Limit   int
	Cursor  *JobCursor
}

// JobPatch is a shallow merge: nil fields are left untouched and AppendLog
// appends instead of replacing.
type JobPatch struct {
	Status      *domain.JobStatus
	CurrentStep *string
	Meta        map[string]any
	AppendLog   []string
}

// StepCompletion releases a claim after a step succeeded
type StepCompletion struct {
	JobID      string
	ClaimToken string
	Step       string
	NextStep   string // ignored when Done
	Done       bool
	Log        []string
}

// CreateJob writes a new queued job and then fires the dispatcher once.
// A dispatch failure leaves the job queued for the watchdog to pick up.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := s.prepareJob(job); err != nil {
		return err
	}
	if err := s.insertJob(ctx, s.db, job); err != nil {
		return err
	}
	s.created(ctx, job)
	return nil
}

// CreateVideoJob registers video if it is missing, marks it processing with
// job as its last job and inserts job, all in one transaction. The dispatcher
// fires once after the commit.
func (s *Store) CreateVideoJob(ctx context.Context, job *domain.Job, video *domain.Video) error {
	if err := s.prepareJob(job); err != nil {
		return err
	}
	video.ID = job.VideoID

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.insertVideo(ctx, tx, video); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE videos SET status = ?, last_job_id = ?, updated_at = ? WHERE id = ?
	`), string(domain.VideoStatusProcessing), job.ID, s.now(), video.ID); err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	if err := s.insertJob(ctx, tx, job); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}

	s.created(ctx, job)
	return nil
}

func (s *Store) prepareJob(job *domain.Job) error {
	if len(job.Steps) == 0 {
		return domain.InvalidInput("job steps must not be empty")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := s.now()
	job.Status = domain.JobStatusQueued
	job.CurrentStep = job.Steps[0]
	if len(job.Log) == 0 {
		job.Log = []string{domain.LogJobCreated}
	}
	job.ClaimToken = ""
	job.Attempt = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func (s *Store) insertJob(ctx context.Context, ex sqlx.ExecerContext, job *domain.Job) error {
	steps, err := marshalJSON(job.Steps)
	if err != nil {
		return err
	}
	logLines, err := marshalJSON(job.Log)
	if err != nil {
		return err
	}
	meta := "{}"
	if job.Meta != nil {
		if meta, err = marshalJSON(job.Meta); err != nil {
			return err
		}
	}

	query := s.q(`
		INSERT INTO jobs (
			id, video_id, kind, steps, current_step, status, log, meta,
			attempt, claim_token, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)
	`)

	_, err = ex.ExecContext(ctx, query,
		job.ID, job.VideoID, string(job.Kind), steps, job.CurrentStep, string(job.Status),
		logLines, meta, job.CreatedBy, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// created logs a committed job and fires the dispatcher once
func (s *Store) created(ctx context.Context, job *domain.Job) {
	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("video_id", job.VideoID),
		slog.String("kind", string(job.Kind)),
		slog.Any("steps", job.Steps),
	)

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
			s.logger.Warn("Failed to dispatch created job, leaving it queued",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}
}

// GetJob retrieves a job by id
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+jobColumns+" FROM jobs WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// ListJobs returns jobs newest first, optionally filtered and paginated
func (s *Store) ListJobs(ctx context.Context, q JobQuery) ([]domain.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE 1=1"
	args := []any{}

	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.VideoID != "" {
		query += " AND video_id = ?"
		args = append(args, q.VideoID)
	}
	if q.Cursor != nil {
		query += " AND (created_at, id) < (?, ?)"
		args = append(args, q.Cursor.CreatedAt, q.Cursor.JobID)
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return rowsToJobs(rows)
}

func rowsToJobs(rows []jobRow) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// UpdateJob applies a shallow merge patch to a job. A patch that touches
// status or current step is checked against the stored job and applied with a
// compare-and-swap on both, so status never moves backward, a finished job is
// never resurrected and the current step stays one of the job's steps.
func (s *Store) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	sets := []string{}
	args := []any{}
	where := "id = ?"
	whereArgs := []any{id}

	if patch.Status != nil || patch.CurrentStep != nil {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(job, patch); err != nil {
			return err
		}
		where += " AND status = ? AND current_step = ?"
		whereArgs = append(whereArgs, string(job.Status), job.CurrentStep)
	}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *patch.CurrentStep)
	}
	if patch.Meta != nil {
		meta, err := marshalJSON(patch.Meta)
		if err != nil {
			return err
		}
		sets = append(sets, "meta = ?")
		args = append(args, meta)
	}
	if len(patch.AppendLog) > 0 {
		sets = append(sets, "log = "+s.appendLogN(len(patch.AppendLog)))
		for _, line := range patch.AppendLog {
			args = append(args, line)
		}
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, s.now())
	args = append(args, whereArgs...)

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE " + where
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if len(whereArgs) > 1 {
			return domain.ErrStepConflict
		}
		return domain.ErrJobNotFound
	}
	return nil
}

func checkTransition(job *domain.Job, patch JobPatch) error {
	if patch.Status != nil {
		next := *patch.Status
		if !next.Valid() {
			return domain.InvalidInput("invalid job status %q", next)
		}
		if job.Status.Terminal() && next != job.Status {
			return fmt.Errorf("%w: cannot move %s job to %s", domain.ErrJobTerminal, job.Status, next)
		}
		if !job.Status.CanMoveTo(next) {
			return domain.InvalidInput("job status cannot move from %s to %s", job.Status, next)
		}
	}
	if patch.CurrentStep != nil {
		if job.Status.Terminal() && *patch.CurrentStep != job.CurrentStep {
			return fmt.Errorf("%w: cannot change the step of a %s job", domain.ErrJobTerminal, job.Status)
		}
		if !job.HasStep(*patch.CurrentStep) {
			return domain.InvalidInput("step %q is not part of the job", *patch.CurrentStep)
		}
	}
	return nil
}

// AppendLog appends lines to the job log, preserving prior entries and their order
func (s *Store) AppendLog(ctx context.Context, id string, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	return s.UpdateJob(ctx, id, JobPatch{AppendLog: lines})
}

// appendLogN nests the single-element append so several lines land in order
func (s *Store) appendLogN(n int) string {
	if s.isSQLite() {
		expr := "log"
		for i := 0; i < n; i++ {
			expr = "json_insert(" + expr + ", '$[#]', ?)"
		}
		return expr
	}
	if n == 1 {
		return s.appendLogExpr()
	}
	params := make([]string, n)
	for i := range params {
		params[i] = "?::text"
	}
	return "(log::jsonb || jsonb_build_array(" + strings.Join(params, ", ") + "))::text"
}

// ClaimJob takes the advance claim on a job with a compare-and-swap.
// A queued job moves to running; a running job without a claim is re-claimed.
// Losers observe ErrJobAlreadyClaimed, ErrJobTerminal or ErrJobNotFound.
func (s *Store) ClaimJob(ctx context.Context, id, token string) (*domain.Job, error) {
	now := s.now()

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs
		SET status = ?, claim_token = ?, attempt = attempt + 1,
		    log = `+s.appendLogExpr()+`, updated_at = ?
		WHERE id = ? AND status = ? AND claim_token IS NULL
	`), string(domain.JobStatusRunning), token, domain.LogJobRunning, now, id, string(domain.JobStatusQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		res, err = s.db.ExecContext(ctx, s.q(`
			UPDATE jobs
			SET claim_token = ?, attempt = attempt + 1, updated_at = ?
			WHERE id = ? AND status = ? AND claim_token IS NULL
		`), token, now, id, string(domain.JobStatusRunning))
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if n, err = rowsAffected(res); err != nil {
			return nil, err
		}
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		if job.Status.Terminal() {
			return nil, domain.ErrJobTerminal
		}
		s.logger.Debug("Failed to claim job - already claimed",
			slog.String("job_id", id),
		)
		return nil, domain.ErrJobAlreadyClaimed
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", id),
		slog.String("step", job.CurrentStep),
		slog.Int("attempt", job.Attempt),
	)
	return job, nil
}

// CompleteStep moves a claimed job past its current step and releases the claim
func (s *Store) CompleteStep(ctx context.Context, c StepCompletion) error {
	status := domain.JobStatusRunning
	next := c.NextStep
	if c.Done {
		status = domain.JobStatusDone
		next = c.Step
	}

	sets := "current_step = ?, status = ?, claim_token = NULL, updated_at = ?"
	args := []any{next, string(status), s.now()}
	if len(c.Log) > 0 {
		sets += ", log = " + s.appendLogN(len(c.Log))
		for _, line := range c.Log {
			args = append(args, line)
		}
	}
	args = append(args, c.JobID, c.ClaimToken, c.Step, string(domain.JobStatusRunning))

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs SET `+sets+`
		WHERE id = ? AND claim_token = ? AND current_step = ? AND status = ?
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStepConflict
	}

	s.logger.Info("Job step completed",
		slog.String("job_id", c.JobID),
		slog.String("step", c.Step),
		slog.String("next_step", c.NextStep),
		slog.Bool("done", c.Done),
	)
	return nil
}

// FailJob marks a claimed job failed. Failed is terminal.
func (s *Store) FailJob(ctx context.Context, id, token string, lines ...string) error {
	sets := "status = ?, claim_token = NULL, updated_at = ?"
	args := []any{string(domain.JobStatusFailed), s.now()}
	if len(lines) > 0 {
		sets += ", log = " + s.appendLogN(len(lines))
		for _, line := range lines {
			args = append(args, line)
		}
	}
	args = append(args, id, token, string(domain.JobStatusRunning))

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs SET `+sets+`
		WHERE id = ? AND claim_token = ? AND status = ?
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrStepConflict
	}

	s.logger.Info("Job failed",
		slog.String("job_id", id),
	)
	return nil
}

// ReleaseClaim drops a claim without moving the job so a later advance can retry the step
func (s *Store) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs SET claim_token = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?
	`), s.now(), id, token)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// Heartbeat refreshes updated_at of a job while its claim is held
func (s *Store) Heartbeat(ctx context.Context, id, token string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs SET updated_at = ?
		WHERE id = ? AND claim_token = ? AND status = ?
	`), s.now(), id, token, string(domain.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (claim may be lost)",
			slog.String("job_id", id),
		)
	}
	return nil
}

// StaleJobs lists jobs in status whose updated_at is older than before
func (s *Store) StaleJobs(ctx context.Context, status domain.JobStatus, before time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`), string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return rowsToJobs(rows)
}

// FailStaleJob marks a running job failed if it has not been updated since before.
// It reports whether the job was changed.
func (s *Store) FailStaleJob(ctx context.Context, id string, before time.Time, line string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE jobs
		SET status = ?, claim_token = NULL, log = `+s.appendLogExpr()+`, updated_at = ?
		WHERE id = ? AND status = ? AND updated_at < ?
	`), string(domain.JobStatusFailed), line, s.now(), id, string(domain.JobStatusRunning), before)
	if err != nil {
		return false, fmt.Errorf("failed to fail stale job: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Redispatch fires the dispatcher for an existing job
func (s *Store) Redispatch(ctx context.Context, id string) error {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Dispatch(ctx, id)
}
