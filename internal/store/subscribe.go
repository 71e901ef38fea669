package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// JobSnapshot is a point-in-time view of a job query
type JobSnapshot struct {
	Jobs      []domain.Job
	HighWater time.Time // newest updated_at across all jobs when the view was read
	TakenAt   time.Time
}

// fingerprint identifies the content of a view: which jobs it holds, in what
// order and at which version
func fingerprint(jobs []domain.Job) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(jobs)))
	for i := range jobs {
		b.WriteByte('|')
		b.WriteString(jobs[i].ID)
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(jobs[i].UpdatedAt.UnixNano(), 10))
	}
	return b.String()
}

// latestUpdate returns the newest updated_at of any job, filtered or not
func (s *Store) latestUpdate(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := s.db.GetContext(ctx, &latest, `SELECT updated_at FROM jobs ORDER BY updated_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read job high water: %w", err)
	}
	return latest.UTC(), nil
}

// Subscribe streams snapshots of q ordered by created_at DESC and truncated to
// q.Limit. A snapshot is emitted first immediately, then whenever the view
// changes, including jobs leaving a filtered view. The high water is read
// across the whole table before the view, and a view read at an older high
// water than the last emitted one is dropped, so a consumer never receives an
// older view after a newer one. Intermediate states may be skipped. The
// channel closes when ctx is done; subscribing again restarts the stream.
func (s *Store) Subscribe(ctx context.Context, q JobQuery) <-chan JobSnapshot {
	out := make(chan JobSnapshot)
	q.Cursor = nil

	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var (
			last    time.Time
			lastFP  string
			emitted bool
		)
		for {
			hw, jobs, err := s.poll(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("Subscription poll failed",
					slog.Any("error", err),
				)
			} else if fp := fingerprint(jobs); !emitted || (fp != lastFP && !hw.Before(last)) {
				snap := JobSnapshot{Jobs: jobs, HighWater: hw, TakenAt: s.now()}
				select {
				case out <- snap:
					last, lastFP = hw, fp
					emitted = true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

func (s *Store) poll(ctx context.Context, q JobQuery) (time.Time, []domain.Job, error) {
	hw, err := s.latestUpdate(ctx)
	if err != nil {
		return time.Time{}, nil, err
	}
	jobs, err := s.ListJobs(ctx, q)
	if err != nil {
		return time.Time{}, nil, err
	}
	return hw, jobs, nil
}
