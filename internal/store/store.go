// Package store is the durable record store for jobs and their projections.
// Documents with list or map fields keep them as JSON text so the same schema
// runs on PostgreSQL and SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dubbing-be/shared/database"
	"github.com/jmoiron/sqlx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Dispatcher schedules an advance of a job after it is durably written
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Store handles all database operations
type Store struct {
	db           *sqlx.DB
	driver       string
	logger       *slog.Logger
	dispatcher   Dispatcher
	now          func() time.Time
	pollInterval time.Duration
}

// Option customizes a Store
type Option func(*Store)

// WithPollInterval sets how often subscriptions re-read their view
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over an open database client
func New(client *database.Client, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:           client.GetDB(),
		driver:       client.Driver(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher registers the reaction fired after a job is created
func (s *Store) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Driver returns the SQL dialect in use
func (s *Store) Driver() string {
	return s.driver
}

// Migrate creates the schema if needed and verifies its version
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/" + s.schemaFile())
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var versions []int
	if err := tx.SelectContext(ctx, &versions, "SELECT version FROM schema_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case len(versions) == 0:
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case versions[0] != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, versions[0], schemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	s.logger.Info("Database schema ready",
		slog.String("driver", s.driver),
		slog.Int("version", schemaVersion),
	)
	return nil
}

func (s *Store) schemaFile() string {
	if s.driver == database.DriverSQLite {
		return "sqlite.sql"
	}
	return "postgres.sql"
}

// q rebinds a query written with ? placeholders for the active driver
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) isSQLite() bool {
	return s.driver == database.DriverSQLite
}

// appendLogExpr appends one text element to the JSON array in column log
func (s *Store) appendLogExpr() string {
	if s.isSQLite() {
		return "json_insert(log, '$[#]', ?)"
	}
	return "(log::jsonb || jsonb_build_array(?::text))::text"
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document field: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal document field: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
