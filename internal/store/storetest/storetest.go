// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/store"
	"github.com/cuongbtq/dubbing-be/shared/database"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

// Clock is a deterministic time source that moves forward on every read
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock starts at start and advances by step per call
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// New opens a migrated SQLite store in a temp dir that is closed with the test
func New(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()

	log := logger.NewDiscard()
	client, err := database.NewSQLiteClient(filepath.Join(t.TempDir(), "dubbing.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := store.New(client, log, opts...)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}
