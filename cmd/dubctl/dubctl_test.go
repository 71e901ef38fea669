package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const videoID = "dQw4w9WgXcQ"

// writeConfig writes a sqlite and local-storage config. dispatch selects
// between queue mode, where the broker settings are present but only dialed
// by commands that publish, and inprocess mode.
func writeConfig(t *testing.T, dispatch string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
database:
  driver: sqlite
  path: %s
storage:
  driver: local
  local_root: %s
  public_base_url: http://files.test
rabbitmq:
  host: localhost
  port: 5672
  exchange:
    name: dubbing_jobs
  queue:
    name: dubbing_steps
pipeline:
  dispatch: %s
watchdog:
  stuck_after: 45m
  requeue_after: 2m
logging:
  level: debug
`, filepath.Join(dir, "dubbing.db"), filepath.Join(dir, "blobs"), dispatch)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func migrated(t *testing.T, dispatch string) string {
	t.Helper()
	path := writeConfig(t, dispatch)
	out, _, err := runCLI(t, path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema ready (sqlite)")
	return path
}

func TestRolesCommands(t *testing.T) {
	path := migrated(t, "queue")

	out, _, err := runCLI(t, path, "roles", "set", "user-1", "admin", "editor")
	require.NoError(t, err)
	assert.Equal(t, "user-1: admin,editor\n", out)

	out, _, err = runCLI(t, path, "roles", "get", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1: admin,editor\n", out)

	out, _, err = runCLI(t, path, "roles", "set", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1: (none)\n", out)

	_, _, err = runCLI(t, path, "roles", "set", "user-1", "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")

	_, _, err = runCLI(t, path, "roles", "get")
	assert.Error(t, err)
}

func TestSessionIssue(t *testing.T) {
	path := migrated(t, "queue")

	out, _, err := runCLI(t, path, "session", "issue", "user-1", "--email", "u1@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 64)

	_, _, err = runCLI(t, path, "session", "issue", " ")
	assert.Error(t, err)
}

func TestIngestAndJobs(t *testing.T) {
	path := migrated(t, "queue")

	out, _, err := runCLI(t, path, "ingest", "https://youtu.be/"+videoID, "--no-dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, "video "+videoID+" job ")

	_, _, err = runCLI(t, path, "ingest", "not a link", "--no-dispatch")
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeInvalidIdentifier, de.Code)

	out, _, err = runCLI(t, path, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, videoID)
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, domain.StepIngest)

	out, _, err = runCLI(t, path, "jobs", "list", "--json")
	require.NoError(t, err)
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobKindIngest, jobs[0].Kind)
	assert.Equal(t, "dubctl", jobs[0].CreatedBy)

	out, _, err = runCLI(t, path, "jobs", "list", "--status", "running")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	_, _, err = runCLI(t, path, "jobs", "list", "--status", "paused")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")

	_, _, err = runCLI(t, path, "jobs", "list", "--limit", "0")
	assert.Error(t, err)

	out, _, err = runCLI(t, path, "jobs", "watch", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 jobs)")
	assert.Contains(t, out, videoID)
}

func TestWatchdogSweep(t *testing.T) {
	path := migrated(t, "inprocess")
	lockPath := filepath.Join(t.TempDir(), "watchdog.lock")

	out, _, err := runCLI(t, path, "watchdog", "sweep", "--lock", lockPath)
	require.NoError(t, err)
	assert.Equal(t, "failed 0, redispatched 0\n", out)

	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, _, err = runCLI(t, path, "watchdog", "sweep", "--lock", lockPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another watchdog holds")
}

func TestMissingConfig(t *testing.T) {
	_, _, err := runCLI(t, filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
