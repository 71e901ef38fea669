package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestSteps(t *testing.T) {
	assert.Equal(t,
		[]string{"ingest", "transcribe", "translate-en", "translate-es", "tts-en", "tts-es", "mux"},
		IngestSteps(),
	)
}

func TestStepLang(t *testing.T) {
	tests := []struct {
		step string
		want string
	}{
		{step: "translate-en", want: "en"},
		{step: "tts-es", want: "es"},
		{step: "ingest", want: ""},
		{step: "mux", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			assert.Equal(t, tt.want, StepLang(tt.step))
		})
	}
}

func TestJob_NextStep(t *testing.T) {
	job := &Job{Steps: []string{"a", "b", "c"}, CurrentStep: "a"}

	next, ok := job.NextStep()
	require.True(t, ok)
	assert.Equal(t, "b", next)

	job.CurrentStep = "c"
	_, ok = job.NextStep()
	assert.False(t, ok)
}

func TestJob_MetaStrings(t *testing.T) {
	job := &Job{Meta: map[string]any{"tags": []any{"a", 1, "b"}, "lang": "en"}}
	assert.Equal(t, []string{"a", "b"}, job.MetaStrings("tags"))
	assert.Equal(t, "en", job.MetaString("lang"))
	assert.Empty(t, job.MetaString("missing"))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobStatus_CanMoveTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusQueued, true},
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusDone, JobStatusQueued, false},
		{JobStatusDone, JobStatusDone, true},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusQueued, JobStatus("paused"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanMoveTo(tt.to))
		})
	}
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{code: CodeInvalidInput, want: http.StatusBadRequest},
		{code: CodeInvalidIdentifier, want: http.StatusBadRequest},
		{code: CodeConsentRequired, want: http.StatusBadRequest},
		{code: CodeAuthInvalid, want: http.StatusUnauthorized},
		{code: CodeForbidden, want: http.StatusForbidden},
		{code: CodeVoiceNotFound, want: http.StatusNotFound},
		{code: CodeProfileNotFound, want: http.StatusNotFound},
		{code: CodeRateLimited, want: http.StatusTooManyRequests},
		{code: CodeTTSGenerationError, want: http.StatusInternalServerError},
		{code: CodeInternal, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestForbidden(t *testing.T) {
	err := Forbidden("", "admin")
	assert.Equal(t, CodeForbidden, err.Code)
	assert.Equal(t, "anonymous", err.Details["uid"])
	assert.Equal(t, "admin", err.Details["required"])

	err = Forbidden("u1", "editor-or-admin")
	assert.Equal(t, "u1", err.Details["uid"])
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("advance: %w", AuthInvalid("no key"))
	assert.Equal(t, CodeAuthInvalid, AsError(wrapped).Code)

	assert.Equal(t, CodeNotFound, AsError(fmt.Errorf("get: %w", ErrJobNotFound)).Code)
	assert.Equal(t, CodeProfileNotFound, AsError(ErrProfileNotFound).Code)

	internal := AsError(errors.New("pq: connection refused"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, "internal error", internal.Message)

	assert.Nil(t, AsError(nil))
	assert.True(t, IsCode(wrapped, CodeAuthInvalid))
	assert.True(t, errors.Is(wrapped, &Error{Code: CodeAuthInvalid}))
}

func TestRetryableError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRetryableError(cause)

	var re *RetryableError
	require.True(t, errors.As(err, &re))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "retryable error")
}
