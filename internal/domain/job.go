package domain

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanMoveTo reports whether a job may go from s to next. Status only moves
// forward and a terminal job never changes status again.
func (s JobStatus) CanMoveTo(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	if s.Terminal() {
		return s == next
	}
	if s == JobStatusRunning {
		return next != JobStatusQueued
	}
	return true
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// JobKind classifies what a job does
type JobKind string

// Job kinds
const (
	JobKindIngest    JobKind = "ingest"
	JobKindTranslate JobKind = "translate"
	JobKindTTS       JobKind = "tts"
	JobKindPublish   JobKind = "publish"
)

// Step names and prefixes
const (
	StepIngest     = "ingest"
	StepTranscribe = "transcribe"
	StepMux        = "mux"
	StepPublish    = "publish"

	StepTranslatePrefix = "translate-"
	StepTTSPrefix       = "tts-"
)

// Languages
const (
	SourceLang = "pt"
)

// TargetLangs are the languages a video is localized into
var TargetLangs = []string{"en", "es"}

// Initial log lines
const (
	LogJobCreated = "Job created"
	LogJobRunning = "Job running"
	LogJobDone    = "Done"
)

// ValidTargetLang reports whether lang is a supported target language
func ValidTargetLang(lang string) bool {
	for _, l := range TargetLangs {
		if l == lang {
			return true
		}
	}
	return false
}

// TranslateStep returns the step name translating into lang
func TranslateStep(lang string) string { return StepTranslatePrefix + lang }

// TTSStep returns the step name synthesizing audio in lang
func TTSStep(lang string) string { return StepTTSPrefix + lang }

// StepLang returns the language suffix of a per-language step
func StepLang(step string) string {
	for _, p := range []string{StepTranslatePrefix, StepTTSPrefix} {
		if strings.HasPrefix(step, p) {
			return strings.TrimPrefix(step, p)
		}
	}
	return ""
}

// IngestSteps is the full localization pipeline run after ingesting a video
func IngestSteps() []string {
	steps := []string{StepIngest, StepTranscribe}
	for _, l := range TargetLangs {
		steps = append(steps, TranslateStep(l))
	}
	for _, l := range TargetLangs {
		steps = append(steps, TTSStep(l))
	}
	return append(steps, StepMux)
}

// Job is a durable record tracking one pipeline run through an ordered list of steps
type Job struct {
	ID          string         `json:"id"`
	VideoID     string         `json:"videoId"`
	Kind        JobKind        `json:"kind"`
	Steps       []string       `json:"steps"`
	CurrentStep string         `json:"currentStep"`
	Status      JobStatus      `json:"status"`
	Log         []string       `json:"log"`
	Meta        map[string]any `json:"meta,omitempty"`
	Attempt     int            `json:"attempt"`
	ClaimToken  string         `json:"-"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NextStep returns the step after the current one, or false when the current step is last
func (j *Job) NextStep() (string, bool) {
	for i, s := range j.Steps {
		if s == j.CurrentStep && i+1 < len(j.Steps) {
			return j.Steps[i+1], true
		}
	}
	return "", false
}

// HasStep reports whether step belongs to the job's step list
func (j *Job) HasStep(step string) bool {
	for _, s := range j.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// MetaString returns a string value from Meta or ""
func (j *Job) MetaString(key string) string {
	if j.Meta == nil {
		return ""
	}
	v, _ := j.Meta[key].(string)
	return v
}

// MetaStrings returns a string list from Meta, tolerating []any from decoded JSON
func (j *Job) MetaStrings(key string) []string {
	if j.Meta == nil {
		return nil
	}
	switch v := j.Meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// JobMessage is the advance message carried by the broker
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
