// Package pipeline holds the step executors of the localization pipeline.
// Each artifact-producing step is skipped when its output already exists, so
// re-running a step after a lost completion is cheap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/blob"
	"github.com/cuongbtq/dubbing-be/internal/bridge"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/orchestrator"
	"github.com/cuongbtq/dubbing-be/internal/srt"
)

// AudioPath is where the extracted source audio of a video is stored
func AudioPath(videoID string) string {
	return "audio/" + videoID + "/source.wav"
}

// SubtitlePath is where the subtitles of a video in lang are stored
func SubtitlePath(videoID, lang string) string {
	return "subs/" + videoID + "/" + lang + ".srt"
}

// DubPath is where the dubbed audio of a video in lang is stored
func DubPath(videoID, lang string) string {
	return "dubs/" + videoID + "/" + lang + ".mp3"
}

// PlaceholderDubPath is where the silent stand-in is stored while TTS is
// disabled. It never satisfies the skip check of a real dub.
func PlaceholderDubPath(videoID, lang string) string {
	return "dubs/" + videoID + "/" + lang + ".placeholder.mp3"
}

// Videos is the video projection the steps update
type Videos interface {
	SetVideoMetadata(ctx context.Context, id string, meta domain.VideoMetadata) error
	SetVideoStatus(ctx context.Context, id string, status domain.VideoStatus) error
	SetVideoPublish(ctx context.Context, id string, publish map[string]any) error
	MarkVideoLang(ctx context.Context, id, lang string, ready bool) error
}

// AppConfigSource provides the admin-editable runtime settings
type AppConfigSource interface {
	GetAppConfig(ctx context.Context) (*domain.AppConfig, error)
}

// Speech synthesizes dubbed audio
type Speech interface {
	ResolveVoice(ctx context.Context, profileID string) (string, error)
	Synthesize(ctx context.Context, voiceID, text string, format bridge.Format) ([]byte, error)
}

// AudioTools downloads source audio and renders placeholders
type AudioTools interface {
	ExtractAudio(ctx context.Context, videoID string) ([]byte, error)
	Silence(ctx context.Context) []byte
}

// Config holds static pipeline settings
type Config struct {
	TTSEnabled bool // default when the runtime app config was never saved
}

// Deps are the collaborators of the pipeline. Platform may be nil.
type Deps struct {
	Blobs       blob.Store
	Videos      Videos
	AppConfig   AppConfigSource
	Media       AudioTools
	Platform    Platform
	Transcriber Transcriber
	Translator  Translator
	Speech      Speech
}

// Pipeline implements the step executors
type Pipeline struct {
	deps   Deps
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Pipeline
func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if deps.Translator == nil {
		deps.Translator = Passthrough{}
	}
	return &Pipeline{
		deps:   deps,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register binds every pipeline step into r
func (p *Pipeline) Register(r *orchestrator.Registry) *orchestrator.Registry {
	return r.
		Register(domain.StepIngest, orchestrator.ExecutorFunc(p.Ingest)).
		Register(domain.StepTranscribe, orchestrator.ExecutorFunc(p.Transcribe)).
		RegisterPrefix(domain.StepTranslatePrefix, orchestrator.ExecutorFunc(p.Translate)).
		RegisterPrefix(domain.StepTTSPrefix, orchestrator.ExecutorFunc(p.TTS)).
		Register(domain.StepMux, orchestrator.ExecutorFunc(p.Mux)).
		Register(domain.StepPublish, orchestrator.ExecutorFunc(p.Publish))
}

// NewRegistry returns a registry with every pipeline step bound
func (p *Pipeline) NewRegistry() *orchestrator.Registry {
	return p.Register(orchestrator.NewRegistry())
}

// skip reports whether path already exists, logging the skip on the job
func (p *Pipeline) skip(ctx context.Context, sc *orchestrator.StepContext, path, what string) (bool, error) {
	ok, err := p.deps.Blobs.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	if ok {
		sc.Logf("%s already exists, skipping", what)
	}
	return ok, nil
}

func (p *Pipeline) read(ctx context.Context, path, what string) ([]byte, error) {
	data, err := p.deps.Blobs.Read(ctx, path)
	if errors.Is(err, domain.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s missing at %s", what, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Ingest records platform metadata and stores the source audio
func (p *Pipeline) Ingest(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID := sc.Job.VideoID

	if p.deps.Platform != nil {
		meta, err := p.deps.Platform.VideoMetadata(ctx, videoID)
		if err != nil {
			p.logger.Warn("Fetching video metadata failed",
				slog.String("video_id", videoID),
				slog.Any("error", err),
			)
		} else if err := p.deps.Videos.SetVideoMetadata(ctx, videoID, *meta); err != nil {
			return err
		}
	}

	dest := AudioPath(videoID)
	if skipped, err := p.skip(ctx, sc, dest, "Source audio"); err != nil || skipped {
		return err
	}

	sc.Logf("Downloading audio via yt-dlp")
	audio, err := p.deps.Media.ExtractAudio(ctx, videoID)
	if err != nil {
		return err
	}
	if err := p.deps.Blobs.Write(ctx, dest, audio, blob.ContentType(dest)); err != nil {
		return fmt.Errorf("failed to store source audio: %w", err)
	}
	return nil
}

// Transcribe turns the source audio into source-language subtitles
func (p *Pipeline) Transcribe(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID := sc.Job.VideoID
	dest := SubtitlePath(videoID, domain.SourceLang)
	if skipped, err := p.skip(ctx, sc, dest, "Transcription "+domain.SourceLang); err != nil || skipped {
		return err
	}

	audio, err := p.read(ctx, AudioPath(videoID), "source audio")
	if err != nil {
		return err
	}

	sc.Logf("Transcribing %s", domain.SourceLang)
	segments, err := p.deps.Transcriber.Transcribe(ctx, audio, "source.wav", domain.SourceLang)
	if err != nil {
		return err
	}
	return p.deps.Blobs.Write(ctx, dest, []byte(srt.Format(segments)), blob.ContentType(dest))
}

// Translate writes subtitles in the step language and marks it ready
func (p *Pipeline) Translate(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID, lang := sc.Job.VideoID, sc.Lang
	if !domain.ValidTargetLang(lang) {
		return domain.InvalidInput("unsupported language %q", lang)
	}

	dest := SubtitlePath(videoID, lang)
	skipped, err := p.skip(ctx, sc, dest, "Translation "+lang)
	if err != nil {
		return err
	}
	if !skipped {
		source, err := p.read(ctx, SubtitlePath(videoID, domain.SourceLang), "source subtitles")
		if err != nil {
			return err
		}
		lines := srt.TextLines(string(source))
		translated, err := p.deps.Translator.Translate(ctx, lines, domain.SourceLang, lang)
		if err != nil {
			return err
		}
		doc, err := srt.ReplaceText(string(source), translated)
		if err != nil {
			return err
		}
		if err := p.deps.Blobs.Write(ctx, dest, []byte(doc), blob.ContentType(dest)); err != nil {
			return fmt.Errorf("failed to store subtitles: %w", err)
		}
		if _, passthrough := p.deps.Translator.(Passthrough); passthrough {
			sc.Logf("Translation provider not configured, copied %s subtitles to %s", domain.SourceLang, lang)
		} else {
			sc.Logf("Translated %d lines to %s", len(lines), lang)
		}
	}
	return p.deps.Videos.MarkVideoLang(ctx, videoID, lang, true)
}

// ttsEnabled prefers the saved runtime setting over the static default
func (p *Pipeline) ttsEnabled(ctx context.Context) (bool, error) {
	if p.deps.AppConfig == nil {
		return p.config.TTSEnabled, nil
	}
	cfg, err := p.deps.AppConfig.GetAppConfig(ctx)
	if err != nil {
		return false, err
	}
	if cfg.UpdatedAt.IsZero() {
		return p.config.TTSEnabled, nil
	}
	return cfg.TTSEnabled, nil
}

// TTS renders dubbed audio for the step language and marks it ready. With TTS
// disabled it stores a silent placeholder beside the real dub.
func (p *Pipeline) TTS(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID, lang := sc.Job.VideoID, sc.Lang
	if !domain.ValidTargetLang(lang) {
		return domain.InvalidInput("unsupported language %q", lang)
	}

	enabled, err := p.ttsEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled || p.deps.Speech == nil {
		if err := p.placeholder(ctx, sc, videoID, lang); err != nil {
			return err
		}
		return p.deps.Videos.MarkVideoLang(ctx, videoID, lang, true)
	}

	dest := DubPath(videoID, lang)
	skipped, err := p.skip(ctx, sc, dest, "Dub "+lang)
	if err != nil {
		return err
	}
	if !skipped {
		audio, err := p.dub(ctx, sc, videoID, lang)
		if err != nil {
			return err
		}
		if err := p.deps.Blobs.Write(ctx, dest, audio, blob.ContentType(dest)); err != nil {
			return fmt.Errorf("failed to store dub: %w", err)
		}
	}
	return p.deps.Videos.MarkVideoLang(ctx, videoID, lang, true)
}

func (p *Pipeline) placeholder(ctx context.Context, sc *orchestrator.StepContext, videoID, lang string) error {
	dest := PlaceholderDubPath(videoID, lang)
	skipped, err := p.skip(ctx, sc, dest, "Placeholder dub "+lang)
	if err != nil || skipped {
		return err
	}
	if err := p.deps.Blobs.Write(ctx, dest, p.deps.Media.Silence(ctx), blob.ContentType(dest)); err != nil {
		return fmt.Errorf("failed to store placeholder dub: %w", err)
	}
	sc.Logf("TTS disabled, wrote silent placeholder for %s", lang)
	return nil
}

func (p *Pipeline) dub(ctx context.Context, sc *orchestrator.StepContext, videoID, lang string) ([]byte, error) {
	subs, err := p.read(ctx, SubtitlePath(videoID, lang), "subtitles "+lang)
	if err != nil {
		return nil, err
	}
	voiceID, err := p.deps.Speech.ResolveVoice(ctx, sc.Job.MetaString("voiceProfileId"))
	if err != nil {
		return nil, err
	}
	audio, err := p.deps.Speech.Synthesize(ctx, voiceID, srt.PlainText(string(subs)), bridge.FormatMP3)
	if err != nil {
		return nil, err
	}
	sc.Logf("Synthesized %s dub (%d bytes)", lang, len(audio))
	return audio, nil
}

// Mux marks the video ready in every language
func (p *Pipeline) Mux(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID := sc.Job.VideoID
	for lang := range domain.InitialLangs() {
		if err := p.deps.Videos.MarkVideoLang(ctx, videoID, lang, true); err != nil {
			return err
		}
	}
	if err := p.deps.Videos.SetVideoStatus(ctx, videoID, domain.VideoStatusReady); err != nil {
		return err
	}
	sc.Logf("Video ready")
	return nil
}

// Publish pushes the requested snippet to the platform when it can and
// records the request on the video either way
func (p *Pipeline) Publish(ctx context.Context, sc *orchestrator.StepContext) error {
	videoID := sc.Job.VideoID
	snippet := Snippet{
		Title:       sc.Job.MetaString("title"),
		Description: sc.Job.MetaString("description"),
		Tags:        sc.Job.MetaStrings("tags"),
	}

	remote := p.deps.Platform != nil && p.deps.Platform.CanPublish()
	if remote {
		if err := p.deps.Platform.UpdateSnippet(ctx, videoID, snippet); err != nil {
			return err
		}
		sc.Logf("Published metadata to YouTube")
	} else {
		sc.Logf("Remote publishing disabled, recorded publish request")
	}

	tags := snippet.Tags
	if tags == nil {
		tags = []string{}
	}
	return p.deps.Videos.SetVideoPublish(ctx, videoID, map[string]any{
		"title":       snippet.Title,
		"description": snippet.Description,
		"tags":        tags,
		"remote":      remote,
		"jobId":       sc.Job.ID,
		"requestedAt": p.now().Format(time.RFC3339),
	})
}
