// Package bridge puts the voice cloning and text-to-speech provider behind a
// stable contract and maps its failures onto domain error codes.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/dubbing-be/internal/blob"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// signedURLTTL is how long generated audio links stay valid
const signedURLTTL = time.Hour

// Provider is the external voice service
type Provider interface {
	Configured() bool
	ListVoices(ctx context.Context) ([]Voice, error)
	GetVoiceStatus(ctx context.Context, voiceID string) (*VoiceStatus, error)
	Synthesize(ctx context.Context, voiceID, text string, format Format) ([]byte, error)
	AddVoice(ctx context.Context, name string, samples []blob.Sample) (string, error)
}

// ProfileStore persists voice profiles
type ProfileStore interface {
	UpsertVoiceProfile(ctx context.Context, p *domain.VoiceProfile) error
	GetVoiceProfile(ctx context.Context, id string) (*domain.VoiceProfile, error)
	ListVoiceProfiles(ctx context.Context, limit int) ([]domain.VoiceProfile, error)
}

// SampleSource resolves training sample references to bytes
type SampleSource interface {
	Resolve(ctx context.Context, refs []blob.SampleRef) ([]blob.Sample, error)
}

// Config holds bridge defaults
type Config struct {
	DefaultVoiceID string
	WebhookTimeout time.Duration
}

// Bridge is the provider-facing service used by the API and the tts step
type Bridge struct {
	provider Provider
	profiles ProfileStore
	samples  SampleSource
	blobs    blob.Store
	config   Config
	webhook  *http.Client
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates a Bridge
func New(provider Provider, profiles ProfileStore, samples SampleSource, blobs blob.Store, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	return &Bridge{
		provider: provider,
		profiles: profiles,
		samples:  samples,
		blobs:    blobs,
		config:   cfg,
		webhook:  &http.Client{Timeout: cfg.WebhookTimeout},
		logger:   logger,
		now:      time.Now,
	}
}

// Wait blocks until pending webhook notifications finish
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Catalog lists provider voices next to the stored profiles
type Catalog struct {
	Voices   []Voice               `json:"items"`
	Profiles []domain.VoiceProfile `json:"profiles"`
}

// ListVoices never fails the caller on provider trouble: it degrades to an empty list
func (b *Bridge) ListVoices(ctx context.Context) []Voice {
	voices, err := b.provider.ListVoices(ctx)
	if err != nil {
		b.logger.Warn("Listing provider voices failed, returning empty list",
			slog.Any("error", err),
		)
		return []Voice{}
	}
	return voices
}

// Catalog returns provider voices and stored profiles
func (b *Bridge) Catalog(ctx context.Context) (*Catalog, error) {
	profiles, err := b.profiles.ListVoiceProfiles(ctx, 200)
	if err != nil {
		return nil, err
	}
	return &Catalog{Voices: b.ListVoices(ctx), Profiles: profiles}, nil
}

// GetVoiceStatus reports the provider state of a voice
func (b *Bridge) GetVoiceStatus(ctx context.Context, voiceID string) (*VoiceStatus, error) {
	return b.provider.GetVoiceStatus(ctx, voiceID)
}

// Synthesize renders text with a provider voice
func (b *Bridge) Synthesize(ctx context.Context, voiceID, text string, format Format) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.InvalidInput("text is required")
	}
	if voiceID == "" {
		return nil, domain.NewError(domain.CodeVoiceIDUnresolved, "no voice id configured")
	}
	return b.provider.Synthesize(ctx, voiceID, text, format)
}

// DefaultVoiceID is the voice used when no profile is named
func (b *Bridge) DefaultVoiceID() string {
	return b.config.DefaultVoiceID
}

// CloneRequest asks the provider to train a new voice
type CloneRequest struct {
	Name          string           `json:"name"`
	Project       string           `json:"project"`
	Consent       bool             `json:"consent"`
	Files         []blob.SampleRef `json:"files"`
	TrainingFiles []string         `json:"training_files"`
	WebhookURL    string           `json:"webhook_url"`
}

// sampleRefs prefers explicit files and falls back to plain training file strings
func (r *CloneRequest) sampleRefs() []blob.SampleRef {
	var refs []blob.SampleRef
	for _, f := range r.Files {
		if f.URL != "" || f.StoragePath != "" {
			refs = append(refs, f)
		}
	}
	if len(refs) > 0 {
		return refs
	}
	for _, s := range r.TrainingFiles {
		if ref, ok := blob.SampleRefFromString(s); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// CloneResult identifies the trained voice and its stored profile
type CloneResult struct {
	VoiceID   string `json:"voice_id"`
	ProfileID string `json:"profile_id"`
}

// CloneVoice trains a provider voice from samples. Consent, name and samples
// are checked before any network or storage access.
func (b *Bridge) CloneVoice(ctx context.Context, uid string, req CloneRequest) (*CloneResult, error) {
	if !req.Consent {
		return nil, domain.NewError(domain.CodeConsentRequired, "explicit consent is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.InvalidInput("voice name is required")
	}
	refs := req.sampleRefs()
	if len(refs) == 0 {
		return nil, domain.InvalidInput("at least one training file (url or storagePath) is required")
	}
	if !b.provider.Configured() {
		return nil, domain.AuthInvalid("voice provider credential is not configured")
	}

	samples, err := b.samples.Resolve(ctx, refs)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return nil, domain.WrapError(domain.CodeFilesNotFound, "training files could not be fetched", err)
		}
		return nil, err
	}
	if len(samples) == 0 {
		return nil, domain.NewError(domain.CodeFilesNotFound, "training files could not be fetched")
	}

	voiceID, err := b.provider.AddVoice(ctx, name, samples)
	if err != nil {
		return nil, err
	}

	profile := &domain.VoiceProfile{
		ID:        uuid.New().String(),
		Name:      name,
		VoiceID:   voiceID,
		Project:   req.Project,
		Source:    "elevenlabs",
		CreatedBy: uid,
		CreatedAt: b.now().UTC(),
	}
	if err := b.profiles.UpsertVoiceProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save voice profile: %w", err)
	}

	b.logger.Info("Voice cloned",
		slog.String("voice_id", voiceID),
		slog.String("profile_id", profile.ID),
		slog.String("uid", uid),
		slog.Int("samples", len(samples)),
	)

	if req.WebhookURL != "" {
		b.notify(req.WebhookURL, map[string]any{
			"status":     "ok",
			"event":      "voice_cloned",
			"voice_id":   voiceID,
			"profile_id": profile.ID,
			"user_id":    uid,
		})
	}

	return &CloneResult{VoiceID: voiceID, ProfileID: profile.ID}, nil
}

// notify posts payload to target in the background; failures are only logged
func (b *Bridge) notify(target string, payload map[string]any) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		b.logger.Warn("Skipping webhook with unsupported url")
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.config.WebhookTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := b.webhook.Do(req)
		if err != nil {
			b.logger.Warn("Webhook notification failed",
				slog.String("host", u.Host),
				slog.Any("error", err),
			)
			return
		}
		_ = resp.Body.Close()
	}()
}

// MapVoice records an existing provider voice under project and name
func (b *Bridge) MapVoice(ctx context.Context, uid, project, voiceName, voiceID string) (*domain.VoiceProfile, error) {
	voiceName = strings.TrimSpace(voiceName)
	voiceID = strings.TrimSpace(voiceID)
	if voiceName == "" || voiceID == "" {
		return nil, domain.InvalidInput("voice_name and voice_id are required")
	}
	if project == "" {
		project = "default"
	}

	profile := &domain.VoiceProfile{
		ID:        domain.MappedProfileID(project, voiceName),
		Name:      voiceName,
		VoiceID:   voiceID,
		Project:   project,
		Source:    "elevenlabs",
		CreatedBy: uid,
		CreatedAt: b.now().UTC(),
	}
	if err := b.profiles.UpsertVoiceProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save voice profile: %w", err)
	}
	return profile, nil
}

// GenerateRequest synthesizes text and publishes the audio to storage
type GenerateRequest struct {
	VoiceProfileID string `json:"voice_profile_id"`
	Text           string `json:"text"`
	Format         string `json:"format"`
	Project        string `json:"project"`
}

// GenerateResult points at the stored audio
type GenerateResult struct {
	AudioURL       string `json:"audio_url"`
	VoiceID        string `json:"voice_id"`
	Format         Format `json:"format"`
	VoiceProfileID string `json:"voice_profile_id,omitempty"`
	Path           string `json:"-"`
}

// ResolveVoice finds the voice of a profile, falling back to the default voice.
// A missing profile without a default voice is PROFILE_NOT_FOUND.
func (b *Bridge) ResolveVoice(ctx context.Context, profileID string) (string, error) {
	if profileID == "" {
		if b.config.DefaultVoiceID == "" {
			return "", domain.NewError(domain.CodeVoiceIDUnresolved, "no voice profile given and no default voice configured")
		}
		return b.config.DefaultVoiceID, nil
	}

	profile, err := b.profiles.GetVoiceProfile(ctx, profileID)
	switch {
	case err == nil:
		if profile.VoiceID == "" {
			return "", domain.NewError(domain.CodeVoiceIDUnresolved, "voice profile has no voice id")
		}
		return profile.VoiceID, nil
	case errors.Is(err, domain.ErrProfileNotFound):
		if b.config.DefaultVoiceID == "" {
			return "", domain.WrapError(domain.CodeProfileNotFound, "voice profile not found and no default voice configured", err)
		}
		return b.config.DefaultVoiceID, nil
	default:
		return "", err
	}
}

// GenerateToStorage resolves the voice, synthesizes, stores the audio and signs a link to it
func (b *Bridge) GenerateToStorage(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.InvalidInput("text is required")
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}

	voiceID, err := b.ResolveVoice(ctx, req.VoiceProfileID)
	if err != nil {
		return nil, err
	}

	audio, err := b.provider.Synthesize(ctx, voiceID, req.Text, format)
	if err != nil {
		return nil, err
	}

	project := req.Project
	if project == "" {
		project = "default"
	}
	owner := req.VoiceProfileID
	if owner == "" {
		owner = "env"
	}
	path := fmt.Sprintf("bridge_tts/%s/%s/%d.%s", project, owner, b.now().UnixMilli(), format)

	if err := b.blobs.Write(ctx, path, audio, format.ContentType()); err != nil {
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}
	signed, err := b.blobs.SignedURL(ctx, path, signedURLTTL)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Speech generated",
		slog.String("voice_id", voiceID),
		slog.String("path", path),
		slog.Int("bytes", len(audio)),
	)

	return &GenerateResult{
		AudioURL:       signed,
		VoiceID:        voiceID,
		Format:         format,
		VoiceProfileID: req.VoiceProfileID,
		Path:           path,
	}, nil
}
