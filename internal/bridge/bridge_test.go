package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/blob"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.VoiceProfile
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: map[string]domain.VoiceProfile{}}
}

func (m *memProfiles) UpsertVoiceProfile(_ context.Context, p *domain.VoiceProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = *p
	return nil
}

func (m *memProfiles) GetVoiceProfile(_ context.Context, id string) (*domain.VoiceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (m *memProfiles) ListVoiceProfiles(_ context.Context, _ int) ([]domain.VoiceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.VoiceProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

type countingSamples struct {
	calls int32
	inner SampleSource
}

func (c *countingSamples) Resolve(ctx context.Context, refs []blob.SampleRef) ([]blob.Sample, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Resolve(ctx, refs)
}

type fixture struct {
	bridge   *Bridge
	profiles *memProfiles
	blobs    *blob.LocalStore
	samples  *countingSamples
	calls    *int32
}

func newFixture(t *testing.T, apiKey, defaultVoice string) *fixture {
	t.Helper()

	client, calls := newTestClient(t, apiKey, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/voices/add":
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			_, _ = w.Write([]byte(`{"voice_id":"cloned-1"}`))
		case strings.HasPrefix(r.URL.Path, "/text-to-speech/"):
			_, _ = w.Write([]byte("ID3audio"))
		case r.URL.Path == "/voices":
			_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Ana"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	blobs, err := blob.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	require.NoError(t, blobs.Write(context.Background(), "voices/sample.wav", []byte("wav"), "audio/wav"))

	profiles := newMemProfiles()
	samples := &countingSamples{inner: blob.NewSampleResolver(blobs, nil)}

	b := New(client, profiles, samples, blobs, Config{DefaultVoiceID: defaultVoice, WebhookTimeout: time.Second}, logger.NewDiscard())
	b.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

	return &fixture{bridge: b, profiles: profiles, blobs: blobs, samples: samples, calls: calls}
}

func TestCloneVoice_RejectsBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name string
		req  CloneRequest
		want domain.Code
	}{
		{
			name: "noConsent",
			req:  CloneRequest{Name: "Ana", Consent: false, TrainingFiles: []string{"voices/sample.wav"}},
			want: domain.CodeConsentRequired,
		},
		{
			name: "consentCheckedBeforeName",
			req:  CloneRequest{Consent: false},
			want: domain.CodeConsentRequired,
		},
		{
			name: "emptyName",
			req:  CloneRequest{Name: "  ", Consent: true, TrainingFiles: []string{"voices/sample.wav"}},
			want: domain.CodeInvalidInput,
		},
		{
			name: "noSamples",
			req:  CloneRequest{Name: "Ana", Consent: true, TrainingFiles: []string{" "}},
			want: domain.CodeInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "k", "")
			_, err := f.bridge.CloneVoice(context.Background(), "u1", tt.req)
			assert.Equal(t, tt.want, domain.AsError(err).Code)
			assert.Zero(t, atomic.LoadInt32(f.calls), "provider must not be called")
			assert.Zero(t, atomic.LoadInt32(&f.samples.calls), "samples must not be fetched")
			assert.Empty(t, f.profiles.profiles)
		})
	}
}

func TestCloneVoice_Success(t *testing.T) {
	var (
		hookMu  sync.Mutex
		payload map[string]any
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookMu.Lock()
		defer hookMu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer hook.Close()

	f := newFixture(t, "k", "")
	res, err := f.bridge.CloneVoice(context.Background(), "u1", CloneRequest{
		Name:       "Ana",
		Project:    "podcast",
		Consent:    true,
		Files:      []blob.SampleRef{{StoragePath: "voices/sample.wav", Filename: "ana.wav"}},
		WebhookURL: hook.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "cloned-1", res.VoiceID)
	require.NotEmpty(t, res.ProfileID)

	stored, err := f.profiles.GetVoiceProfile(context.Background(), res.ProfileID)
	require.NoError(t, err)
	assert.Equal(t, "cloned-1", stored.VoiceID)
	assert.Equal(t, "podcast", stored.Project)
	assert.Equal(t, "u1", stored.CreatedBy)

	f.bridge.Wait()
	hookMu.Lock()
	defer hookMu.Unlock()
	assert.Equal(t, map[string]any{
		"status": "ok", "event": "voice_cloned", "voice_id": "cloned-1",
		"profile_id": res.ProfileID, "user_id": "u1",
	}, payload)
}

func TestCloneVoice_WebhookFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, "k", "")
	res, err := f.bridge.CloneVoice(context.Background(), "u1", CloneRequest{
		Name:          "Ana",
		Consent:       true,
		TrainingFiles: []string{"voices/sample.wav"},
		WebhookURL:    "http://127.0.0.1:1/unreachable",
	})
	require.NoError(t, err)
	assert.Equal(t, "cloned-1", res.VoiceID)
	f.bridge.Wait()
}

func TestCloneVoice_MissingSample(t *testing.T) {
	f := newFixture(t, "k", "")
	_, err := f.bridge.CloneVoice(context.Background(), "u1", CloneRequest{
		Name: "Ana", Consent: true, TrainingFiles: []string{"voices/missing.wav"},
	})
	assert.True(t, domain.IsCode(err, domain.CodeFilesNotFound))
	assert.Zero(t, atomic.LoadInt32(f.calls))
}

func TestCloneVoice_NoCredential(t *testing.T) {
	f := newFixture(t, "", "")
	_, err := f.bridge.CloneVoice(context.Background(), "u1", CloneRequest{
		Name: "Ana", Consent: true, TrainingFiles: []string{"voices/sample.wav"},
	})
	assert.True(t, domain.IsCode(err, domain.CodeAuthInvalid))
	assert.Zero(t, atomic.LoadInt32(&f.samples.calls))
}

func TestMapVoice(t *testing.T) {
	f := newFixture(t, "k", "")

	p, err := f.bridge.MapVoice(context.Background(), "u1", "", "narrator", "v9")
	require.NoError(t, err)
	assert.Equal(t, "default__narrator", p.ID)
	assert.Equal(t, "default", p.Project)

	_, err = f.bridge.MapVoice(context.Background(), "u1", "p", "", "v9")
	assert.True(t, domain.IsCode(err, domain.CodeInvalidInput))
}

func TestResolveVoice(t *testing.T) {
	ctx := context.Background()

	withDefault := newFixture(t, "k", "env-voice")
	require.NoError(t, withDefault.profiles.UpsertVoiceProfile(ctx, &domain.VoiceProfile{ID: "p1", VoiceID: "v1"}))

	id, err := withDefault.bridge.ResolveVoice(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "v1", id)

	id, err = withDefault.bridge.ResolveVoice(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "env-voice", id)

	id, err = withDefault.bridge.ResolveVoice(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "env-voice", id)

	noDefault := newFixture(t, "k", "")
	_, err = noDefault.bridge.ResolveVoice(ctx, "missing")
	assert.True(t, domain.IsCode(err, domain.CodeProfileNotFound))
	_, err = noDefault.bridge.ResolveVoice(ctx, "")
	assert.True(t, domain.IsCode(err, domain.CodeVoiceIDUnresolved))
}

func TestGenerateToStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "k", "env-voice")

	res, err := f.bridge.GenerateToStorage(ctx, GenerateRequest{Text: "Olá", Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, "env-voice", res.VoiceID)
	assert.Equal(t, FormatMP3, res.Format)
	assert.Equal(t, "bridge_tts/default/env/1700000000123.mp3", res.Path)
	assert.Equal(t, "http://files.test/bridge_tts/default/env/1700000000123.mp3?expires=", res.AudioURL[:len("http://files.test/bridge_tts/default/env/1700000000123.mp3?expires=")])

	data, err := f.blobs.Read(ctx, res.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(data))

	_, err = f.bridge.GenerateToStorage(ctx, GenerateRequest{Text: " "})
	assert.True(t, domain.IsCode(err, domain.CodeInvalidInput))

	_, err = f.bridge.GenerateToStorage(ctx, GenerateRequest{Text: "x", Format: "flac"})
	assert.True(t, domain.IsCode(err, domain.CodeInvalidInput))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "k", "")
	require.NoError(t, f.profiles.UpsertVoiceProfile(ctx, &domain.VoiceProfile{ID: "p1", VoiceID: "v1"}))

	cat, err := f.bridge.Catalog(ctx)
	require.NoError(t, err)
	assert.Len(t, cat.Voices, 1)
	assert.Len(t, cat.Profiles, 1)

	degraded := newFixture(t, "", "")
	cat, err = degraded.bridge.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, cat.Voices)
}
