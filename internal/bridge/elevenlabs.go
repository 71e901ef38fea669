package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/blob"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const (
	defaultBaseURL       = "https://api.elevenlabs.io/v1"
	defaultTimeout       = 60 * time.Second
	defaultStatusBackoff = 300 * time.Millisecond
	statusAttempts       = 3
)

// Voice is a provider voice as listed by ElevenLabs
type Voice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
}

// VoiceStatus is the provider's detailed view of one voice
type VoiceStatus struct {
	Voice
	Samples    []map[string]any `json:"samples,omitempty"`
	FineTuning map[string]any   `json:"fine_tuning,omitempty"`
	Settings   map[string]any   `json:"settings,omitempty"`
}

// Format is an audio container accepted by Synthesize
type Format string

// Supported output formats
const (
	FormatMP3  Format = "mp3"
	FormatOGG  Format = "ogg"
	FormatOpus Format = "opus"
)

// ParseFormat defaults an empty format to mp3
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatMP3, nil
	case FormatMP3, FormatOGG, FormatOpus:
		return f, nil
	}
	return "", domain.InvalidInput("unsupported audio format %q", s)
}

// OutputFormat is the provider encoding identifier for f
func (f Format) OutputFormat() string {
	switch f {
	case FormatOGG:
		return "ogg_44100"
	case FormatOpus:
		return "opus_48000"
	default:
		return "mp3_44100"
	}
}

// ContentType is the media type of audio in format f
func (f Format) ContentType() string {
	switch f {
	case FormatOGG:
		return "audio/ogg"
	case FormatOpus:
		return "audio/opus"
	default:
		return "audio/mpeg"
	}
}

// ClientOptions configures an ElevenLabs client
type ClientOptions struct {
	BaseURL       string
	ModelID       string
	HTTPClient    *http.Client
	StatusBackoff time.Duration
}

// Client talks to the ElevenLabs REST API
type Client struct {
	apiKey        string
	baseURL       string
	modelID       string
	httpClient    *http.Client
	statusBackoff time.Duration
	logger        *slog.Logger
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// providerError keeps the HTTP status of a failed provider call
type providerError struct {
	status  int
	message string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("elevenlabs error (%d): %s", e.status, e.message)
}

// NewClient creates a client; an empty apiKey yields a degraded client
func NewClient(apiKey string, opts ClientOptions, logger *slog.Logger) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		modelID:       opts.ModelID,
		httpClient:    opts.HTTPClient,
		statusBackoff: opts.StatusBackoff,
		logger:        logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.statusBackoff <= 0 {
		c.statusBackoff = defaultStatusBackoff
	}
	return c
}

// Configured reports whether a credential is present
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Detail.Message != "" {
			msg = errResp.Detail.Message
		}
		return nil, &providerError{status: resp.StatusCode, message: msg}
	}
	return body, nil
}

func statusOf(err error) int {
	var pe *providerError
	if errors.As(err, &pe) {
		return pe.status
	}
	return 0
}

func messageOf(err error, fallback string) string {
	var pe *providerError
	if errors.As(err, &pe) && pe.message != "" {
		return pe.message
	}
	return fallback
}

// ListVoices returns the account voices. Without a credential it returns an empty list.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	if !c.Configured() {
		return []Voice{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	if out.Voices == nil {
		out.Voices = []Voice{}
	}
	return out.Voices, nil
}

// GetVoiceStatus fetches one voice, trying up to three times with a linearly
// growing pause between attempts.
func (c *Client) GetVoiceStatus(ctx context.Context, voiceID string) (*VoiceStatus, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, domain.InvalidInput("voice id is required")
	}
	if !c.Configured() {
		return nil, domain.AuthInvalid("voice provider credential is not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= statusAttempts; attempt++ {
		status, err := c.getVoice(ctx, voiceID)
		if err == nil {
			return status, nil
		}
		lastErr = err

		c.logger.Warn("Voice status request failed",
			slog.String("voice_id", voiceID),
			slog.Int("attempt", attempt),
			slog.Int("status", statusOf(err)),
		)

		if attempt == statusAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.statusBackoff * time.Duration(attempt)):
		}
	}
	return nil, normalizeStatusError(lastErr)
}

func (c *Client) getVoice(ctx context.Context, voiceID string) (*VoiceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices/"+url.PathEscape(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var status VoiceStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode voice: %w", err)
	}
	return &status, nil
}

func normalizeStatusError(err error) error {
	msg := messageOf(err, "failed to fetch voice status")
	switch statusOf(err) {
	case http.StatusNotFound:
		return domain.WrapError(domain.CodeVoiceNotFound, msg, err)
	case http.StatusUnauthorized:
		return domain.WrapError(domain.CodeAuthInvalid, msg, err)
	case http.StatusTooManyRequests:
		return domain.WrapError(domain.CodeRateLimited, msg, err)
	default:
		return domain.WrapError(domain.CodeStatusFetchFailed, msg, err)
	}
}

// Synthesize renders text with voiceID in format. It is a single attempt.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string, format Format) ([]byte, error) {
	if !c.Configured() {
		return nil, domain.AuthInvalid("voice provider credential is not configured")
	}

	payload := map[string]any{"text": text}
	if c.modelID != "" {
		payload["model_id"] = c.modelID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/text-to-speech/" + url.PathEscape(voiceID) +
		"?output_format=" + url.QueryEscape(format.OutputFormat())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", format.ContentType())

	audio, err := c.do(req)
	if err != nil {
		return nil, domain.WrapError(domain.CodeTTSGenerationError, messageOf(err, "speech generation failed"), err)
	}
	if len(audio) == 0 {
		return nil, domain.NewError(domain.CodeTTSGenerationError, "empty response from voice provider")
	}
	return audio, nil
}

// AddVoice uploads training samples and returns the new provider voice id
func (c *Client) AddVoice(ctx context.Context, name string, samples []blob.Sample) (string, error) {
	if !c.Configured() {
		return "", domain.AuthInvalid("voice provider credential is not configured")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("name", name); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	for _, s := range samples {
		part, err := form.CreateFormFile("files", s.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to build form: %w", err)
		}
		if _, err := part.Write(s.Data); err != nil {
			return "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voices/add", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		msg := messageOf(err, "voice cloning failed")
		switch statusOf(err) {
		case http.StatusUnauthorized:
			return "", domain.WrapError(domain.CodeAuthInvalid, msg, err)
		case http.StatusTooManyRequests:
			return "", domain.WrapError(domain.CodeRateLimited, msg, err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return "", domain.WrapError(domain.CodeInvalidInput, msg, err)
		default:
			return "", domain.WrapError(domain.CodeVoiceTrainFailed, msg, err)
		}
	}

	var out struct {
		VoiceID string `json:"voice_id"`
		Voice   struct {
			VoiceID string `json:"voice_id"`
		} `json:"voice"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", domain.WrapError(domain.CodeVoiceTrainFailed, "unexpected voice provider response", err)
	}
	for _, id := range []string{out.VoiceID, out.Voice.VoiceID, out.ID} {
		if id != "" {
			return id, nil
		}
	}
	return "", domain.NewError(domain.CodeVoiceTrainFailed, "unexpected voice provider response")
}
