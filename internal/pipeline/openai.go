package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/srt"
)

const (
	defaultTranscribeModel = "whisper-1"
	defaultTranslateModel  = "gpt-4o-mini"
	defaultOpenAITimeout   = 5 * time.Minute
	translateConcurrency   = 4
)

// Transcriber turns speech into timed segments
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, lang string) ([]srt.Segment, error)
}

// Translator translates subtitle text lines, preserving their count and order
type Translator interface {
	Translate(ctx context.Context, lines []string, source, target string) ([]string, error)
}

// OpenAIConfig configures the OpenAI backed transcriber and translator
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	TranslateModel  string
	Timeout         time.Duration
	MaxRetries      int
	HTTPClient      *http.Client
}

// OpenAI implements Transcriber with Whisper and Translator with chat completions
type OpenAI struct {
	client openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI client. It is usable only when Configured.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = defaultTranscribeModel
	}
	if cfg.TranslateModel == "" {
		cfg.TranslateModel = defaultTranslateModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: logger,
	}
}

// Configured reports whether an API key is set
func (o *OpenAI) Configured() bool {
	return o.config.APIKey != ""
}

type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe sends audio to Whisper and returns its verbose_json segments
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename, lang string) ([]srt.Segment, error) {
	if !o.Configured() {
		return nil, domain.AuthInvalid("transcription provider credential is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	var out verboseTranscription
	_, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(audio), filename, "audio/wav"),
		Model:          openai.AudioModel(o.config.TranscribeModel),
		Language:       openai.String(lang),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}, option.WithResponseBodyInto(&out))
	if err != nil {
		return nil, classifyOpenAIError("transcription failed", err)
	}

	segments := make([]srt.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, srt.Segment{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  text,
		})
	}
	if len(segments) == 0 && strings.TrimSpace(out.Text) != "" {
		segments = append(segments, srt.Segment{Text: strings.TrimSpace(out.Text)})
	}

	o.logger.Info("Audio transcribed",
		slog.String("lang", lang),
		slog.Int("segments", len(segments)),
	)
	return segments, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second)).Round(time.Millisecond)
}

// Translate translates each line independently with a bounded number of concurrent requests
func (o *OpenAI) Translate(ctx context.Context, lines []string, source, target string) ([]string, error) {
	if !o.Configured() {
		return nil, domain.AuthInvalid("translation provider credential is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	out := make([]string, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateConcurrency)
	for i, line := range lines {
		g.Go(func() error {
			translated, err := o.translateLine(gctx, line, source, target)
			if err != nil {
				return err
			}
			out[i] = translated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpenAI) translateLine(ctx context.Context, line, source, target string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following subtitle line from %s to %s. Reply with the translation only.",
		source, target,
	)
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.config.TranslateModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(line),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", classifyOpenAIError("translation failed", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("translation failed: no completion choices returned")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// classifyOpenAIError maps provider status codes onto the error taxonomy
func classifyOpenAIError(message string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.WrapError(domain.CodeAuthInvalid, message+": provider rejected credential", err)
		case http.StatusTooManyRequests:
			return domain.WrapError(domain.CodeRateLimited, message+": provider rate limited", err)
		}
		return domain.WrapError(domain.CodeInternal, fmt.Sprintf("%s: provider returned %d", message, apiErr.StatusCode), err)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Passthrough is the Translator used when no provider is configured; it returns lines unchanged
type Passthrough struct{}

// Translate returns a copy of lines
func (Passthrough) Translate(_ context.Context, lines []string, _, _ string) ([]string, error) {
	return append([]string(nil), lines...), nil
}
