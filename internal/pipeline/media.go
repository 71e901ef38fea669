package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// placeholderMP3 is written when no silent clip can be rendered
var placeholderMP3 = []byte{0x49, 0x44, 0x33}

// Runner executes external tools
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, reporting the tail of stderr on failure
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes name with args and waits for it
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	r.logger.Debug("Running command",
		slog.String("command", name),
		slog.Any("args", args),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, tail(stderr.String(), 512))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MediaConfig locates the media tools
type MediaConfig struct {
	YTDLPPath  string
	FFmpegPath string
	WorkDir    string // scratch space, defaults to the OS temp dir
}

// Media downloads and converts audio with yt-dlp and ffmpeg
type Media struct {
	runner Runner
	config MediaConfig
}

// NewMedia creates a Media
func NewMedia(runner Runner, cfg MediaConfig) *Media {
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Media{runner: runner, config: cfg}
}

// ExtractAudio downloads the audio track of a video and converts it to 16 kHz mono WAV
func (m *Media) ExtractAudio(ctx context.Context, videoID string) ([]byte, error) {
	dir, err := os.MkdirTemp(m.config.WorkDir, "ingest-"+videoID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	mp3 := filepath.Join(dir, "audio.mp3")
	wav := filepath.Join(dir, "audio.wav")
	url := "https://www.youtube.com/watch?v=" + videoID

	if err := m.runner.Run(ctx, m.config.YTDLPPath,
		"-f", "bestaudio/best", "-x", "--audio-format", "mp3", "-o", mp3, url,
	); err != nil {
		return nil, err
	}
	if err := m.runner.Run(ctx, m.config.FFmpegPath,
		"-y", "-i", mp3, "-ac", "1", "-ar", "16000", wav,
	); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(wav)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted audio: %w", err)
	}
	return data, nil
}

// Silence renders three seconds of silent MP3. When ffmpeg is unavailable it
// returns a bare ID3 header so downstream consumers still find an object.
func (m *Media) Silence(ctx context.Context) []byte {
	dir, err := os.MkdirTemp(m.config.WorkDir, "silence-")
	if err != nil {
		return placeholderMP3
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "silence.mp3")
	if err := m.runner.Run(ctx, m.config.FFmpegPath,
		"-y", "-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono",
		"-t", "3", "-q:a", "9", "-acodec", "libmp3lame", out,
	); err != nil {
		return placeholderMP3
	}
	data, err := os.ReadFile(out)
	if err != nil || len(data) == 0 {
		return placeholderMP3
	}
	return data
}
