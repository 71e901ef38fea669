// Package blob is path-addressed object storage for pipeline artifacts and
// voice samples.
package blob

import (
	"context"
	"time"
)

// Store reads and writes objects by slash-separated path
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// ContentType guesses the media type of an artifact from its extension
func ContentType(path string) string {
	switch ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".wav":
		return "audio/wav"
	case ".srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}

func ext(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
