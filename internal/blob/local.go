package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// LocalStore keeps objects under a directory; used for development and tests
type LocalStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewLocalStore stores objects below root. When baseURL is set, signed URLs
// point at it instead of the file system.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, domain.NewError(domain.CodeStorageConfigError, "local storage root is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(path, "/"))
	if clean == "/" {
		return "", domain.InvalidInput("empty storage path")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Read returns the object at path
func (s *LocalStore) Read(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Write stores data at path, creating parent directories
func (s *LocalStore) Write(_ context.Context, path string, data []byte, _ string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

// Exists reports whether path is present
func (s *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// SignedURL returns a link to the object carrying its expiry
func (s *LocalStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", path, domain.ErrObjectNotFound)
	}

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	if s.baseURL != "" {
		return s.baseURL + "/" + strings.TrimPrefix(path, "/") + "?expires=" + expires, nil
	}
	full, _ := s.resolve(path)
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(full), RawQuery: "expires=" + expires}
	return u.String(), nil
}
