package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// maxSampleBytes bounds a downloaded training sample
const maxSampleBytes = 50 << 20

// SampleRef points at a training sample by URL or storage path
type SampleRef struct {
	URL         string `json:"url,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Sample is a resolved training file
type Sample struct {
	Filename string
	Data     []byte
}

// SampleRefFromString treats http(s) strings as URLs and anything else as a storage path
func SampleRefFromString(s string) (SampleRef, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SampleRef{}, false
	}
	if strings.HasPrefix(s, "http") {
		return SampleRef{URL: s}, true
	}
	return SampleRef{StoragePath: s}, true
}

// bucketReader is implemented by stores that can read outside their default bucket
type bucketReader interface {
	ReadFrom(ctx context.Context, bucket, path string) ([]byte, error)
}

// SampleResolver fetches training samples from remote URLs or blob storage
type SampleResolver struct {
	store  Store
	client *http.Client
}

// NewSampleResolver resolves storage paths through store
func NewSampleResolver(store Store, client *http.Client) *SampleResolver {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &SampleResolver{store: store, client: client}
}

// Resolve loads every reference in order
func (r *SampleResolver) Resolve(ctx context.Context, refs []SampleRef) ([]Sample, error) {
	samples := make([]Sample, 0, len(refs))
	for _, ref := range refs {
		s, err := r.resolveOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (r *SampleResolver) resolveOne(ctx context.Context, ref SampleRef) (Sample, error) {
	switch {
	case ref.URL != "":
		data, err := r.download(ctx, ref.URL)
		if err != nil {
			return Sample{}, err
		}
		return Sample{Filename: filename(ref.Filename, ref.URL), Data: data}, nil

	case ref.StoragePath != "":
		data, err := r.readStorage(ctx, ref.StoragePath)
		if err != nil {
			return Sample{}, err
		}
		return Sample{Filename: filename(ref.Filename, ref.StoragePath), Data: data}, nil
	}
	return Sample{}, domain.InvalidInput("sample needs a url or storagePath")
}

// readStorage accepts plain paths and gs://bucket/path references
func (r *SampleResolver) readStorage(ctx context.Context, p string) ([]byte, error) {
	if !strings.HasPrefix(p, "gs://") {
		return r.store.Read(ctx, p)
	}
	u, err := url.Parse(p)
	if err != nil || u.Host == "" {
		return nil, domain.InvalidInput("invalid storage reference %q", p)
	}
	objectPath := strings.TrimPrefix(u.Path, "/")
	if br, ok := r.store.(bucketReader); ok {
		return br.ReadFrom(ctx, u.Host, objectPath)
	}
	return r.store.Read(ctx, objectPath)
}

func (r *SampleResolver) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.InvalidInput("invalid sample url")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download sample: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sample download returned status %d: %w", resp.StatusCode, domain.ErrObjectNotFound)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSampleBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sample: %w", err)
	}
	return data, nil
}

func filename(explicit, ref string) string {
	if explicit != "" {
		return explicit
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	if base := path.Base(ref); base != "" && base != "." && base != "/" {
		return base
	}
	return "audio.wav"
}
