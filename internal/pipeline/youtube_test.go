package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

func newTestYouTube(t *testing.T, handler http.HandlerFunc) *YouTube {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	yt, err := NewYouTube(context.Background(), YouTubeConfig{
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	}, logger.NewDiscard())
	require.NoError(t, err)
	return yt
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT4M13S", 253},
		{"PT1H", 3600},
		{"PT1H2M3S", 3723},
		{"P1DT1S", 86401},
		{"PT0S", 0},
		{"", 0},
		{"4:13", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseISODuration(tt.in))
		})
	}
}

func TestYouTube_VideoMetadata(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/videos"), r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") != "abc" {
			_, _ = io.WriteString(w, `{"items":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{
			"id":"abc",
			"snippet":{"title":"Never","thumbnails":{"default":{"url":"https://i/d.jpg"},"high":{"url":"https://i/h.jpg"}}},
			"contentDetails":{"duration":"PT3M33S"}
		}]}`)
	})

	meta, err := yt.VideoMetadata(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, &domain.VideoMetadata{Title: "Never", ThumbnailURL: "https://i/h.jpg", DurationSec: 213}, meta)
}

func TestYouTube_VideoMetadataNotFound(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[]}`)
	})
	_, err := yt.VideoMetadata(context.Background(), "zzz")
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestYouTube_ChannelInfo(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/channels"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{
			"id":"UC1",
			"snippet":{"title":"Canal"},
			"statistics":{"subscriberCount":"10","viewCount":"2000","videoCount":"3"}
		}]}`)
	})

	title, stats, err := yt.ChannelInfo(context.Background(), "UC1")
	require.NoError(t, err)
	assert.Equal(t, "Canal", title)
	assert.Equal(t, &domain.ChannelStats{Subscribers: 10, Views: 2000, Videos: 3}, stats)
}

func TestYouTube_UpdateSnippetKeepsCategory(t *testing.T) {
	var updated map[string]any
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"items":[{"id":"abc","snippet":{"title":"Old","description":"old","categoryId":"22"}}]}`)
		case http.MethodPut:
			assert.Equal(t, "snippet", r.URL.Query().Get("part"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
			_, _ = io.WriteString(w, `{"id":"abc"}`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	require.True(t, yt.CanPublish())

	err := yt.UpdateSnippet(context.Background(), "abc", Snippet{Title: "New", Tags: []string{"x"}})
	require.NoError(t, err)

	snippet, _ := updated["snippet"].(map[string]any)
	require.NotNil(t, snippet)
	assert.Equal(t, "New", snippet["title"])
	assert.Equal(t, "old", snippet["description"])
	assert.Equal(t, "22", snippet["categoryId"])
	assert.Equal(t, []any{"x"}, snippet["tags"])
}

func TestYouTube_WithoutCredentials(t *testing.T) {
	yt, err := NewYouTube(context.Background(), YouTubeConfig{}, logger.NewDiscard())
	require.NoError(t, err)
	assert.False(t, yt.CanPublish())

	_, err = yt.VideoMetadata(context.Background(), "abc")
	assert.True(t, domain.IsCode(err, domain.CodeAuthInvalid))
	err = yt.UpdateSnippet(context.Background(), "abc", Snippet{})
	assert.True(t, domain.IsCode(err, domain.CodeAuthInvalid))
}
