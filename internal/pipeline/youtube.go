package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// Snippet is the publishable metadata of a video
type Snippet struct {
	Title       string
	Description string
	Tags        []string
}

// Platform reads and updates videos and channels on the hosting platform
type Platform interface {
	VideoMetadata(ctx context.Context, videoID string) (*domain.VideoMetadata, error)
	ChannelInfo(ctx context.Context, channelID string) (string, *domain.ChannelStats, error)
	CanPublish() bool
	UpdateSnippet(ctx context.Context, videoID string, s Snippet) error
}

// YouTubeConfig holds the Data API credentials. APIKey enables reads; the
// OAuth client and refresh token enable snippet updates.
type YouTubeConfig struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Endpoint     string
	HTTPClient   *http.Client
}

// YouTube implements Platform with the YouTube Data API v3
type YouTube struct {
	read   *youtube.Service
	write  *youtube.Service
	logger *slog.Logger
}

var _ Platform = (*YouTube)(nil)

// NewYouTube builds the read and write services that the config allows
func NewYouTube(ctx context.Context, cfg YouTubeConfig, logger *slog.Logger) (*YouTube, error) {
	yt := &YouTube{logger: logger}

	common := []option.ClientOption{}
	if cfg.Endpoint != "" {
		common = append(common, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.HTTPClient != nil {
		svc, err := youtube.NewService(ctx, append(common, option.WithHTTPClient(cfg.HTTPClient))...)
		if err != nil {
			return nil, fmt.Errorf("failed to create youtube service: %w", err)
		}
		yt.read, yt.write = svc, svc
		return yt, nil
	}

	if cfg.APIKey != "" {
		svc, err := youtube.NewService(ctx, append(common, option.WithAPIKey(cfg.APIKey))...)
		if err != nil {
			return nil, fmt.Errorf("failed to create youtube service: %w", err)
		}
		yt.read = svc
	}

	if cfg.ClientID != "" && cfg.RefreshToken != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{youtube.YoutubeScope},
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		svc, err := youtube.NewService(ctx, append(common, option.WithTokenSource(ts))...)
		if err != nil {
			return nil, fmt.Errorf("failed to create youtube publish service: %w", err)
		}
		yt.write = svc
		if yt.read == nil {
			yt.read = svc
		}
	}

	logger.Info("YouTube client configured",
		slog.Bool("read", yt.read != nil),
		slog.Bool("publish", yt.write != nil),
	)
	return yt, nil
}

// CanPublish reports whether snippet updates are possible
func (y *YouTube) CanPublish() bool {
	return y.write != nil
}

// VideoMetadata fetches title, thumbnail and duration of a video
func (y *YouTube) VideoMetadata(ctx context.Context, videoID string) (*domain.VideoMetadata, error) {
	if y.read == nil {
		return nil, domain.AuthInvalid("youtube credential is not configured")
	}
	resp, err := y.read.Videos.List([]string{"snippet", "contentDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, domain.NotFound("video " + videoID)
	}

	item := resp.Items[0]
	meta := &domain.VideoMetadata{}
	if item.Snippet != nil {
		meta.Title = item.Snippet.Title
		meta.ThumbnailURL = bestThumbnail(item.Snippet.Thumbnails)
	}
	if item.ContentDetails != nil {
		meta.DurationSec = ParseISODuration(item.ContentDetails.Duration)
	}
	return meta, nil
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// ChannelInfo fetches the title and public counters of a channel
func (y *YouTube) ChannelInfo(ctx context.Context, channelID string) (string, *domain.ChannelStats, error) {
	if y.read == nil {
		return "", nil, domain.AuthInvalid("youtube credential is not configured")
	}
	resp, err := y.read.Channels.List([]string{"statistics", "snippet"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 {
		return "", nil, domain.NotFound("channel " + channelID)
	}

	item := resp.Items[0]
	stats := &domain.ChannelStats{}
	if item.Statistics != nil {
		stats.Subscribers = item.Statistics.SubscriberCount
		stats.Views = item.Statistics.ViewCount
		stats.Videos = item.Statistics.VideoCount
	}
	title := ""
	if item.Snippet != nil {
		title = item.Snippet.Title
	}
	return title, stats, nil
}

// UpdateSnippet replaces title, description and tags, keeping the rest of the snippet
func (y *YouTube) UpdateSnippet(ctx context.Context, videoID string, s Snippet) error {
	if y.write == nil {
		return domain.AuthInvalid("youtube publish credential is not configured")
	}
	resp, err := y.write.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to fetch video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return domain.NotFound("video " + videoID)
	}

	snippet := resp.Items[0].Snippet
	if s.Title != "" {
		snippet.Title = s.Title
	}
	if s.Description != "" {
		snippet.Description = s.Description
	}
	if s.Tags != nil {
		snippet.Tags = s.Tags
	}

	if _, err := y.write.Videos.Update([]string{"snippet"}, &youtube.Video{
		Id:      videoID,
		Snippet: snippet,
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update video %s: %w", videoID, err)
	}

	y.logger.Info("Video snippet updated",
		slog.String("video_id", videoID),
	)
	return nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as PT1H2M3S into seconds; 0 when unparsable
func ParseISODuration(s string) int {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	total := 0
	for i, mult := range []int{86400, 3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * mult
	}
	return total
}
