package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/bridge"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/orchestrator"
	"github.com/cuongbtq/dubbing-be/internal/store"
)

// JobService creates jobs on behalf of a caller
type JobService interface {
	Ingest(ctx context.Context, actor *auth.Identity, videoID string) (string, error)
	RequestTranslate(ctx context.Context, actor *auth.Identity, videoID, lang string) (string, error)
	RequestTTS(ctx context.Context, actor *auth.Identity, videoID, lang string) (string, error)
	RequestPublish(ctx context.Context, actor *auth.Identity, videoID string, p orchestrator.PublishRequest) (string, error)
}

// Store is the read side and admin surface of the document store
type Store interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, q store.JobQuery) ([]domain.Job, error)
	Subscribe(ctx context.Context, q store.JobQuery) <-chan store.JobSnapshot
	GetVideo(ctx context.Context, id string) (*domain.Video, error)
	ListVideos(ctx context.Context, limit int) ([]domain.Video, error)
	ListChannels(ctx context.Context, limit int) ([]domain.Channel, error)
	UpsertChannel(ctx context.Context, c *domain.Channel) error
	GetAppConfig(ctx context.Context) (*domain.AppConfig, error)
	UpdateAppConfig(ctx context.Context, patch domain.AppConfigPatch) (*domain.AppConfig, error)
}

// RoleManager reads and assigns role claims
type RoleManager interface {
	Roles(ctx context.Context, actor *auth.Identity, uid string) (auth.RoleSet, error)
	SetRoles(ctx context.Context, actor *auth.Identity, uid string, labels []string) (auth.RoleSet, error)
}

// VoiceBridge is the voice provider facade
type VoiceBridge interface {
	ListVoices(ctx context.Context) []bridge.Voice
	Catalog(ctx context.Context) (*bridge.Catalog, error)
	GetVoiceStatus(ctx context.Context, voiceID string) (*bridge.VoiceStatus, error)
	CloneVoice(ctx context.Context, uid string, req bridge.CloneRequest) (*bridge.CloneResult, error)
	MapVoice(ctx context.Context, uid, project, voiceName, voiceID string) (*domain.VoiceProfile, error)
	GenerateToStorage(ctx context.Context, req bridge.GenerateRequest) (*bridge.GenerateResult, error)
}

// ChannelLookup fetches channel statistics from the platform
type ChannelLookup interface {
	ChannelInfo(ctx context.Context, channelID string) (string, *domain.ChannelStats, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Jobs     JobService
	Store    Store
	Roles    RoleManager
	Bridge   VoiceBridge
	Channels ChannelLookup // optional
	Service  string
}

// Handler serves the HTTP API
type Handler struct {
	logger   *slog.Logger
	jobs     JobService
	store    Store
	roles    RoleManager
	bridge   VoiceBridge
	channels ChannelLookup
	service  string
}

// New creates a Handler
func New(deps *Dependencies) *Handler {
	service := deps.Service
	if service == "" {
		service = "dubbing-api"
	}
	return &Handler{
		logger:   deps.Logger,
		jobs:     deps.Jobs,
		store:    deps.Store,
		roles:    deps.Roles,
		bridge:   deps.Bridge,
		channels: deps.Channels,
		service:  service,
	}
}

const identityKey = "identity"

// SetIdentity stores the verified caller on the request
func SetIdentity(c *gin.Context, id *auth.Identity) {
	c.Set(identityKey, id)
}

// Identity returns the verified caller, or nil for anonymous requests
func Identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// WriteError renders err in the error envelope. Only INTERNAL_ERROR details stay server side.
func WriteError(c *gin.Context, logger *slog.Logger, err error) {
	de := domain.AsError(err)

	if de.Code == domain.CodeInternal {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	} else {
		logger.Warn("Request rejected",
			slog.String("path", c.Request.URL.Path),
			slog.String("code", string(de.Code)),
			slog.String("message", de.Message),
		)
	}

	body := gin.H{
		"status":  "error",
		"code":    de.Code,
		"message": de.Message,
		"error":   de.Message,
	}
	for k, v := range de.Details {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	c.AbortWithStatusJSON(de.Status(), body)
}

func (h *Handler) fail(c *gin.Context, err error) {
	WriteError(c, h.logger, err)
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, domain.InvalidInput("invalid request body: %v", err))
		return false
	}
	return true
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.service,
	})
}
