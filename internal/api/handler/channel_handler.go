package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/dto"
	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// ListChannels handles GET /channels
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.store.ListChannels(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse[domain.Channel]{Items: channels})
}

// CreateChannel handles POST /channels
// Platform statistics are best effort: a lookup failure stores zero counters.
func (h *Handler) CreateChannel(c *gin.Context) {
	actor := Identity(c)
	if err := auth.Authorize(actor, auth.RequireEditorOrAdmin); err != nil {
		h.fail(c, err)
		return
	}

	var req dto.CreateChannelRequest
	if !h.bindJSON(c, &req) {
		return
	}
	channel := &domain.Channel{
		ID:        strings.TrimSpace(req.ChannelID),
		Title:     strings.TrimSpace(req.Title),
		CreatedBy: actor.UID,
	}
	if channel.ID == "" || channel.Title == "" {
		h.fail(c, domain.InvalidInput("channelId and title are required"))
		return
	}

	if h.channels != nil {
		_, stats, err := h.channels.ChannelInfo(c.Request.Context(), channel.ID)
		if err != nil {
			h.logger.Warn("Channel statistics lookup failed",
				slog.String("channel_id", channel.ID),
				slog.Any("error", err),
			)
		} else if stats != nil {
			channel.Stats = *stats
		}
	}

	if err := h.store.UpsertChannel(c.Request.Context(), channel); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CreatedResponse{OK: true, ID: channel.ID})
}
