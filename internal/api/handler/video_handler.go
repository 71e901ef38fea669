package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/dto"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

func queryLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return pageSize(n)
}

// ListVideos handles GET /videos
func (h *Handler) ListVideos(c *gin.Context) {
	videos, err := h.store.ListVideos(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse[domain.Video]{Items: videos})
}

// GetVideo handles GET /videos/:video_id
func (h *Handler) GetVideo(c *gin.Context) {
	video, err := h.store.GetVideo(c.Request.Context(), c.Param("video_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}
