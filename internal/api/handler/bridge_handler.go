package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/dto"
	"github.com/cuongbtq/dubbing-be/internal/bridge"
)

const statusOK = "ok"

func uidOf(c *gin.Context) string {
	if id := Identity(c); id != nil {
		return id.UID
	}
	return ""
}

// Ping handles GET /bridge/ping
func (h *Handler) Ping(c *gin.Context) {
	voices := h.bridge.ListVoices(c.Request.Context())
	c.JSON(http.StatusOK, dto.PingResponse{Status: statusOK, Provider: "elevenlabs", VoicesCount: len(voices)})
}

// ListVoices handles GET /bridge/voices
func (h *Handler) ListVoices(c *gin.Context) {
	catalog, err := h.bridge.Catalog(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.VoicesResponse{Status: statusOK, Items: catalog.Voices, Profiles: catalog.Profiles})
}

// VoiceStatus handles GET /bridge/voices/:voice_id/status
func (h *Handler) VoiceStatus(c *gin.Context) {
	status, err := h.bridge.GetVoiceStatus(c.Request.Context(), c.Param("voice_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.VoiceStatusResponse{Status: statusOK, Voice: status})
}

// CloneVoice handles POST /bridge/voices/clone
func (h *Handler) CloneVoice(c *gin.Context) {
	var req bridge.CloneRequest
	if !h.bindJSON(c, &req) {
		return
	}
	res, err := h.bridge.CloneVoice(c.Request.Context(), uidOf(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CloneResponse{Status: statusOK, VoiceID: res.VoiceID, ProfileID: res.ProfileID})
}

// MapVoice handles POST /bridge/voices/map
func (h *Handler) MapVoice(c *gin.Context) {
	var req dto.MapVoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	profile, err := h.bridge.MapVoice(c.Request.Context(), uidOf(c), req.Project, req.VoiceName, req.VoiceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MapVoiceResponse{Status: statusOK, VoiceProfileID: profile.ID})
}

// GenerateSpeech handles POST /bridge/tts/generate
func (h *Handler) GenerateSpeech(c *gin.Context) {
	var req bridge.GenerateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	res, err := h.bridge.GenerateToStorage(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := dto.GenerateResponse{
		Status:   statusOK,
		AudioURL: res.AudioURL,
		VoiceID:  res.VoiceID,
		Format:   res.Format,
	}
	if res.VoiceProfileID != "" {
		resp.VoiceProfileID = &res.VoiceProfileID
	}
	c.JSON(http.StatusOK, resp)
}
