package dto

import (
	"github.com/cuongbtq/dubbing-be/internal/bridge"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

type PingResponse struct {
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	VoicesCount int    `json:"voices_count"`
}

type VoicesResponse struct {
	Status   string                `json:"status"`
	Items    []bridge.Voice        `json:"items"`
	Profiles []domain.VoiceProfile `json:"profiles"`
}

type VoiceStatusResponse struct {
	Status string              `json:"status"`
	Voice  *bridge.VoiceStatus `json:"voice"`
}

type MapVoiceRequest struct {
	Project   string `json:"project"`
	VoiceName string `json:"voice_name" binding:"required"`
	VoiceID   string `json:"voice_id" binding:"required"`
}

type MapVoiceResponse struct {
	Status         string `json:"status"`
	VoiceProfileID string `json:"voice_profile_id"`
}

type GenerateResponse struct {
	Status         string        `json:"status"`
	AudioURL       string        `json:"audio_url"`
	DurationMS     *int64        `json:"duration_ms"`
	VoiceID        string        `json:"voice_id"`
	Format         bridge.Format `json:"format"`
	VoiceProfileID *string       `json:"voice_profile_id"`
}

type CloneResponse struct {
	Status    string `json:"status"`
	VoiceID   string `json:"voice_id"`
	ProfileID string `json:"profile_id"`
}
