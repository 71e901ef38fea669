package dto

import "github.com/cuongbtq/dubbing-be/internal/domain"

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type CreateChannelRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
	Title     string `json:"title" binding:"required"`
}

type CreatedResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

type AppConfigResponse struct {
	OK     bool              `json:"ok"`
	Config *domain.AppConfig `json:"config"`
}

type RolesRequest struct {
	Roles []string `json:"roles"`
}

type RolesResponse struct {
	OK            bool     `json:"ok,omitempty"`
	UID           string   `json:"uid"`
	Roles         []string `json:"roles"`
	ClaimsUpdated bool     `json:"claimsUpdated,omitempty"`
}

type MeResponse struct {
	UID   string   `json:"uid"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}
