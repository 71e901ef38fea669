package dto

import "github.com/cuongbtq/dubbing-be/internal/domain"

type IngestRequest struct {
	URL string `json:"url"`
}

type IngestResponse struct {
	OK      bool   `json:"ok"`
	VideoID string `json:"videoId"`
	JobID   string `json:"jobId"`
}

type LangJobRequest struct {
	VideoID string `json:"videoId" binding:"required"`
	Lang    string `json:"lang" binding:"required"`
}

type PublishRequest struct {
	VideoID     string   `json:"videoId" binding:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type JobCreatedResponse struct {
	OK    bool   `json:"ok"`
	JobID string `json:"jobId"`
}

type ListJobsRequest struct {
	Status  string `form:"status"`
	Kind    string `form:"kind"`
	VideoID string `form:"videoId"`
	Limit   int    `form:"limit"`
	Cursor  string `form:"cursor"`
}

type ListJobsResponse struct {
	Items      []domain.Job `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type StreamJobsRequest struct {
	Status  string `form:"status"`
	Kind    string `form:"kind"`
	VideoID string `form:"videoId"`
	Limit   int    `form:"limit"`
}

type JobSnapshotEvent struct {
	Items     []domain.Job `json:"items"`
	HighWater string       `json:"highWater"`
}
