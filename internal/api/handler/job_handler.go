package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/dto"
	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/domain"
	"github.com/cuongbtq/dubbing-be/internal/orchestrator"
	"github.com/cuongbtq/dubbing-be/internal/store"
	"github.com/cuongbtq/dubbing-be/internal/ytid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// Ingest handles POST /ingest
func (h *Handler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if !h.bindJSON(c, &req) {
		return
	}

	videoID, err := ytid.Extract(req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}

	jobID, err := h.jobs.Ingest(c.Request.Context(), Identity(c), videoID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Ingest requested",
		slog.String("video_id", videoID),
		slog.String("job_id", jobID),
	)
	c.JSON(http.StatusOK, dto.IngestResponse{OK: true, VideoID: videoID, JobID: jobID})
}

// Translate handles POST /translate
func (h *Handler) Translate(c *gin.Context) {
	var req dto.LangJobRequest
	if !h.bindJSON(c, &req) {
		return
	}
	jobID, err := h.jobs.RequestTranslate(c.Request.Context(), Identity(c), req.VideoID, req.Lang)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.JobCreatedResponse{OK: true, JobID: jobID})
}

// TTS handles POST /tts
func (h *Handler) TTS(c *gin.Context) {
	var req dto.LangJobRequest
	if !h.bindJSON(c, &req) {
		return
	}
	jobID, err := h.jobs.RequestTTS(c.Request.Context(), Identity(c), req.VideoID, req.Lang)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.JobCreatedResponse{OK: true, JobID: jobID})
}

// Publish handles POST /publish
func (h *Handler) Publish(c *gin.Context) {
	var req dto.PublishRequest
	if !h.bindJSON(c, &req) {
		return
	}
	jobID, err := h.jobs.RequestPublish(c.Request.Context(), Identity(c), req.VideoID, orchestrator.PublishRequest{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.JobCreatedResponse{OK: true, JobID: jobID})
}

func jobQuery(status, kind, videoID string, limit int) (store.JobQuery, error) {
	q := store.JobQuery{
		Status:  domain.JobStatus(status),
		Kind:    domain.JobKind(kind),
		VideoID: videoID,
		Limit:   pageSize(limit),
	}
	if status != "" && !q.Status.Valid() {
		return q, domain.InvalidInput("unknown job status %q", status)
	}
	return q, nil
}

// ListJobs handles GET /jobs
// Returns jobs newest first with cursor pagination
func (h *Handler) ListJobs(c *gin.Context) {
	if err := auth.Authorize(Identity(c), auth.RequireEditorOrAdmin); err != nil {
		h.fail(c, err)
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, domain.InvalidInput("invalid query: %v", err))
		return
	}
	q, err := jobQuery(req.Status, req.Kind, req.VideoID, req.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.fail(c, domain.InvalidInput("invalid cursor"))
		return
	}
	q.Cursor = cursor

	// one extra row tells whether another page exists
	limit := q.Limit
	q.Limit++
	jobs, err := h.store.ListJobs(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := dto.ListJobsResponse{Items: jobs}
	if len(jobs) > limit {
		resp.Items = jobs[:limit]
		last := resp.Items[limit-1]
		resp.NextCursor = EncodeJobCursor(&store.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /jobs/:job_id
func (h *Handler) GetJob(c *gin.Context) {
	if err := auth.Authorize(Identity(c), auth.RequireEditorOrAdmin); err != nil {
		h.fail(c, err)
		return
	}
	job, err := h.store.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// StreamJobs handles GET /jobs/stream
// Pushes a server-sent "jobs" event whenever the watched view changes
func (h *Handler) StreamJobs(c *gin.Context) {
	if err := auth.Authorize(Identity(c), auth.RequireEditorOrAdmin); err != nil {
		h.fail(c, err)
		return
	}

	var req dto.StreamJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, domain.InvalidInput("invalid query: %v", err))
		return
	}
	q, err := jobQuery(req.Status, req.Kind, req.VideoID, req.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for snap := range h.store.Subscribe(c.Request.Context(), q) {
		c.SSEvent("jobs", dto.JobSnapshotEvent{
			Items:     snap.Jobs,
			HighWater: snap.HighWater.Format("2006-01-02T15:04:05.000000Z07:00"),
		})
		c.Writer.Flush()
	}
}
