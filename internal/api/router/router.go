package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/handler"
	"github.com/cuongbtq/dubbing-be/internal/auth"
)

// SetupRouter configures and returns the Gin router with all routes.
// Every route is served both at the root and under /api.
func SetupRouter(deps *handler.Dependencies, verifier Verifier) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(AuthMiddleware(verifier, deps.Logger))

	h := handler.New(deps)
	registerRoutes(r.Group(""), h, deps)
	registerRoutes(r.Group("/api"), h, deps)

	return r
}

func registerRoutes(g *gin.RouterGroup, h *handler.Handler, deps *handler.Dependencies) {
	g.GET("/health", h.Health)
	g.GET("/me", h.Me)

	// job creation; authorization happens in the orchestrator
	g.POST("/ingest", h.Ingest)
	g.POST("/translate", h.Translate)
	g.POST("/tts", h.TTS)
	g.POST("/publish", h.Publish)

	jobs := g.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.GET("/stream", h.StreamJobs)
		jobs.GET("/:job_id", h.GetJob)
	}

	videos := g.Group("/videos")
	{
		videos.GET("", h.ListVideos)
		videos.GET("/:video_id", h.GetVideo)
	}

	channels := g.Group("/channels")
	{
		channels.GET("", h.ListChannels)
		channels.POST("", h.CreateChannel)
	}

	admin := g.Group("/admin", RequireMiddleware(auth.RequireAdmin, deps.Logger))
	{
		admin.GET("/config", h.GetAppConfig)
		admin.PUT("/config", h.UpdateAppConfig)
		admin.POST("/config", h.UpdateAppConfig)
		admin.GET("/users/:uid/roles", h.GetUserRoles)
		admin.POST("/users/:uid/roles", h.SetUserRoles)
	}

	bridges := g.Group("/bridge", RequireMiddleware(auth.RequireAdmin, deps.Logger))
	{
		bridges.GET("/ping", h.Ping)
		bridges.GET("/voices", h.ListVoices)
		bridges.GET("/voices/:voice_id/status", h.VoiceStatus)
		bridges.POST("/voices/clone", h.CloneVoice)
		bridges.POST("/voices/map", h.MapVoice)
		bridges.POST("/tts/generate", h.GenerateSpeech)
	}
}
