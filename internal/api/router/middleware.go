package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/handler"
	"github.com/cuongbtq/dubbing-be/internal/auth"
)

// Verifier resolves bearer tokens
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
}

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		}
		if id := handler.Identity(c); id != nil {
			attrs = append(attrs, slog.String("uid", id.UID))
		}
		logger.Info("HTTP Request", attrs...)

		for _, e := range c.Errors {
			logger.Error("Request error",
				slog.String("error", e.Error()),
				slog.Uint64("type", uint64(e.Type)),
			)
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware attaches the caller identity. Requests without a bearer token
// proceed anonymously; a token that fails verification is rejected.
func AuthMiddleware(verifier Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			handler.WriteError(c, logger, err)
			return
		}
		handler.SetIdentity(c, id)
		c.Next()
	}
}

// RequireMiddleware rejects callers that do not satisfy req
func RequireMiddleware(req auth.Requirement, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(handler.Identity(c), req); err != nil {
			handler.WriteError(c, logger, err)
			return
		}
		c.Next()
	}
}
