package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/outreach/internal/auth"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/notify"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouteConfig struct {
	JWTSecret         string
	Bus               *notify.Bus
	HeartbeatInterval time.Duration
	StreamBuffer      int
	Metrics           http.Handler
	DB                Pinger
	Log               logger.Logger
}

// RegisterRoutes mounts health, metrics, the event stream and the /api/v1 routes.
func RegisterRoutes(r *gin.Engine, h *Handler, cfg RouteConfig) {
	r.GET("/health", healthHandler(cfg.DB))
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := r.Group("/api/v1")

	// EventSource cannot send headers, so the stream also accepts ?token=.
	v1.GET("/events",
		auth.Middleware(cfg.JWTSecret, true),
		notify.StreamHandler(cfg.Bus, cfg.Log, notify.StreamConfig{
			HeartbeatInterval: cfg.HeartbeatInterval,
			BufferSize:        cfg.StreamBuffer,
			UserID:            auth.UserID,
		}),
	)

	protected := v1.Group("", auth.Middleware(cfg.JWTSecret, false))
	protected.GET("/me", h.Me)

	protected.POST("/extractions", h.CreateExtraction)
	protected.GET("/extractions", h.ListExtractions)
	protected.GET("/extractions/:id/results", h.ExtractionResults)
	protected.GET("/results/recent", h.RecentResults)

	protected.POST("/templates", h.CreateTemplate)
	protected.GET("/templates", h.ListTemplates)
	protected.PUT("/templates/:id", h.UpdateTemplate)
	protected.DELETE("/templates/:id", h.DeleteTemplate)

	protected.POST("/campaigns", h.CreateCampaign)
	protected.GET("/campaigns", h.ListCampaigns)
	protected.GET("/campaigns/:id/queue", h.CampaignQueue)
	protected.POST("/campaigns/:id/start", h.StartCampaign)
	protected.POST("/campaigns/:id/pause", h.PauseCampaign)
}

func healthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	}
}
