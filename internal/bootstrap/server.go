package bootstrap

import (
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/outreach/internal/api"
	"github.com/jonesrussell/north-cloud/outreach/internal/config"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/server"
)

// SetupHTTPServer creates the HTTP server with every route mounted.
func SetupHTTPServer(cfg *config.Config, svc *Services, log logger.Logger) *server.Server {
	handler := api.NewHandler(svc.Repo, svc.Quotas, svc.Launcher, log)

	return server.New(cfg.Server, cfg.Debug, log, func(r *gin.Engine) {
		api.RegisterRoutes(r, handler, api.RouteConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Bus:       svc.Bus,
			Metrics:   svc.Telemetry.Handler(),
			DB:        svc.Repo,
			Log:       log,
		})
	})
}
