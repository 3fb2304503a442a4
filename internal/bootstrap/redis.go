package bootstrap

import (
	"github.com/jonesrussell/north-cloud/outreach/internal/config"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// SetupEventPublisher creates the lifecycle event publisher when Redis is enabled.
// Returns a nil publisher if Redis is disabled or unavailable; the returned
// close func is always safe to call.
func SetupEventPublisher(cfg *config.Config, log logger.Logger) (*events.Publisher, func()) {
	noop := func() {}
	if !cfg.Redis.Enabled {
		return nil, noop
	}

	client, err := events.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("Redis not available, lifecycle events disabled", logger.Error(err))
		return nil, noop
	}

	log.Info("Event publisher initialized", logger.String("redis_address", cfg.Redis.Address))
	return events.NewPublisher(client, log), func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Warn("Failed to close redis client", logger.Error(closeErr))
		}
	}
}
