package bootstrap

import (
	"flag"
	"fmt"

	"github.com/jonesrussell/north-cloud/outreach/internal/config"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

// LoadConfig loads configuration. Uses -config flag with CONFIG_PATH fallback.
func LoadConfig() (*config.Config, error) {
	configPath := flag.String("config", config.GetConfigPath("config.yml"), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// CreateLogger creates a logger tagged with the service name and version.
func CreateLogger(cfg *config.Config, version string) (logger.Logger, error) {
	logCfg := cfg.Logging
	if cfg.Debug {
		logCfg.Development = true
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		logger.String("service", "outreach"),
		logger.String("version", version),
	), nil
}
