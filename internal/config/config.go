package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

const (
	defaultServerPort      = 8070
	defaultServerTimeout   = 30 * time.Second
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultRedisAddress    = "localhost:6379"

	defaultExtractionConcurrency = 4
	defaultFetchTimeout          = 10 * time.Second
	defaultMaxBodyBytes          = 5 * 1024 * 1024
	defaultProgressInterval      = 5
	defaultUserAgent             = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	defaultConservativeInterval = 8 * time.Second
	defaultModerateInterval     = 3500 * time.Millisecond
	defaultAggressiveInterval   = 2 * time.Second

	defaultDeliveryTimeout         = 15 * time.Second
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 60 * time.Second
	defaultDispatchWorkers         = 8
	defaultDispatchQueueSize       = 64
	defaultPromotionSpec           = "@every 1m"
	defaultQuotaSweepSpec          = "0 0 * * *"
	defaultDailyExtractQuota       = 150
	defaultDailyDMQuota            = 10
)

// Config is the root configuration for the outreach service.
type Config struct {
	Debug      bool             `env:"APP_DEBUG" yaml:"debug"`
	Logging    logger.Config    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Redis      RedisConfig      `yaml:"redis"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Quota      QuotaConfig      `yaml:"quota"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST"  yaml:"host"`
	Port            int           `env:"SERVER_PORT"  yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string        `env:"DB_HOST"     yaml:"host"`
	Port            int           `env:"DB_PORT"     yaml:"port"`
	User            string        `env:"DB_USER"     yaml:"user"`
	Password        string        `env:"DB_PASSWORD" yaml:"password"`
	DBName          string        `env:"DB_NAME"     yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"  yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns a lib/pq key-value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns a postgres:// URL, the form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"`
}

// RedisConfig configures the optional lifecycle event stream.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"        yaml:"address"`
	Password string `env:"REDIS_PASSWORD"       yaml:"password"`
	DB       int    `env:"REDIS_DB"             yaml:"db"`
	Enabled  bool   `env:"REDIS_EVENTS_ENABLED" yaml:"enabled"`
}

type ExtractionConfig struct {
	Concurrency      int           `env:"EXTRACTION_CONCURRENCY"  yaml:"concurrency"`
	FetchTimeout     time.Duration `env:"EXTRACTION_FETCH_TIMEOUT" yaml:"fetch_timeout"`
	UserAgent        string        `yaml:"user_agent"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	ProgressInterval int           `yaml:"progress_interval"`
}

// CampaignConfig maps each send rate to the minimum spacing between sends.
type CampaignConfig struct {
	ConservativeInterval time.Duration `yaml:"conservative_interval"`
	ModerateInterval     time.Duration `yaml:"moderate_interval"`
	AggressiveInterval   time.Duration `yaml:"aggressive_interval"`
}

type DeliveryConfig struct {
	GatewayURL       string        `env:"DELIVERY_GATEWAY_URL"   yaml:"gateway_url"`
	Token            string        `env:"DELIVERY_GATEWAY_TOKEN" yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type DispatchConfig struct {
	Workers   int `env:"DISPATCH_WORKERS" yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type SchedulerConfig struct {
	Enabled        bool   `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	PromotionSpec  string `yaml:"promotion_spec"`
	QuotaSweepSpec string `yaml:"quota_sweep_spec"`
}

// QuotaConfig holds the plan defaults applied to newly created users.
type QuotaConfig struct {
	DailyExtractQuota int `yaml:"daily_extract_quota"`
	DailyDMQuota      int `yaml:"daily_dm_quota"`
}

// Validate reports the first missing required field.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port is required and must be positive")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Delivery.GatewayURL == "" {
		return errors.New("delivery.gateway_url is required")
	}
	if c.Extraction.Concurrency <= 0 {
		return errors.New("extraction.concurrency must be positive")
	}
	return nil
}

// Load reads, defaults and validates the service configuration.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path, SetDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}

	return cfg, nil
}

// SetDefaults fills every unset field with its default.
func SetDefaults(cfg *Config) {
	setServerDefaults(&cfg.Server)
	setDatabaseDefaults(&cfg.Database)
	setEngineDefaults(cfg)

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.Scheduler.PromotionSpec == "" {
		cfg.Scheduler.PromotionSpec = defaultPromotionSpec
	}
	if cfg.Scheduler.QuotaSweepSpec == "" {
		cfg.Scheduler.QuotaSweepSpec = defaultQuotaSweepSpec
	}
	if cfg.Quota.DailyExtractQuota == 0 {
		cfg.Quota.DailyExtractQuota = defaultDailyExtractQuota
	}
	if cfg.Quota.DailyDMQuota == 0 {
		cfg.Quota.DailyDMQuota = defaultDailyDMQuota
	}
}

func setServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = defaultServerPort
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaultServerTimeout
	}
	// Zero write timeout keeps the SSE stream open; only set it when asked.
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = defaultServerTimeout
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"http://localhost:3000"}
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Port == 0 {
		d.Port = defaultDatabasePort
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = defaultMaxOpenConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultMaxIdleConns
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

func setEngineDefaults(cfg *Config) {
	e := &cfg.Extraction
	if e.Concurrency == 0 {
		e.Concurrency = defaultExtractionConcurrency
	}
	if e.FetchTimeout == 0 {
		e.FetchTimeout = defaultFetchTimeout
	}
	if e.UserAgent == "" {
		e.UserAgent = defaultUserAgent
	}
	if e.MaxBodyBytes == 0 {
		e.MaxBodyBytes = defaultMaxBodyBytes
	}
	if e.ProgressInterval == 0 {
		e.ProgressInterval = defaultProgressInterval
	}

	c := &cfg.Campaign
	if c.ConservativeInterval == 0 {
		c.ConservativeInterval = defaultConservativeInterval
	}
	if c.ModerateInterval == 0 {
		c.ModerateInterval = defaultModerateInterval
	}
	if c.AggressiveInterval == 0 {
		c.AggressiveInterval = defaultAggressiveInterval
	}

	d := &cfg.Delivery
	if d.Timeout == 0 {
		d.Timeout = defaultDeliveryTimeout
	}
	if d.FailureThreshold == 0 {
		d.FailureThreshold = defaultBreakerFailureThreshold
	}
	if d.OpenTimeout == 0 {
		d.OpenTimeout = defaultBreakerOpenTimeout
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = defaultDispatchQueueSize
	}
}
