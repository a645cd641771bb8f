package config

import (
	"fmt"
	"time"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/pkg/graph"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "ONEAPP"

const chunkSizeStep = 5 // MiB; chunk sizes must be a multiple of this

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig     `yaml:"server" json:"server"`
	Database database.Config  `yaml:"database" json:"database"`
	Auth     graph.AuthConfig `yaml:"auth" json:"auth"`
	Admin    AdminConfig      `yaml:"admin" json:"admin"`
	Logging  LoggingConfig    `yaml:"logging" json:"logging"`
	Sync     SyncConfig       `yaml:"sync" json:"sync"`
	Upload   UploadConfig     `yaml:"upload" json:"upload"`
	Drives   DrivesConfig     `yaml:"drives" json:"drives"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"SERVER_ADDR" default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"120s"`
}

// AdminConfig guards the mutating API.
type AdminConfig struct {
	Password string        `yaml:"password" env:"ADMIN_PASSWORD"`
	JWTKey   string        `yaml:"jwt_key" env:"ADMIN_JWT_KEY"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"ADMIN_TOKEN_TTL" default:"12h"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"json"`
}

// SyncConfig configures the delta sync engine.
type SyncConfig struct {
	// CronSpec schedules the automatic catalog refresh of every drive.
	CronSpec string `yaml:"cron_spec" env:"SYNC_CRON_SPEC" default:"0 0 * * *"`
	// RequestRetries is the attempt count for provider metadata calls.
	RequestRetries int `yaml:"request_retries" env:"SYNC_REQUEST_RETRIES" default:"3"`
}

// UploadConfig configures the upload engine.
type UploadConfig struct {
	// ChunkMiB is the chunk size in MiB, a multiple of 5 between 5 and 60.
	ChunkMiB int `yaml:"chunk_mib" env:"UPLOAD_CHUNK_MIB" default:"10"`
	// MaxConcurrent bounds simultaneously running upload workers.
	MaxConcurrent int `yaml:"max_concurrent" env:"UPLOAD_MAX_CONCURRENT" default:"3"`
	// RetryDelay is the pause before re-probing a failed chunk.
	RetryDelay time.Duration `yaml:"retry_delay" env:"UPLOAD_RETRY_DELAY" default:"5s"`
}

// DrivesConfig configures drive credential upkeep.
type DrivesConfig struct {
	// TokenRefreshInterval is how often the safety-net refresher runs.
	// Refresh tokens expire when unused, so this stays well below the
	// provider's inactivity window.
	TokenRefreshInterval time.Duration `yaml:"token_refresh_interval" env:"DRIVES_TOKEN_REFRESH_INTERVAL" default:"288h"`
}

// ChunkSize returns the configured chunk size in bytes.
func (u UploadConfig) ChunkSize() int64 {
	return int64(u.ChunkMiB) * 1024 * 1024
}

// Load reads, defaults, and validates the configuration at configPath. An
// empty path loads defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	loader := NewLoader(EnvPrefix)
	if err := loader.Load(configPath, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every bounded setting.
func (c *Config) Validate() error {
	if c.Upload.ChunkMiB < 5 || c.Upload.ChunkMiB > 60 {
		return fmt.Errorf("upload.chunk_mib must be between 5 and 60, got %d", c.Upload.ChunkMiB)
	}
	if c.Upload.ChunkMiB%chunkSizeStep != 0 {
		return fmt.Errorf("upload.chunk_mib must be a multiple of %d, got %d", chunkSizeStep, c.Upload.ChunkMiB)
	}
	if c.Upload.MaxConcurrent < 1 || c.Upload.MaxConcurrent > 50 {
		return fmt.Errorf("upload.max_concurrent must be between 1 and 50, got %d", c.Upload.MaxConcurrent)
	}
	if c.Upload.RetryDelay <= 0 {
		return fmt.Errorf("upload.retry_delay must be positive, got %s", c.Upload.RetryDelay)
	}
	if c.Sync.RequestRetries < 1 {
		return fmt.Errorf("sync.request_retries must be at least 1, got %d", c.Sync.RequestRetries)
	}
	if c.Drives.TokenRefreshInterval <= 0 {
		return fmt.Errorf("drives.token_refresh_interval must be positive, got %s", c.Drives.TokenRefreshInterval)
	}
	if c.Admin.TokenTTL <= 0 {
		return fmt.Errorf("admin.token_ttl must be positive, got %s", c.Admin.TokenTTL)
	}
	return nil
}
