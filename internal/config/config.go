// Package config loads server settings from environment variables, applying
// defaults and validating everything at startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Upload     UploadConfig
	Generation GenerationConfig
	Assets     AssetsConfig
	Storage    StorageConfig
	Redis      RedisConfig
	History    HistoryConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"` // 0 keeps SSE streams open
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the optional PostgreSQL connection used for run
// history. Without a URL history is kept in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// UploadConfig bounds data source uploads.
type UploadConfig struct {
	MaxFileSize   int64         `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
	MaxConcurrent int           `env:"UPLOAD_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"UPLOAD_TIMEOUT" default:"5m"`
}

// GenerationConfig holds batch generation defaults.
type GenerationConfig struct {
	PollInterval      time.Duration `env:"GENERATION_POLL_INTERVAL" default:"100ms"`
	DefaultFormat     string        `env:"GENERATION_DEFAULT_FORMAT" default:"png"`
	DefaultResolution int           `env:"GENERATION_DEFAULT_RESOLUTION" default:"150"`
	DefaultQuality    int           `env:"GENERATION_DEFAULT_QUALITY" default:"90"`
	MaxRecords        int           `env:"GENERATION_MAX_RECORDS" default:"10000"`
	RunRetention      time.Duration `env:"GENERATION_RUN_RETENTION" default:"10m"`
}

// AssetsConfig configures image resolution.
type AssetsConfig struct {
	HTTPTimeout   time.Duration `env:"ASSETS_HTTP_TIMEOUT" default:"15s"`
	// BaseDir enables file: and bare-path image references, confined to
	// this directory. Empty leaves local files unreadable.
	BaseDir       string        `env:"ASSETS_BASE_DIR"`
	CacheTTL      time.Duration `env:"ASSETS_CACHE_TTL" default:"10m"`
	MaxImageBytes int64         `env:"ASSETS_MAX_IMAGE_BYTES" default:"20971520"`
}

// StorageConfig selects where generated outputs go.
type StorageConfig struct {
	Backend        string        `env:"STORAGE_BACKEND" default:"memory"` // memory, file or s3
	Dir            string        `env:"STORAGE_DIR" default:"./output"`
	Retention      time.Duration `env:"STORAGE_RETENTION" default:"1h"`
	S3Bucket       string        `env:"S3_BUCKET"`
	S3Prefix       string        `env:"S3_PREFIX" default:"mailmerge"`
	S3Region       string        `env:"S3_REGION" envAlt:"AWS_REGION"`
	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3AccessKey    string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string        `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool          `env:"S3_USE_PATH_STYLE" default:"false"`
}

// RedisConfig configures progress publishing. Empty Addr disables it.
type RedisConfig struct {
	Addr        string        `env:"REDIS_ADDR"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB" default:"0"`
	Prefix      string        `env:"REDIS_PREFIX" default:"mailmerge"`
	ProgressTTL time.Duration `env:"REDIS_PROGRESS_TTL" default:"1h"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// HistoryConfig controls purging of stored run history.
type HistoryConfig struct {
	RetentionDays int           `env:"HISTORY_RETENTION_DAYS" default:"30"`
	CheckInterval time.Duration `env:"HISTORY_CHECK_INTERVAL" default:"24h"`
}

// RateLimitConfig holds per-IP rate limits in requests per minute.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
	UploadLimit       int  `env:"RATE_LIMIT_UPLOAD" default:"20"`
}

// SecurityConfig holds authentication and proxy settings.
type SecurityConfig struct {
	RequireAPIKey  bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys        []string `env:"API_KEYS"`
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
	EnableCSP      bool     `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
