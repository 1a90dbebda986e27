// Package config loads repohub settings from defaults, an optional YAML file
// named by REPOHUB_CONFIG, and environment variables, in increasing order of
// precedence.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/spf13/viper"
)

// FileEnv names the environment variable holding the optional config file.
const FileEnv = "REPOHUB_CONFIG"

var configErrors = errx.NewRegistry("CONFIG")

var (
	ErrRead    = configErrors.Register("READ", errx.TypeInternal, http.StatusInternalServerError, "Failed to read configuration file")
	ErrDecode  = configErrors.Register("DECODE", errx.TypeInternal, http.StatusInternalServerError, "Failed to decode configuration")
	ErrInvalid = configErrors.Register("INVALID", errx.TypeValidation, http.StatusInternalServerError, "Invalid configuration")
)

// Config is the whole application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Jobx      JobxConfig      `mapstructure:"jobx"`
	Tables    TablesConfig    `mapstructure:"tables"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     string        `mapstructure:"cors_origins"`
	BodyLimit       int           `mapstructure:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// RateLimitConfig bounds job submissions per owner. PerSecond <= 0 disables
// the limit.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.cors_origins":     "CORS_ORIGINS",
	"server.body_limit":       "BODY_LIMIT",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",

	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",

	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.user":              "DB_USER",
	"database.password":          "DB_PASSWORD",
	"database.name":              "DB_NAME",
	"database.ssl_mode":          "DB_SSLMODE",
	"database.max_open_conns":    "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"storage.mode":       "STORAGE_MODE",
	"storage.upload_dir": "UPLOAD_DIR",
	"storage.aws_region": "AWS_REGION",
	"storage.aws_bucket": "AWS_BUCKET",
	"storage.prefix":     "STORAGE_PREFIX",

	"auth.jwt_secret":       "JWT_SECRET",
	"auth.jwt_issuer":       "JWT_ISSUER",
	"auth.access_token_ttl": "JWT_ACCESS_TOKEN_TTL",

	"rate_limit.per_second": "SUBMIT_RATE_PER_SECOND",
	"rate_limit.burst":      "SUBMIT_BURST",

	"jobx.store":                 "JOBX_STORE",
	"jobx.queue":                 "JOBX_QUEUE",
	"jobx.concurrency":           "JOBX_CONCURRENCY",
	"jobx.poll_interval":         "JOBX_POLL_INTERVAL",
	"jobx.dequeue_timeout":       "JOBX_QUEUE_TIMEOUT",
	"jobx.shutdown_timeout":      "JOBX_SHUTDOWN_TIMEOUT",
	"jobx.cancel_check_interval": "JOBX_CANCEL_CHECK_INTERVAL",
	"jobx.retry_after":           "JOBX_RETRY_AFTER",

	"tables.sink": "TABLES_SINK",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.body_limit", 10*1024*1024)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "repohub")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.mode", "local")
	v.SetDefault("storage.upload_dir", "./uploads")
	v.SetDefault("storage.aws_region", "us-east-1")
	v.SetDefault("storage.aws_bucket", "repohub-uploads")

	v.SetDefault("auth.jwt_issuer", "repohub")
	v.SetDefault("auth.access_token_ttl", "1h")

	v.SetDefault("rate_limit.per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	setJobxDefaults(v)
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		// BindEnv only fails when given no key.
		_ = v.BindEnv(key, env)
	}

	if file := os.Getenv(FileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, configErrors.NewWithCause(ErrRead, err).WithDetail("file", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configErrors.NewWithCause(ErrDecode, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Storage.Mode = strings.ToLower(strings.TrimSpace(c.Storage.Mode))
	c.Jobx.Store = strings.ToLower(strings.TrimSpace(c.Jobx.Store))
	c.Tables.Sink = strings.ToLower(strings.TrimSpace(c.Tables.Sink))
	c.Tables.normalize(c.Jobx.Store)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return configErrors.NewWithMessage(ErrInvalid, fmt.Sprintf(format, args...)).WithDetail("key", key)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format", "unknown log format %q", c.Logging.Format)
	}
	switch c.Storage.Mode {
	case StorageLocal, StorageS3:
	default:
		return invalid("storage.mode", "unknown storage mode %q (use 'local' or 's3')", c.Storage.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port", "port %d out of range", c.Server.Port)
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return invalid("auth.access_token_ttl", "access token ttl must be positive")
	}
	if err := c.Jobx.validate(invalid); err != nil {
		return err
	}
	return c.Tables.validate(invalid)
}
