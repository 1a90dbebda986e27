package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// JobxConfig configures the job store and the background workers.
type JobxConfig struct {
	Store               string        `mapstructure:"store"`
	Queue               string        `mapstructure:"queue"`
	Concurrency         int           `mapstructure:"concurrency"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	DequeueTimeout      time.Duration `mapstructure:"dequeue_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	CancelCheckInterval time.Duration `mapstructure:"cancel_check_interval"`
	RetryAfter          time.Duration `mapstructure:"retry_after"`
}

func setJobxDefaults(v *viper.Viper) {
	v.SetDefault("jobx.store", StoreMemory)
	v.SetDefault("jobx.queue", "default")
	v.SetDefault("jobx.concurrency", 4)
	v.SetDefault("jobx.poll_interval", "1s")
	v.SetDefault("jobx.dequeue_timeout", "5s")
	v.SetDefault("jobx.shutdown_timeout", "30s")
	v.SetDefault("jobx.cancel_check_interval", "1s")
	v.SetDefault("jobx.retry_after", "2s")
}

func (j JobxConfig) validate(invalid func(key, format string, args ...any) error) error {
	switch j.Store {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return invalid("jobx.store", "unknown job store %q (use 'memory', 'redis' or 'postgres')", j.Store)
	}
	if j.Queue == "" {
		return invalid("jobx.queue", "queue name is required")
	}
	if j.Concurrency < 1 {
		return invalid("jobx.concurrency", "concurrency must be at least 1, got %d", j.Concurrency)
	}
	if j.DequeueTimeout <= 0 {
		return invalid("jobx.dequeue_timeout", "dequeue timeout must be positive")
	}
	return nil
}
