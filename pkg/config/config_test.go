package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every bound variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	t.Setenv(FileEnv, "")
	os.Unsetenv(FileEnv)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, StorageLocal, cfg.Storage.Mode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 5.0, cfg.RateLimit.PerSecond)

	assert.Equal(t, JobxConfig{
		Store:               StoreMemory,
		Queue:               "default",
		Concurrency:         4,
		PollInterval:        time.Second,
		DequeueTimeout:      5 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		CancelCheckInterval: time.Second,
		RetryAfter:          2 * time.Second,
	}, cfg.Jobx)
	assert.Equal(t, SinkMemory, cfg.Tables.Sink)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("JOBX_STORE", "redis")
	t.Setenv("JOBX_CONCURRENCY", "16")
	t.Setenv("JOBX_QUEUE_TIMEOUT", "250ms")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SUBMIT_RATE_PER_SECOND", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, StoreRedis, cfg.Jobx.Store)
	assert.Equal(t, 16, cfg.Jobx.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobx.DequeueTimeout)
	assert.Equal(t, 0.5, cfg.RateLimit.PerSecond)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal port=5432")
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "repohub.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 7000
storage:
  mode: s3
  aws_bucket: tables
jobx:
  store: postgres
  concurrency: 2
`), 0o600))
	t.Setenv(FileEnv, file)
	t.Setenv("JOBX_CONCURRENCY", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, StorageS3, cfg.Storage.Mode)
	assert.Equal(t, "tables", cfg.Storage.AWSBucket)
	assert.Equal(t, StorePostgres, cfg.Jobx.Store)
	assert.Equal(t, 3, cfg.Jobx.Concurrency)
	assert.Equal(t, SinkPostgres, cfg.Tables.Sink)
}

func TestLoad_TableSink(t *testing.T) {
	tests := []struct {
		store, sink string
		want        string
	}{
		{"memory", "", SinkMemory},
		{"redis", "", SinkMemory},
		{"postgres", "", SinkPostgres},
		{"redis", "Postgres", SinkPostgres},
		{"postgres", "memory", SinkMemory},
	}
	for _, tt := range tests {
		t.Run(tt.store+"/"+tt.sink, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JOBX_STORE", tt.store)
			t.Setenv("TABLES_SINK", tt.sink)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Tables.Sink)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"unknown store", map[string]string{"JOBX_STORE": "mongo"}, "jobx.store"},
		{"unknown sink", map[string]string{"TABLES_SINK": "s3"}, "tables.sink"},
		{"zero concurrency", map[string]string{"JOBX_CONCURRENCY": "0"}, "jobx.concurrency"},
		{"unknown storage", map[string]string{"STORAGE_MODE": "ftp"}, "storage.mode"},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}, "logging.level"},
		{"bad port", map[string]string{"PORT": "70000"}, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, ErrInvalid.Is(err), "got %v", err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(FileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.True(t, ErrRead.Is(err))
	})
}
