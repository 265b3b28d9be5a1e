package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, 8, cfg.Snapshot.RecoveryConcurrency)
	assert.Equal(t, 1.0, cfg.Job.Resources.CPUs)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
store:
  backend: redis
  redis:
    addrs: ["r1:6379", "r2:6379"]
    db: 2
snapshot:
  interval: 5s
  compress: true
job:
  resources:
    cpus: 2
    mem_mb: 128
  retry:
    max_attempts: 3
    base_delay: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Store.Redis.Addrs)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 5*time.Second, cfg.Snapshot.Interval)
	assert.True(t, cfg.Snapshot.Compress)
	assert.Equal(t, 2.0, cfg.Job.Resources.CPUs)
	assert.Equal(t, 128.0, cfg.Job.Resources.MemMB)
	assert.Equal(t, 3, cfg.Job.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Job.Retry.BaseDelay)

	// 未出現在檔案中的欄位保留預設值
	assert.Equal(t, "data/journal", cfg.Journal.Dir)
	assert.Equal(t, 30*time.Second, cfg.Job.Retry.MaxDelay)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  backnd: file\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FALEIRO_STORE_BACKEND", "postgres")
	t.Setenv("FALEIRO_STORE_POSTGRES_DSN", "postgres://localhost/faleiro")
	t.Setenv("FALEIRO_SERVER_LISTEN", ":9000")
	t.Setenv("FALEIRO_JOB_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("FALEIRO_SNAPSHOT_INTERVAL", "2m")
	t.Setenv("FALEIRO_STORE_REDIS_ADDRS", "a:1,b:2")

	path := writeConfig(t, "server:\n  listen: \":8080\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/faleiro", cfg.Store.Postgres.DSN)
	assert.Equal(t, ":9000", cfg.Server.Listen, "environment wins over the file")
	assert.Equal(t, 7, cfg.Job.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Snapshot.Interval)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Store.Redis.Addrs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }},
		{"file without dir", func(c *Config) { c.Store.File.Dir = "" }},
		{"redis without addrs", func(c *Config) {
			c.Store.Backend = BackendRedis
			c.Store.Redis.Addrs = nil
		}},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }},
		{"s3 without endpoint", func(c *Config) { c.Store.Backend = BackendS3 }},
		{"missing journal dir", func(c *Config) { c.Journal.Dir = "" }},
		{"negative flush interval", func(c *Config) { c.Journal.FlushInterval = -time.Second }},
		{"negative snapshot interval", func(c *Config) { c.Snapshot.Interval = -time.Second }},
		{"negative split timeout", func(c *Config) { c.Job.SplitTimeout = -1 }},
		{"negative retry attempts", func(c *Config) { c.Job.Retry.MaxAttempts = -1 }},
		{"negative workers", func(c *Config) { c.Executor.Workers = -2 }},
		{"failure rate above one", func(c *Config) { c.Executor.FailureRate = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultFileMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
