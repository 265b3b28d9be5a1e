// ============================================================================
// Faleiro Config - 設定載入
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: 讀取 YAML 設定檔，再以 FALEIRO_ 開頭的環境變數覆寫
//
// 優先順序（後者覆寫前者）:
//   1. Default()
//   2. YAML 設定檔（--config）
//   3. 環境變數，例如 FALEIRO_STORE_BACKEND=redis、FALEIRO_JOB_RETRY_MAX_ATTEMPTS=5
//
// ============================================================================

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/faleiro/internal/job"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "FALEIRO"

// 支援的儲存後端
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Config 完整設定
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Journal  JournalConfig  `yaml:"journal" envconfig:"JOURNAL"`
	Snapshot SnapshotConfig `yaml:"snapshot" envconfig:"SNAPSHOT"`
	Job      JobConfig      `yaml:"job" envconfig:"JOB"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
	Executor ExecutorConfig `yaml:"executor" envconfig:"EXECUTOR"`
}

// ServerConfig gRPC 服務
type ServerConfig struct {
	Listen string `yaml:"listen" envconfig:"LISTEN"`
}

// StoreConfig 快照儲存後端
type StoreConfig struct {
	Backend  string         `yaml:"backend" envconfig:"BACKEND"`
	File     FileConfig     `yaml:"file" envconfig:"FILE"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	Postgres PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
	S3       S3Config       `yaml:"s3" envconfig:"S3"`
}

type FileConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs" envconfig:"ADDRS"`
	Password string   `yaml:"password" envconfig:"PASSWORD"`
	DB       int      `yaml:"db" envconfig:"DB"`
	Prefix   string   `yaml:"prefix" envconfig:"PREFIX"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn" envconfig:"DSN"`
	Table string `yaml:"table" envconfig:"TABLE"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Prefix    string `yaml:"prefix" envconfig:"PREFIX"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// JournalConfig 進度 journal
type JournalConfig struct {
	Dir           string        `yaml:"dir" envconfig:"DIR"`
	BufferSize    int           `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
	Sync          bool          `yaml:"sync" envconfig:"SYNC"`
}

// SnapshotConfig checkpoint 與恢復
type SnapshotConfig struct {
	Interval            time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	Jitter              time.Duration `yaml:"jitter" envconfig:"JITTER"`
	Compress            bool          `yaml:"compress" envconfig:"COMPRESS"`
	RecoveryConcurrency int           `yaml:"recovery_concurrency" envconfig:"RECOVERY_CONCURRENCY"`
}

// JobConfig 套用到每個任務的預設值
type JobConfig struct {
	Resources    types.Resources `yaml:"resources" envconfig:"RESOURCES"`
	SplitTimeout time.Duration   `yaml:"split_timeout" envconfig:"SPLIT_TIMEOUT"`
	Retry        job.RetryPolicy `yaml:"retry" envconfig:"RETRY"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Listen  string `yaml:"listen" envconfig:"LISTEN"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Encoding string `yaml:"encoding" envconfig:"ENCODING"`
}

// ExecutorConfig 本機或遠端 executor
type ExecutorConfig struct {
	Workers      int           `yaml:"workers" envconfig:"WORKERS"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	Scheduler    string        `yaml:"scheduler" envconfig:"SCHEDULER"` // 遠端 executor 連線的位址
	FailureRate  float64       `yaml:"failure_rate" envconfig:"FAILURE_RATE"`
	MaxWork      time.Duration `yaml:"max_work" envconfig:"MAX_WORK"`
}

// Default 預設設定：本機檔案儲存、每 30 秒 checkpoint
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":7070"},
		Store: StoreConfig{
			Backend:  BackendFile,
			File:     FileConfig{Dir: "data/snapshots"},
			Redis:    RedisConfig{Addrs: []string{"localhost:6379"}, Prefix: "faleiro:"},
			Postgres: PostgresConfig{Table: "faleiro_snapshots"},
			S3:       S3Config{Bucket: "faleiro", Prefix: "snapshots/"},
		},
		Journal: JournalConfig{
			Dir:           "data/journal",
			BufferSize:    16,
			FlushInterval: 100 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Interval:            30 * time.Second,
			Jitter:              time.Second,
			RecoveryConcurrency: 8,
		},
		Job: JobConfig{
			Resources:    types.DefaultResources(),
			SplitTimeout: 5 * time.Minute,
			Retry: job.RetryPolicy{
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  30 * time.Second,
				Jitter:    100 * time.Millisecond,
			},
		},
		Metrics:  MetricsConfig{Enabled: true, Listen: ":9090"},
		Log:      LogConfig{Level: "info", Encoding: "console"},
		Executor: ExecutorConfig{
			Workers:      4,
			PollInterval: 200 * time.Millisecond,
			Scheduler:    "localhost:7070",
			MaxWork:      50 * time.Millisecond,
		},
	}
}

// Load 讀取設定檔（path 為空時只用預設值）並套用環境變數
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查設定值
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.File.Dir == "" {
			return errors.New("store.file.dir is required")
		}
	case BackendRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			return errors.New("store.redis.addrs is required")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	case BackendS3:
		if c.Store.S3.Endpoint == "" || c.Store.S3.Bucket == "" {
			return errors.New("store.s3.endpoint and store.s3.bucket are required")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Journal.Dir == "" {
		return errors.New("journal.dir is required")
	}
	if c.Journal.BufferSize < 0 || c.Journal.FlushInterval < 0 {
		return errors.New("journal buffer_size and flush_interval must not be negative")
	}
	if c.Snapshot.Interval < 0 || c.Snapshot.Jitter < 0 {
		return errors.New("snapshot interval and jitter must not be negative")
	}
	if c.Job.SplitTimeout < 0 {
		return errors.New("job.split_timeout must not be negative")
	}
	if err := c.Job.Retry.Validate(); err != nil {
		return fmt.Errorf("job.retry: %w", err)
	}
	if c.Executor.Workers < 0 {
		return errors.New("executor.workers must not be negative")
	}
	if c.Executor.FailureRate < 0 || c.Executor.FailureRate > 1 {
		return fmt.Errorf("executor.failure_rate must be within [0, 1], got %v", c.Executor.FailureRate)
	}
	return nil
}
