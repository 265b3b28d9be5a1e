package cli

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/faleiro/internal/config"
	"github.com/ChuLiYu/faleiro/internal/executor"
	"github.com/ChuLiYu/faleiro/internal/framework"
	"github.com/ChuLiYu/faleiro/internal/journal"
	"github.com/ChuLiYu/faleiro/internal/store"
)

// openStore 依設定建立快照儲存後端
func openStore(ctx context.Context, cfg config.StoreConfig) (store.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return store.NewFileStore(cfg.File.Dir)
	case config.BackendRedis:
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
	case config.BackendS3:
		return store.NewS3Store(ctx, store.S3Options{
			Endpoint:        cfg.S3.Endpoint,
			Bucket:          cfg.S3.Bucket,
			AccessKey:       cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			Prefix:          cfg.S3.Prefix,
			UseSSL:          cfg.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func frameworkConfig(cfg *config.Config) framework.Config {
	res := cfg.Job.Resources
	return framework.Config{
		JournalDir: cfg.Journal.Dir,
		Journal: journal.Options{
			BufferSize:    cfg.Journal.BufferSize,
			FlushInterval: cfg.Journal.FlushInterval,
			SyncOnFlush:   cfg.Journal.Sync,
		},
		CheckpointInterval:  cfg.Snapshot.Interval,
		CheckpointJitter:    cfg.Snapshot.Jitter,
		RecoveryConcurrency: cfg.Snapshot.RecoveryConcurrency,
		CompressSnapshots:   cfg.Snapshot.Compress,
		Retry:               cfg.Job.Retry,
		SplitTimeout:        cfg.Job.SplitTimeout,
		Resources:           &res,
	}
}

func poolConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		Workers:      cfg.Executor.Workers,
		PollInterval: cfg.Executor.PollInterval,
	}
}
