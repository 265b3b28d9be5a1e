// ============================================================================
// Faleiro CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the scheduler, its executors and job control
//
// Command Structure:
//   faleiro                        # Root command
//   ├── run                        # Start the framework and gRPC scheduler
//   │   └── --local-executor       # Also run an in-process executor pool
//   ├── executor                   # Start a remote executor pool
//   ├── submit -f jobs.json        # Submit one job or a list of jobs
//   ├── status [job-id]            # Show one job or every job
//   ├── pause|resume|stop <job-id> # Job control
//   └── --config, -c               # Config file (all commands)
//
// Configuration:
//   configs/default.yaml, overridden by FALEIRO_* environment variables.
//   See internal/config.
//
// Signal Handling:
//   run and executor capture SIGINT and SIGTERM. run then stops the local
//   executor, the gRPC server and the metrics server, detaches every job,
//   writes a final checkpoint and closes the journal.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/faleiro/internal/config"
	"github.com/ChuLiYu/faleiro/internal/executor"
	"github.com/ChuLiYu/faleiro/internal/framework"
	"github.com/ChuLiYu/faleiro/internal/metrics"
	"github.com/ChuLiYu/faleiro/internal/transport"
	flog "github.com/ChuLiYu/faleiro/pkg/log"
)

// Version 版本資訊，建置時以 -ldflags 覆寫
var Version = "0.1.0"

const shutdownTimeout = 30 * time.Second

// rootOptions 所有子命令共用的旗標
type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// BuildCLI 建立根命令
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "faleiro",
		Short: "Faleiro: a partitioned optimization job framework",
		Long: `Faleiro splits optimization jobs into partitions, hands them to executors
as tasks and collects the best result. It offers:
- Crash recovery from snapshots plus a checksummed journal
- Pluggable snapshot stores (file, Redis, Postgres, S3)
- A gRPC scheduler for remote executors
- Prometheus metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildExecutorCommand(opts))
	rootCmd.AddCommand(buildSubmitCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildControlCommand(opts, transport.ActionPause, "Pause a job: no new tasks are emitted"))
	rootCmd.AddCommand(buildControlCommand(opts, transport.ActionResume, "Resume a paused job"))
	rootCmd.AddCommand(buildControlCommand(opts, transport.ActionStop, "Stop a job permanently"))

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var localExecutor bool
	var seed int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the framework and the gRPC scheduler",
		Long:  "Recover jobs from the snapshot store and journal, then serve executors and job control over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
			}

			var solver executor.Solver
			if localExecutor {
				solver = newSolver(cfg, seed)
			}
			return serve(ctx, cfg, lis, solver, logger)
		},
	}

	cmd.Flags().BoolVar(&localExecutor, "local-executor", false, "run an in-process executor pool with the simulated solver")
	cmd.Flags().Int64Var(&seed, "seed", 0, "simulated solver seed (0 = time based)")

	return cmd
}

// serve 執行 scheduler 直到 ctx 取消；solver 不為 nil 時同時啟動本機 executor
func serve(ctx context.Context, cfg *config.Config, lis net.Listener, solver executor.Solver, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		lis.Close()
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fw, err := framework.New(frameworkConfig(cfg), framework.Options{
		Logger:  logger,
		Store:   st,
		Metrics: metrics.NewCollector(reg),
		Clock:   clock.WallClock,
	})
	if err != nil {
		lis.Close()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		lis.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("Starting metrics server", zap.String("addr", cfg.Metrics.Listen))
			if err := metrics.StartServer(gctx, cfg.Metrics.Listen, reg); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	srv := transport.NewServer(fw, logger)
	g.Go(func() error {
		if err := srv.Serve(gctx, lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	var pool *executor.Pool
	if solver != nil {
		pool = executor.NewPool(poolConfig(cfg), fw, solver, logger, clock.WallClock)
		if err := pool.Start(gctx); err != nil {
			logger.Error("Failed to start local executor", zap.Error(err))
			pool = nil
		}
	}

	logger.Info("System started successfully",
		zap.String("listen", lis.Addr().String()),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("local_executor", pool != nil))

	<-gctx.Done()
	logger.Info("Received shutdown signal, stopping gracefully...")

	if pool != nil {
		pool.Stop()
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	stopErr := fw.Stop(stopCtx)
	waitErr := g.Wait()

	logger.Info("System stopped")
	return multierror.Append(waitErr, stopErr).ErrorOrNil()
}

// ============================================================================
// executor
// ============================================================================

func buildExecutorCommand(opts *rootOptions) *cobra.Command {
	var addr string
	var workers int
	var seed int64

	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Start a remote executor pool",
		Long:  "Poll a scheduler for tasks over gRPC and run them with the simulated solver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Executor.Workers = workers
			}
			if addr == "" {
				addr = cfg.Executor.Scheduler
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runExecutor(ctx, cfg, addr, newSolver(cfg, seed), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "scheduler address (default executor.scheduler)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of workers (default executor.workers)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "simulated solver seed (0 = time based)")

	return cmd
}

func runExecutor(ctx context.Context, cfg *config.Config, addr string, solver executor.Solver, logger *zap.Logger) error {
	client, err := dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	healthy, err := client.Healthy(checkCtx)
	cancel()
	if err != nil || !healthy {
		// 仍然啟動，fetchLoop 會持續重試
		logger.Warn("Scheduler is not serving yet", zap.String("addr", addr), zap.Error(err))
	}

	pool := executor.NewPool(poolConfig(cfg), client, solver, logger, clock.WallClock)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	logger.Info("Executor connected", zap.String("scheduler", addr), zap.String("node_id", client.NodeID()))

	<-ctx.Done()
	pool.Stop()
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := flog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return flog.InitLog(lvl, cfg.Log.Encoding)
}

func newSolver(cfg *config.Config, seed int64) *executor.SimulatedSolver {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return executor.NewSimulatedSolver(seed, cfg.Executor.FailureRate, cfg.Executor.MaxWork)
}

// Execute 執行根命令，供 main 使用
func Execute() int {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
