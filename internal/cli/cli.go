// ============================================================================
// gopool CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface for running a pool, submitting
// one-off tasks against it, and inspecting its occupancy.
//
// Command Structure:
//   gopool                          # Root command
//   ├── run                         # Start a pool and block
//   │   └── --config, -c           # Specify config file
//   ├── submit                      # Submit one task
//   │   ├── --method
//   │   └── --param (repeatable)
//   ├── stats                       # Show pool occupancy
//   └── --version
//
// run Command:
//   1. Load config file
//   2. Construct a Pool (with metrics wired in if enabled)
//   3. Start the metrics HTTP server, if enabled
//   4. Listen for SIGINT/SIGTERM
//   5. Pool.Terminate(false) on signal
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/gopool/internal/config"
	"github.com/ChuLiYu/gopool/internal/metrics"
	"github.com/ChuLiYu/gopool/internal/methods"
	"github.com/ChuLiYu/gopool/internal/pool"
)

var (
	configFile string
	globalPool *pool.Pool
)

// BuildCLI assembles the gopool root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gopool",
		Short:   "gopool: an isolated-worker task offload pool",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatsCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pool and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool()
		},
	}
	return cmd
}

func runPool() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := cfg.PoolOptions()
	opts.Methods = methods.Table()
	opts.Log = slog.Default()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		opts.Metrics = collector
		go func() {
			slog.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server exited", "error", err)
			}
		}()
	}

	p, err := pool.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	globalPool = p

	slog.Info("pool started", "min_workers", opts.MinWorkers, "max_workers", opts.MaxWorkers, "kind", opts.WorkerKind)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("received shutdown signal, terminating pool gracefully (send another signal to force)")
	done := make(chan error, 1)
	go func() { done <- p.Terminate(false) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("pool termination error: %w", err)
		}
	case <-sigChan:
		slog.Warn("received second shutdown signal, forcing termination")
		if err := p.Terminate(true); err != nil {
			return fmt.Errorf("pool termination error: %w", err)
		}
	}
	slog.Info("pool terminated")
	return nil
}

func buildSubmitCommand() *cobra.Command {
	var method string
	var params []string
	var timeoutMs int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one task to the running pool and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitTask(method, params, timeoutMs)
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "registered method name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter value (repeatable, parsed as float if numeric)")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "task timeout in milliseconds (0 = none)")
	cmd.MarkFlagRequired("method")
	return cmd
}

func submitTask(method string, rawParams []string, timeoutMs int) error {
	if globalPool == nil {
		return fmt.Errorf("pool not running in this process (submit only works within an interactive 'gopool run' session)")
	}

	params := make([]any, 0, len(rawParams))
	for _, raw := range rawParams {
		params = append(params, parseParam(raw))
	}

	fut, err := globalPool.Exec(method, params, pool.ExecOptions{Timeout: time.Duration(timeoutMs) * time.Millisecond})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	result, err := fut.Get(context.Background())
	if err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("result: %v\n", result)
		return nil
	}
	fmt.Println(string(out))
	return nil
}

func parseParam(raw string) any {
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err == nil {
		return f
	}
	return raw
}

func buildStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStats()
		},
	}
	return cmd
}

func showStats() error {
	if globalPool == nil {
		fmt.Println("pool not running (run 'gopool run' to start one)")
		return nil
	}
	s := globalPool.Stats()
	fmt.Println("pool occupancy:")
	fmt.Printf("  total workers:  %d\n", s.TotalWorkers)
	fmt.Printf("  busy workers:   %d\n", s.BusyWorkers)
	fmt.Printf("  idle workers:   %d\n", s.IdleWorkers)
	fmt.Printf("  queued tasks:   %d\n", s.QueuedTasks)
	return nil
}
