package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/logger"
	"github.com/harvestnet/harvestor/internal/orchestrator"
	"github.com/harvestnet/harvestor/internal/version"
	"github.com/harvestnet/harvestor/pkg/container"
	"github.com/harvestnet/harvestor/pkg/format"
	"github.com/harvestnet/harvestor/pkg/nerdstats"
	"github.com/harvestnet/harvestor/pkg/profiler"
)

// Exit codes: 0 clean, 1 fatal startup failure, 2 fatal mid-run failure,
// 130 on signal.
const (
	exitClean   = 0
	exitStartup = 1
	exitMidRun  = 2
	exitSignal  = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		return exitClean
	}
	version.PrintVersionInfo(false, vlog)

	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		return exitStartup
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising",
		"version", version.Version,
		"pid", os.Getpid(),
		"containerised", container.IsContainerised())

	cfg, err := config.Load(nil)
	if err != nil {
		styledLogger.Error("Failed to load configuration", "error", err)
		return exitStartup
	}

	if cfg.Engineering.EnableProfiler {
		profiler.InitialiseProfiler()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var signalled atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		signalled.Store(true)
		cancel()
	}()

	orch, err := orchestrator.Build(ctx, cfg, styledLogger)
	if err != nil {
		styledLogger.Error("Failed to build harvest pipeline", "error", err)
		return exitStartup
	}

	runErr := orch.Run(ctx)

	if cfg.Engineering.ShowNerdStats {
		reportProcessStats(styledLogger, startTime)
	}
	styledLogger.Info("Harvestor has shutdown")

	switch {
	case signalled.Load() || errors.Is(runErr, context.Canceled):
		return exitSignal
	case runErr == nil:
		return exitClean
	default:
		var startup *orchestrator.StartupError
		if errors.As(runErr, &startup) {
			styledLogger.Error("Startup failed", "error", runErr)
			return exitStartup
		}
		styledLogger.Error("Harvest terminated", "error", runErr)
		return exitMidRun
	}
}

func reportProcessStats(logger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	logger.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	logger.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}

// buildLoggerConfig reads logging settings from environment variables so
// the logger can come up before the config file has been parsed.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      envOr("HARVESTOR_LOG_LEVEL", "info"),
		FileOutput: envBoolOr("HARVESTOR_FILE_OUTPUT", true),
		LogDir:     envOr("HARVESTOR_LOG_DIR", "./logs"),
		MaxSize:    envIntOr("HARVESTOR_LOG_MAX_SIZE", 100),
		MaxBackups: envIntOr("HARVESTOR_LOG_MAX_BACKUPS", 5),
		MaxAge:     envIntOr("HARVESTOR_LOG_MAX_AGE", 30),
		Theme:      envOr("HARVESTOR_THEME", "default"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
