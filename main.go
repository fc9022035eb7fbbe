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
	"syscall"
	"time"

	"github.com/cqlcore/driver/internal/client"
	cqlconfig "github.com/cqlcore/driver/internal/config"
	"github.com/cqlcore/driver/internal/connection"
	"github.com/cqlcore/driver/internal/control"
	"github.com/cqlcore/driver/internal/logger"
	"github.com/cqlcore/driver/internal/version"
	"github.com/cqlcore/driver/pkg/format"
	"github.com/cqlcore/driver/pkg/nerdstats"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	cfg, err := cqlconfig.Load(func() {
		styledLogger.Info("Configuration changed; restart required for cluster-level settings")
	})
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to load configuration", "error", err)
	}

	cluster, err := client.Connect(ctx, cfg, &unimplementedQuerier{}, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to connect to cluster", "error", err)
	}

	styledLogger.InfoWithCount("Connected to cluster", len(cfg.Cluster.ContactPoints))

	<-ctx.Done()

	cluster.Shutdown()

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("cqldriver has shutdown")
}

// unimplementedQuerier is the placeholder control.MetadataQuerier wired
// in by this binary. The out-of-scope binary CQL type codec is what
// would decode system.local/system.peers rows and build REGISTER
// frames; embedders that bring their own codec supply a real
// implementation to client.Connect instead of this one.
type unimplementedQuerier struct{}

func (unimplementedQuerier) QueryLocal(ctx context.Context, conn *connection.Connection) (*control.LocalRow, error) {
	return nil, errors.New("cqldriver: no CQL type codec wired; supply a control.MetadataQuerier")
}

func (unimplementedQuerier) QueryPeers(ctx context.Context, conn *connection.Connection) ([]control.PeerRow, error) {
	return nil, errors.New("cqldriver: no CQL type codec wired; supply a control.MetadataQuerier")
}

func (unimplementedQuerier) Register(ctx context.Context, conn *connection.Connection) error {
	return errors.New("cqldriver: no CQL type codec wired; supply a control.MetadataQuerier")
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

func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      getEnvOrDefault("CQLDRIVER_LOG_LEVEL", "info"),
		FileOutput: getEnvBoolOrDefault("CQLDRIVER_FILE_OUTPUT", true),
		LogDir:     getEnvOrDefault("CQLDRIVER_LOG_DIR", "./logs"),
		MaxSize:    getEnvIntOrDefault("CQLDRIVER_LOG_MAX_SIZE", 100),
		MaxBackups: getEnvIntOrDefault("CQLDRIVER_LOG_MAX_BACKUPS", 5),
		MaxAge:     getEnvIntOrDefault("CQLDRIVER_LOG_MAX_AGE", 30),
		Theme:      getEnvOrDefault("CQLDRIVER_THEME", "default"),
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
