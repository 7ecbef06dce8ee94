// Package daemonrun hosts the foreground daemon process: logging setup,
// preflight report, daemon lifecycle and signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"dvetransfer/internal/config"
	"dvetransfer/internal/daemon"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Services overrides the configured remote services, mainly for tests.
	Services daemon.Services
	// Ready, when set, receives the daemon once it has started.
	Ready func(*daemon.Daemon)
}

// Run starts the daemon and blocks until cmdCtx is cancelled or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	results := preflight.RunAll(signalCtx, cfg)
	preflight.LogResults(logger, results)
	logConfigSnapshot(logger, cfg, preflight.Passed(results))

	pidPath := filepath.Join(cfg.Paths.StateDir, "dvetransfer.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, opts.Services)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file and the api_bind address"),
		)
		return err
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("dvetransfer daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, preflightPassed bool) {
	if logger == nil || cfg == nil {
		return
	}
	catalog := cfg.Catalog.URL
	if cfg.UsesEmbeddedCatalog() {
		catalog = cfg.CatalogDatabasePath()
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("catalog", catalog),
		logging.String("archive_url", cfg.Archive.URL),
		logging.String("batch_root", cfg.Archive.BatchRoot),
		logging.String("resolver_url", cfg.Resolver.URL),
		logging.Bool("resolver_credentials_present", cfg.Resolver.Username != ""),
		logging.String("nbn_source", cfg.Order.NbnSource),
		logging.Int("batch_max_items", cfg.Batch.MaxItems),
		logging.Int64("batch_max_bytes", cfg.Batch.MaxBytes),
		logging.Int64("layer_threshold_bytes", cfg.Archive.LayerThresholdBytes),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.Bool("preflight_passed", preflightPassed),
	)
}
