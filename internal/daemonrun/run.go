// Package daemonrun is the process runtime behind "uploadai serve".
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

	"uploadai/internal/config"
	"uploadai/internal/daemon"
	"uploadai/internal/logging"
	"uploadai/internal/preflight"
)

// Options configures server process runtime behavior.
type Options struct {
	LogLevel string
	Version  string
	// Ready, when set, receives the listening address once serving.
	Ready func(addr string)
	// TestNotify sends an ntfy test push once the server is listening.
	TestNotify bool
}

// Run starts the control server and blocks until cmdCtx ends or the process
// receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	components, err := daemon.Build(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	d, err := daemon.New(cfg, components, logger, opts.Version)
	if err != nil {
		_ = components.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("server start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "server_start_failed"),
			logging.String(logging.FieldErrorHint, "check server.bind and whether another uploadai server holds "+cfg.LockPath()),
		)
		return err
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "uploadai.pid")
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("write pid file failed", logging.Error(err))
	}
	defer os.Remove(pidPath)

	status := d.Status()
	logger.Info("uploadai server ready",
		logging.String(logging.FieldEventType, "server_ready"),
		logging.String("address", status.Address),
		logging.String("lock_file", status.LockFilePath),
		logging.Bool("engine_loaded", status.EngineLoaded),
		logging.String("state", status.State),
	)
	if opts.TestNotify {
		sent, message, err := d.TestNotification(signalCtx)
		if err != nil {
			logger.Warn("test notification failed", logging.Error(err), logging.Alert("notification"))
		} else {
			logger.Info(message, logging.Bool("sent", sent))
		}
	}

	if opts.Ready != nil {
		opts.Ready(status.Address)
	}

	<-signalCtx.Done()
	logger.Info("uploadai server shutting down", logging.String(logging.FieldEventType, "server_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		key := "ffmpeg"
		if status.Name == "FFprobe" {
			key = "ffprobe"
		}
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.Bool(key+"_fetchable", status.Fetchable),
			logging.String(key+"_binary", status.Command),
		)
	}
	attrs = append(attrs, logging.Bool("api_configured", cfg.API.BaseURL != ""))
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
