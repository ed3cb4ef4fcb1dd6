package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"uploadai/internal/config"
	"uploadai/internal/logging"
	"uploadai/internal/server"
)

// Daemon serves one session over HTTP and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	components *Components
	api        *server.Server
	version    string

	lockPath string
	lock     *flock.Flock

	mu            sync.Mutex
	listener      net.Listener
	httpServer    *http.Server
	stopAdvertise func()
	running       atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	LockFilePath string
	EngineLoaded bool
	State        string
}

// New constructs a daemon around already built components.
func New(cfg *config.Config, components *Components, logger *slog.Logger, version string) (*Daemon, error) {
	if cfg == nil || components == nil {
		return nil, errors.New("daemon requires config and components")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	api, err := server.New(server.Deps{
		Session:        components.Session,
		History:        components.History,
		Engine:         components.Engine,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) * 1024 * 1024,
	}, logger)
	if err != nil {
		return nil, err
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		components: components,
		api:        api,
		version:    version,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the lock and begins serving on the configured bind address.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another uploadai server is already running")
	}

	listener, err := net.Listen("tcp", d.cfg.Server.Bind)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("listen on %s: %w", d.cfg.Server.Bind, err)
	}
	d.listener = listener
	d.httpServer = &http.Server{
		Handler:           d.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("control server failed",
				logging.String(logging.FieldEventType, "server_failed"),
				logging.Error(err),
			)
		}
	}(d.httpServer)

	if d.cfg.Server.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		stop, err := server.Advertise(port, d.version, d.logger)
		if err != nil {
			d.logger.Warn("mdns advertisement failed",
				logging.String(logging.FieldEventType, "mdns_failed"),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "disable server.advertise or allow multicast on this host"),
			)
		} else {
			d.stopAdvertise = stop
		}
	}

	d.running.Store(true)
	d.logger.Info("uploadai server started",
		logging.String(logging.FieldEventType, "server_started"),
		logging.String("address", listener.Addr().String()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Addr returns the listening address, or "" when stopped.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Stop cancels runs, shuts the HTTP server down and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.stopAdvertise != nil {
		d.stopAdvertise()
		d.stopAdvertise = nil
	}
	d.api.Close()
	d.components.Session.Close()
	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			_ = d.httpServer.Close()
		}
		cancel()
		d.httpServer = nil
	}
	d.listener = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release server lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("uploadai server stopped", logging.String(logging.FieldEventType, "server_stopped"))
}

// Close stops the daemon and releases the components.
func (d *Daemon) Close() error {
	d.Stop()
	return d.components.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Address:      d.Addr(),
		LockFilePath: d.lockPath,
		EngineLoaded: d.components.Engine.Loaded(),
		State:        string(d.components.Session.Snapshot().State),
	}
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.components.Notifications.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
