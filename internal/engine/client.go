package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"uploadai/internal/config"
	"uploadai/internal/logging"
	"uploadai/internal/services"
)

const verifyTimeout = 30 * time.Second

// Options configures engine resolution and storage.
type Options struct {
	FFmpeg       Resource
	FFprobe      Resource
	WorkspaceDir string
	CacheDir     string
	FetchTimeout time.Duration
}

// OptionsFromConfig maps the engine and paths sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		FFmpeg:       Resource{Name: "ffmpeg", Configured: cfg.Engine.FFmpegPath, URL: cfg.Engine.CoreURL},
		FFprobe:      Resource{Name: "ffprobe", Configured: cfg.Engine.FFprobePath, URL: cfg.Engine.ProbeURL},
		WorkspaceDir: cfg.Paths.WorkspaceDir,
		CacheDir:     cfg.Paths.CacheDir,
		FetchTimeout: cfg.FetchTimeout(),
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithRunner overrides the process runner.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithHTTPClient overrides the client used to download resources.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLookPath overrides PATH lookup.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// Client owns the process-wide engine instance. Acquire loads it lazily;
// concurrent first callers share one load.
type Client struct {
	opts       Options
	logger     *slog.Logger
	runner     Runner
	httpClient *http.Client
	lookPath   func(string) (string, error)

	group singleflight.Group

	mu       sync.Mutex
	instance *Instance
	closed   bool
}

// NewClient constructs a client. Nothing is resolved until Acquire.
func NewClient(opts Options, logger *slog.Logger, options ...Option) *Client {
	if opts.FFmpeg.Name == "" {
		opts.FFmpeg.Name = "ffmpeg"
	}
	if opts.FFprobe.Name == "" {
		opts.FFprobe.Name = "ffprobe"
	}
	c := &Client{
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "engine"),
		runner:     ExecRunner{},
		httpClient: &http.Client{},
		lookPath:   exec.LookPath,
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Loaded reports whether an instance is ready without triggering a load.
func (c *Client) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance != nil
}

// Acquire returns the engine instance, loading it on first use. A caller
// whose ctx ends stops waiting; the shared load keeps going for the others.
// Failed loads are not cached.
func (c *Client) Acquire(ctx context.Context) (*Instance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, services.Wrap(services.ErrEngineLoad, "engine", "acquire", "engine client closed", nil)
	}
	if inst := c.instance; inst != nil {
		c.mu.Unlock()
		return inst, nil
	}
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("engine", func() (any, error) {
		return c.load(loadCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrCancelled, "engine", "acquire", "", ctx.Err())
	}
}

func (c *Client) load(ctx context.Context) (*Instance, error) {
	c.mu.Lock()
	if inst := c.instance; inst != nil {
		c.mu.Unlock()
		return inst, nil
	}
	c.mu.Unlock()

	started := time.Now()
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("engine load started", logging.String(logging.FieldEventType, "engine_load_start"))

	inst, err := c.build(ctx)
	if err != nil {
		logger.Error("engine load failed", logging.Args(append(logging.FailureAttrs(err),
			logging.String(logging.FieldEventType, "engine_load_failed"))...)...)
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		inst.close()
		return nil, services.Wrap(services.ErrEngineLoad, "engine", "acquire", "engine client closed", nil)
	}
	c.instance = inst
	c.mu.Unlock()

	logger.Info("engine ready",
		logging.String(logging.FieldEventType, "engine_ready"),
		logging.String("ffmpeg", inst.core.Path),
		logging.String("ffmpeg_source", inst.core.Source),
		logging.String("ffprobe", inst.probe.Path),
		logging.String("version", inst.version),
		logging.Duration("elapsed", time.Since(started)),
	)
	return inst, nil
}

func (c *Client) build(ctx context.Context) (*Instance, error) {
	core, err := c.resolve(ctx, c.opts.FFmpeg)
	if err != nil {
		return nil, err
	}
	probe, err := c.resolve(ctx, c.opts.FFprobe)
	if err != nil {
		return nil, err
	}

	version, err := c.verify(ctx, core.Path)
	if err != nil {
		return nil, err
	}

	workspace := strings.TrimSpace(c.opts.WorkspaceDir)
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "uploadai-engine-")
		if err != nil {
			return nil, services.Wrap(services.ErrEngineLoad, "engine", "prepare workspace", "", err)
		}
	}
	jobsDir := filepath.Join(workspace, "jobs")
	// Leftovers from a crashed process are never reused.
	if err := os.RemoveAll(jobsDir); err != nil {
		return nil, services.Wrap(services.ErrEngineLoad, "engine", "prepare workspace", "clear stale jobs", err)
	}
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrEngineLoad, "engine", "prepare workspace", "", err)
	}

	return newInstance(instanceConfig{
		core:    core,
		probe:   probe,
		version: version,
		jobsDir: jobsDir,
		runner:  c.runner,
		logger:  c.logger,
	}), nil
}

func (c *Client) verify(ctx context.Context, core string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	result, err := c.runner.Run(ctx, Command{Binary: core, Args: []string{"-hide_banner", "-version"}})
	if err != nil {
		detail := LastLine(result.StderrTail)
		if detail == "" {
			detail = "ffmpeg -version failed"
		}
		return "", services.WithHint(
			services.Wrap(services.ErrEngineLoad, "engine", "verify core", detail, err),
			"Check that the ffmpeg binary runs on this machine",
		)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(result.Stdout)), "\n")
	return strings.TrimSpace(first), nil
}

// Close stops the worker, cancels any running job, and removes job
// directories. Acquire fails after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	inst := c.instance
	c.instance = nil
	c.mu.Unlock()

	if inst == nil {
		return nil
	}
	inst.close()
	if err := os.RemoveAll(inst.jobsDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove engine jobs: %w", err)
	}
	return nil
}
