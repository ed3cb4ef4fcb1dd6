package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"uploadai/internal/config"
	"uploadai/internal/conversion"
	"uploadai/internal/engine"
	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/notifications"
	"uploadai/internal/notify"
	"uploadai/internal/upload"
	"uploadai/internal/workflow"
)

// Components is the wired application.
type Components struct {
	Config        *config.Config
	Engine        *engine.Client
	Pipeline      *conversion.Pipeline
	Uploader      *upload.Coordinator
	Notifications notifications.Service
	History       *history.Store
	Session       *workflow.Session
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	engineOpts []engine.Option
	uploadOpts []upload.Option
	onResult   notify.Callback
}

// WithEngineOptions forwards options to engine.NewClient.
func WithEngineOptions(opts ...engine.Option) BuildOption {
	return func(b *buildOptions) { b.engineOpts = append(b.engineOpts, opts...) }
}

// WithUploadOptions forwards options to upload.NewCoordinator.
func WithUploadOptions(opts ...upload.Option) BuildOption {
	return func(b *buildOptions) { b.uploadOpts = append(b.uploadOpts, opts...) }
}

// WithResultCallback sets the callback fired once per successful run.
func WithResultCallback(cb notify.Callback) BuildOption {
	return func(b *buildOptions) { b.onResult = cb }
}

// Build assembles every component from cfg. Directories are created; the
// engine itself is loaded lazily on the first run.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := history.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	client := engine.NewClient(engine.OptionsFromConfig(cfg), logger, options.engineOpts...)
	pipeline := conversion.NewPipeline(client, logger)
	uploader := upload.NewCoordinator(upload.ConfigFrom(cfg), logger, options.uploadOpts...)
	notifier := notifications.NewService(cfg)

	session, err := workflow.NewSession(workflow.Deps{
		Engine:        client,
		Converter:     pipeline,
		Uploader:      uploader,
		Notifications: notifier,
		History:       store,
		OnResult:      options.onResult,
	}, logger)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}

	return &Components{
		Config:        cfg,
		Engine:        client,
		Pipeline:      pipeline,
		Uploader:      uploader,
		Notifications: notifier,
		History:       store,
		Session:       session,
	}, nil
}

// Close stops any run in flight, then releases the engine and the history.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	c.Session.Close()
	return errors.Join(c.Engine.Close(), c.History.Close())
}
