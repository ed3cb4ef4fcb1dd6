package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"uploadai/internal/logging"
	"uploadai/internal/media/ffprobe"
	"uploadai/internal/services"
	"uploadai/internal/textutil"
)

// JobFunc is the work bound to the execution slot. The JobContext is only
// valid until the function returns.
type JobFunc func(ctx context.Context, job *JobContext) error

// Stats is a point-in-time view of the instance.
type Stats struct {
	Core    ResolvedResource
	Probe   ResolvedResource
	Version string
	Pending int
	Active  bool
}

type instanceConfig struct {
	core    ResolvedResource
	probe   ResolvedResource
	version string
	jobsDir string
	runner  Runner
	logger  *slog.Logger
}

// Instance is a loaded engine. It runs one job at a time on a dedicated
// worker goroutine; later jobs wait in FIFO order.
type Instance struct {
	core    ResolvedResource
	probe   ResolvedResource
	version string
	jobsDir string
	runner  Runner
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*job
	active  *job
	closed  bool

	wake    chan struct{}
	stopCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
}

type job struct {
	id     string
	ctx    context.Context
	fn     JobFunc
	result chan error
}

func newInstance(cfg instanceConfig) *Instance {
	stopCtx, stop := context.WithCancel(context.Background())
	inst := &Instance{
		core:    cfg.core,
		probe:   cfg.probe,
		version: cfg.version,
		jobsDir: cfg.jobsDir,
		runner:  cfg.runner,
		logger:  cfg.logger,
		wake:    make(chan struct{}, 1),
		stopCtx: stopCtx,
		stop:    stop,
		done:    make(chan struct{}),
	}
	go inst.loop()
	return inst
}

// Version returns the first line of `ffmpeg -version`.
func (i *Instance) Version() string { return i.version }

// Stats reports queue depth and resolved binaries.
func (i *Instance) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Stats{
		Core:    i.core,
		Probe:   i.probe,
		Version: i.version,
		Pending: len(i.pending),
		Active:  i.active != nil,
	}
}

// Run queues fn and blocks until it has run. If ctx ends while the job is
// still queued, it is removed without running. If the job is already
// running, its context is cancelled and Run waits for it to return.
func (i *Instance) Run(ctx context.Context, fn JobFunc) error {
	if fn == nil {
		return services.Wrap(services.ErrValidation, "engine", "run", "nil job", nil)
	}
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "engine", "run", "", err)
	}
	j := &job{id: uuid.NewString(), ctx: ctx, fn: fn, result: make(chan error, 1)}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return services.Wrap(services.ErrEngineLoad, "engine", "run", "engine closed", nil)
	}
	i.pending = append(i.pending, j)
	depth := len(i.pending)
	i.mu.Unlock()

	select {
	case i.wake <- struct{}{}:
	default:
	}
	logging.WithContext(ctx, i.logger).Debug("engine job queued",
		logging.String(logging.FieldJobID, j.id),
		logging.Int("queue_depth", depth),
	)

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		if i.dequeue(j) {
			return services.Wrap(services.ErrCancelled, "engine", "run", "cancelled while queued", ctx.Err())
		}
		return <-j.result
	}
}

func (i *Instance) dequeue(target *job) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, j := range i.pending {
		if j == target {
			i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
			return true
		}
	}
	return false
}

func (i *Instance) next() *job {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) == 0 {
		return nil
	}
	j := i.pending[0]
	i.pending[0] = nil
	i.pending = i.pending[1:]
	i.active = j
	return j
}

func (i *Instance) loop() {
	defer close(i.done)
	for {
		if i.stopCtx.Err() != nil {
			return
		}
		j := i.next()
		if j == nil {
			select {
			case <-i.wake:
			case <-i.stopCtx.Done():
				return
			}
			continue
		}
		err := i.execute(j)
		i.mu.Lock()
		i.active = nil
		i.mu.Unlock()
		j.result <- err
	}
}

func (i *Instance) execute(j *job) (err error) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stopAfter := context.AfterFunc(i.stopCtx, cancel)
	defer stopAfter()

	logger := logging.WithContext(ctx, i.logger).With(logging.String(logging.FieldJobID, j.id))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return services.Wrap(services.ErrCancelled, "engine", "run", "", ctxErr)
	}

	dir := filepath.Join(i.jobsDir, j.id)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return services.Wrap(services.ErrExternalTool, "engine", "prepare job", "", mkErr)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn("engine job cleanup failed",
				logging.Error(rmErr),
				logging.String(logging.FieldEventType, "engine_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "remove the job directory manually"),
			)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrExternalTool, "engine", "run", fmt.Sprintf("job panicked: %v", r), nil)
		}
	}()

	started := time.Now()
	logger.Debug("engine job started")
	err = j.fn(ctx, &JobContext{id: j.id, dir: dir, inst: i})
	logger.Debug("engine job finished",
		logging.Duration("elapsed", time.Since(started)),
		logging.Bool("ok", err == nil),
	)
	return err
}

// close stops the worker and fails every job still queued.
func (i *Instance) close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		<-i.done
		return
	}
	i.closed = true
	pending := i.pending
	i.pending = nil
	i.mu.Unlock()

	i.stop()
	<-i.done
	for _, j := range pending {
		j.result <- services.Wrap(services.ErrEngineLoad, "engine", "run", "engine closed", nil)
	}
}

// Artifact is a file inside a job directory.
type Artifact struct {
	Name string
	path string
}

// Path returns the absolute location of the artifact.
func (a Artifact) Path() string { return a.path }

// JobContext gives a running job access to its private directory and the
// engine binaries.
type JobContext struct {
	id   string
	dir  string
	inst *Instance
}

// ID returns the job identifier.
func (j *JobContext) ID() string { return j.id }

// Artifact names a file in the job directory without creating it.
func (j *JobContext) Artifact(name string) Artifact {
	clean := textutil.SanitizeFileName(filepath.Base(name))
	if clean == "" || clean == "." || clean == ".." {
		clean = "artifact"
	}
	return Artifact{Name: clean, path: filepath.Join(j.dir, clean)}
}

// Stage writes data into the job directory.
func (j *JobContext) Stage(name string, data []byte) (Artifact, error) {
	a := j.Artifact(name)
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		return Artifact{}, services.Wrap(services.ErrExternalTool, "engine", "stage", a.Name, err)
	}
	return a, nil
}

// Read returns the contents of an artifact. A missing artifact is reported
// as os.ErrNotExist.
func (j *JobContext) Read(a Artifact) ([]byte, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.Name, err)
	}
	return data, nil
}

// Exec runs the core binary with args. onStdout receives stdout lines as
// they arrive (ffmpeg -progress output). The error carries the last stderr
// line as its message.
func (j *JobContext) Exec(ctx context.Context, args []string, onStdout func(string)) (CommandResult, error) {
	return j.run(ctx, j.inst.core, args, onStdout)
}

// Probe runs ffprobe against a staged artifact.
func (j *JobContext) Probe(ctx context.Context, a Artifact) (ffprobe.Result, error) {
	result, err := j.run(ctx, j.inst.probe, ffprobe.Args(a.path), nil)
	if err != nil {
		return ffprobe.Result{}, err
	}
	parsed, err := ffprobe.Parse(result.Stdout)
	if err != nil {
		return ffprobe.Result{}, services.Wrap(services.ErrExternalTool, "engine", "ffprobe", "unreadable probe output", err)
	}
	return parsed, nil
}

func (j *JobContext) run(ctx context.Context, bin ResolvedResource, args []string, onStdout func(string)) (CommandResult, error) {
	result, err := j.inst.runner.Run(ctx, Command{Binary: bin.Path, Args: args, OnStdout: onStdout})
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
		if ctxErr == nil {
			ctxErr = err
		}
		return result, services.Wrap(services.ErrCancelled, "engine", bin.Name, "", ctxErr)
	}
	detail := LastLine(result.StderrTail)
	if detail == "" {
		detail = fmt.Sprintf("exit status %d", result.ExitCode)
	}
	return result, services.Wrap(services.ErrExternalTool, "engine", bin.Name, detail, err)
}
