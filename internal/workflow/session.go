package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"uploadai/internal/conversion"
	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/notifications"
	"uploadai/internal/notify"
	"uploadai/internal/services"
	"uploadai/internal/status"
	"uploadai/internal/upload"
)

var (
	// ErrNoFile is returned when a run is requested before a file is selected.
	ErrNoFile = errors.New("no file selected")
	// ErrBusy is returned when a run is in flight or the machine is not waiting.
	ErrBusy = errors.New("session busy")
	// ErrNotRetryable is returned by Retry outside the error and cancelled states.
	ErrNotRetryable = errors.New("nothing to retry")
)

// Converter turns a video into MP3 audio.
type Converter interface {
	Convert(ctx context.Context, video media.File, onProgress func(float64)) (media.AudioFile, error)
}

// Uploader performs the two dependent network calls.
type Uploader interface {
	Upload(ctx context.Context, audio media.AudioFile) (upload.Session, error)
	RequestTranscription(ctx context.Context, session upload.Session, prompt string) error
}

// Deps wires a Session. Engine, Converter and Uploader are required.
type Deps struct {
	Engine        conversion.Acquirer
	Converter     Converter
	Uploader      Uploader
	Machine       *status.Machine
	Notifications notifications.Service
	History       *history.Store
	// OnResult is invoked once per successful run with the video id.
	OnResult notify.Callback
}

// Result describes a successful run.
type Result struct {
	RunID      string
	VideoID    string
	AudioName  string
	AudioBytes int64
	Elapsed    time.Duration
}

// Session owns the selected file and the status machine for one user.
type Session struct {
	deps    Deps
	machine *status.Machine
	logger  *slog.Logger

	mu         sync.Mutex
	file       media.File
	run        *Run
	generation uint64
}

// NewSession constructs a session in the waiting state.
func NewSession(deps Deps, logger *slog.Logger) (*Session, error) {
	if deps.Engine == nil || deps.Converter == nil || deps.Uploader == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new session", "engine, converter and uploader are required", nil)
	}
	if deps.Notifications == nil {
		deps.Notifications = notifications.NewService(nil)
	}
	machine := deps.Machine
	if machine == nil {
		machine = status.NewMachine(logger)
	}
	return &Session{
		deps:    deps,
		machine: machine,
		logger:  logging.NewComponentLogger(logger, "workflow"),
	}, nil
}

// Machine exposes the status machine for observers.
func (s *Session) Machine() *status.Machine {
	return s.machine
}

// Snapshot returns the current status.
func (s *Session) Snapshot() status.Snapshot {
	return s.machine.Snapshot()
}

// Selected returns the selected file, if any.
func (s *Session) Selected() (media.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, !s.file.IsZero()
}

// Select replaces the selected file. Any in-flight run is cancelled and
// detached from the status machine, which returns to waiting.
func (s *Session) Select(file media.File) error {
	if file.IsZero() {
		return services.Wrap(services.ErrValidation, "select", "select", "file is empty", ErrNoFile)
	}
	if !file.IsVideo() {
		s.logger.Warn("selected file is not a video; converting anyway",
			logging.String(logging.FieldEventType, "select_non_video"),
			logging.String("file", file.Name()),
			logging.String("mime_type", file.MIMEType()),
			logging.String(logging.FieldErrorHint, "select a video/* file if conversion fails"),
		)
	}

	s.mu.Lock()
	superseded := s.run
	s.generation++
	s.run = nil
	s.file = file
	s.machine.Reset()
	s.mu.Unlock()

	if superseded != nil {
		superseded.cancel()
	}
	s.logger.Info("file selected",
		logging.String(logging.FieldEventType, "select"),
		logging.String("file", file.Name()),
		logging.String("mime_type", file.MIMEType()),
		logging.Int64("size_bytes", file.Size()),
	)
	return nil
}

// Start launches a run for the selected file and returns immediately. The
// run is cancelled when ctx ends.
func (s *Session) Start(ctx context.Context, prompt string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, prompt)
}

// Submit runs the whole pipeline and blocks until it finishes.
func (s *Session) Submit(ctx context.Context, prompt string) (Result, error) {
	run, err := s.Start(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	<-run.Done()
	return run.result, run.err
}

// Retry resets a failed or cancelled session to waiting, keeping the
// selected file, and starts a new run.
func (s *Session) Retry(ctx context.Context, prompt string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.machine.State()
	if state != status.StateError && state != status.StateCancelled {
		return nil, fmt.Errorf("%w: state is %s", ErrNotRetryable, state)
	}
	if s.run != nil && !s.run.finished() {
		return nil, fmt.Errorf("%w: run %s still finishing", ErrBusy, s.run.id)
	}
	s.machine.Reset()
	return s.startLocked(ctx, prompt)
}

// Cancel aborts the in-flight run. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil || run.finished() {
		return false
	}
	run.cancel()
	return true
}

// Close cancels any in-flight run and waits for it to finish.
func (s *Session) Close() {
	s.mu.Lock()
	run := s.run
	s.generation++
	s.mu.Unlock()
	if run != nil {
		run.cancel()
		<-run.Done()
	}
}

func (s *Session) startLocked(ctx context.Context, prompt string) (*Run, error) {
	if s.file.IsZero() {
		return nil, ErrNoFile
	}
	if s.run != nil && !s.run.finished() {
		return nil, fmt.Errorf("%w: run %s in progress", ErrBusy, s.run.id)
	}
	if state := s.machine.State(); state != status.StateWaiting {
		return nil, fmt.Errorf("%w: state is %s", ErrBusy, state)
	}

	s.generation++
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:       uuid.NewString(),
		gen:      s.generation,
		file:     s.file,
		prompt:   strings.TrimSpace(prompt),
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  time.Now(),
		notifier: notify.New(s.deps.OnResult),
	}
	s.run = run
	go s.execute(runCtx, run)
	return run, nil
}

// guard runs fn only while run is still the session's current run.
func (s *Session) guard(run *Run, fn func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.gen != s.generation {
		return false, nil
	}
	return true, fn()
}

// Run is one submission.
type Run struct {
	id       string
	gen      uint64
	file     media.File
	prompt   string
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	notifier *notify.Notifier

	result Result
	err    error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Notifier resolves once with the video id, or with the run's error.
func (r *Run) Notifier() *notify.Notifier { return r.notifier }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
