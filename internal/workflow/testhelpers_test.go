package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"uploadai/internal/engine"
	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/status"
	"uploadai/internal/testsupport"
	"uploadai/internal/upload"
	"uploadai/internal/workflow"
)

type stubEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *stubEngine) Acquire(ctx context.Context) (*engine.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return nil, nil
}

type stubConverter struct {
	progress []float64
	err      error
	// block makes Convert wait for cancellation after signalling started.
	block   bool
	started chan struct{}
}

func (c *stubConverter) Convert(ctx context.Context, video media.File, onProgress func(float64)) (media.AudioFile, error) {
	if c.started != nil {
		close(c.started)
		c.started = nil
	}
	for _, p := range c.progress {
		onProgress(p)
	}
	if c.block {
		<-ctx.Done()
		return media.AudioFile{}, services.Wrap(services.ErrCancelled, "converting", "transcode", "cancelled", ctx.Err())
	}
	if c.err != nil {
		return media.AudioFile{}, c.err
	}
	return media.AudioFileFor(video, testsupport.MP3Fixture()), nil
}

type stubUploader struct {
	mu             sync.Mutex
	videoID        string
	uploadErrs     []error
	transcribeErr  error
	uploads        []string
	transcriptions []string
	prompts        []string
}

func (u *stubUploader) Upload(ctx context.Context, audio media.AudioFile) (upload.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, audio.Name())
	if len(u.uploadErrs) > 0 {
		err := u.uploadErrs[0]
		u.uploadErrs = u.uploadErrs[1:]
		if err != nil {
			return upload.Session{}, err
		}
	}
	return upload.Session{VideoID: u.videoID}, nil
}

func (u *stubUploader) RequestTranscription(ctx context.Context, session upload.Session, prompt string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.transcriptions = append(u.transcriptions, session.VideoID)
	u.prompts = append(u.prompts, prompt)
	return u.transcribeErr
}

func (u *stubUploader) counts() (int, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.uploads), len(u.transcriptions)
}

type stubNotifications struct {
	mu        sync.Mutex
	requested []string
	failures  []error
}

func (n *stubNotifications) NotifyTranscriptionRequested(ctx context.Context, fileName, videoID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, videoID)
	return nil
}

func (n *stubNotifications) NotifyRunFailed(ctx context.Context, fileName string, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
	return nil
}

func (n *stubNotifications) TestNotification(context.Context) error { return nil }

type harness struct {
	session   *workflow.Session
	engine    *stubEngine
	converter *stubConverter
	uploader  *stubUploader
	notes     *stubNotifications
	history   *history.Store

	mu       sync.Mutex
	callback []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := history.Open(context.Background())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		engine:    &stubEngine{},
		converter: &stubConverter{},
		uploader:  &stubUploader{videoID: "abc123"},
		notes:     &stubNotifications{},
		history:   store,
	}
	session, err := workflow.NewSession(workflow.Deps{
		Engine:        h.engine,
		Converter:     h.converter,
		Uploader:      h.uploader,
		Notifications: h.notes,
		History:       store,
		OnResult: func(videoID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.callback = append(h.callback, videoID)
		},
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)
	h.session = session
	return h
}

func (h *harness) callbacks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.callback...)
}

func (h *harness) selectVideo(t *testing.T, name string) {
	t.Helper()
	file, err := media.NewFile(name, "video/mp4", testsupport.VideoFixture(256))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := h.session.Select(file); err != nil {
		t.Fatalf("Select: %v", err)
	}
}

// collectStates reads snapshots until a terminal state arrives.
func collectStates(t *testing.T, ch <-chan status.Snapshot) []status.State {
	t.Helper()
	var states []status.State
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if len(states) == 0 || states[len(states)-1] != snap.State {
				states = append(states, snap.State)
			}
			if snap.State.IsTerminal() {
				return states
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal state; saw %v", states)
			return nil
		}
	}
}

func waitDone(t *testing.T, run *workflow.Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", run.ID())
	}
}

func errorsIs(err error, targets ...error) bool {
	for _, target := range targets {
		if !errors.Is(err, target) {
			return false
		}
	}
	return true
}
