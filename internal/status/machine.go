package status

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"uploadai/internal/logging"
	"uploadai/internal/services"
)

// ErrInvalidTransition is matched by every rejected transition.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected edge.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Snapshot is an immutable view of the machine.
type Snapshot struct {
	Seq       uint64    `json:"seq"`
	State     State     `json:"state"`
	Label     string    `json:"label"`
	Progress  float64   `json:"progress"`
	VideoID   string    `json:"video_id,omitempty"`
	Stage     string    `json:"error_stage,omitempty"`
	Message   string    `json:"error_message,omitempty"`
	Kind      string    `json:"error_kind,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Machine is safe for concurrent use.
type Machine struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// NewMachine returns a machine in StateWaiting.
func NewMachine(logger *slog.Logger) *Machine {
	m := &Machine{
		logger: logging.NewComponentLogger(logger, "status"),
		now:    time.Now,
		subs:   make(map[int]chan Snapshot),
	}
	m.snap = Snapshot{State: StateWaiting, Label: Label(StateWaiting), UpdatedAt: m.now()}
	return m
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// State returns the current state.
func (m *Machine) State() State {
	return m.Snapshot().State
}

// Start moves waiting to converting.
func (m *Machine) Start() error {
	return m.advance(StateConverting, nil)
}

// Uploading moves converting to uploading.
func (m *Machine) Uploading() error {
	return m.advance(StateUploading, func(s *Snapshot) { s.Progress = 1 })
}

// Generating moves uploading to generating and records the session id.
func (m *Machine) Generating(videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return services.Wrap(services.ErrValidation, "status", "generating", "video id required", nil)
	}
	return m.advance(StateGenerating, func(s *Snapshot) { s.VideoID = videoID })
}

// Succeed moves generating to success.
func (m *Machine) Succeed() error {
	return m.advance(StateSuccess, nil)
}

func (m *Machine) advance(to State, mutate func(*Snapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.snap.State
	if happyPath[from] != to {
		return &TransitionError{From: from, To: to}
	}
	next := m.snap
	next.State = to
	if mutate != nil {
		mutate(&next)
	}
	m.publishLocked(next)
	return nil
}

// SetProgress records conversion progress. It is ignored outside converting
// and never moves backwards.
func (m *Machine) SetProgress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State != StateConverting || fraction <= m.snap.Progress {
		return
	}
	next := m.snap
	next.Progress = fraction
	m.publishLocked(next)
}

// Fail moves any non-terminal state to error, recording the failing stage
// and the diagnostic taken from err.
func (m *Machine) Fail(stage string, err error) error {
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" && err != nil {
		message = err.Error()
	}
	if message == "" {
		message = "unknown failure"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.snap.State
	if from.IsTerminal() {
		return &TransitionError{From: from, To: StateError}
	}
	next := m.snap
	next.State = StateError
	next.Stage = strings.TrimSpace(stage)
	next.Message = message
	next.Kind = details.Kind
	m.publishLocked(next)
	return nil
}

// Cancel moves an in-flight state to cancelled.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.snap.State
	if !from.IsActive() {
		return &TransitionError{From: from, To: StateCancelled}
	}
	next := m.snap
	next.State = StateCancelled
	next.Stage = string(from)
	m.publishLocked(next)
	return nil
}

// Reset returns to waiting from any state, clearing the session id, error
// and progress.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State == StateWaiting && m.snap.VideoID == "" && m.snap.Message == "" && m.snap.Progress == 0 {
		return
	}
	m.publishLocked(Snapshot{Seq: m.snap.Seq, State: StateWaiting})
}

func (m *Machine) publishLocked(next Snapshot) {
	from := m.snap.State
	next.Seq = m.snap.Seq + 1
	next.Label = Label(next.State)
	next.UpdatedAt = m.now()
	m.snap = next

	if from != next.State {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "status_transition"),
			logging.String("from", string(from)),
			logging.String("to", string(next.State)),
		}
		if next.VideoID != "" {
			attrs = append(attrs, logging.String(logging.FieldVideoID, next.VideoID))
		}
		if next.State == StateError {
			attrs = append(attrs,
				logging.String(logging.FieldStage, next.Stage),
				logging.String("diagnostic", next.Message),
				logging.String(logging.FieldErrorKind, next.Kind),
			)
			m.logger.Warn("status changed", logging.Args(attrs...)...)
		} else {
			m.logger.Info("status changed", logging.Args(attrs...)...)
		}
	}

	for _, ch := range m.subs {
		offer(ch, next)
	}
}

// offer delivers s without blocking, discarding the oldest queued snapshot
// when the subscriber is behind.
func offer(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel that receives the current snapshot followed
// by every later change. Slow subscribers lose intermediate snapshots but
// always end up with the latest. The returned func unsubscribes and closes
// the channel.
func (m *Machine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snap
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
