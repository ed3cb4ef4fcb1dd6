// Package notify delivers the result of a run exactly once.
package notify

import (
	"context"
	"strings"
	"sync"

	"uploadai/internal/services"
)

// Callback receives the server-assigned video id after transcription was
// requested successfully.
type Callback func(videoID string)

// Result is what a resolved Notifier holds.
type Result struct {
	VideoID string
	Err     error
}

// Notifier is a one-shot future paired with a callback. The first of Notify
// or Close wins; later calls do nothing. The callback must not call back
// into the same Notifier.
type Notifier struct {
	once     sync.Once
	callback Callback
	done     chan struct{}
	result   Result
}

// New returns an unresolved notifier. callback may be nil.
func New(callback Callback) *Notifier {
	return &Notifier{callback: callback, done: make(chan struct{})}
}

// Notify resolves the notifier with videoID and invokes the callback. It
// reports whether this call was the one that resolved it.
func (n *Notifier) Notify(videoID string) bool {
	fired := false
	n.once.Do(func() {
		fired = true
		n.result = Result{VideoID: strings.TrimSpace(videoID)}
		if n.callback != nil {
			n.callback(n.result.VideoID)
		}
		close(n.done)
	})
	return fired
}

// Close resolves the notifier with err without invoking the callback. A nil
// err is recorded as services.ErrCancelled.
func (n *Notifier) Close(err error) bool {
	if err == nil {
		err = services.ErrCancelled
	}
	closed := false
	n.once.Do(func() {
		closed = true
		n.result = Result{Err: err}
		close(n.done)
	})
	return closed
}

// Done is closed once the notifier resolves.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// Result returns the outcome and whether the notifier has resolved.
func (n *Notifier) Result() (Result, bool) {
	select {
	case <-n.done:
		return n.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the notifier resolves or ctx ends.
func (n *Notifier) Wait(ctx context.Context) (string, error) {
	select {
	case <-n.done:
		return n.result.VideoID, n.result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
