package orchestrator

import (
	"context"
	"time"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// TimeoutKind names which deadline fired, for onTimeout(kind) (§4.3).
const (
	TimeoutInitialToken = "initial_token"
	TimeoutInterToken   = "inter_token"
)

// ErrAborted is the sentinel wrapped into the L0Error surfaced when the
// external signal cancels a pending read (§4.3, §5: "abort-class error").
var ErrAborted = contextAbortedError{}

type contextAbortedError struct{}

func (contextAbortedError) Error() string { return "l0: stream aborted by signal" }

// timeoutError carries which deadline (initial vs inter-token) expired so
// the caller can pick CodeInitialTokenTimeout vs CodeInterTokenTimeout.
type timeoutError struct{ kind string }

func (e *timeoutError) Error() string { return "l0: " + e.kind + " timeout" }

// StreamWrapper enforces the initial-token and inter-token deadlines over a
// CanonicalStream and unifies them with external signal cancellation (§4.3,
// §5). Both timeouts are rearmed atomically with event delivery: the timer
// reset happens before Next returns the event to the caller, so no event is
// delivered after a deadline has already fired.
type StreamWrapper struct {
	inner   types.CanonicalStream
	timeout types.TimeoutConfig
	signal  types.Signal

	sawFirstToken bool
}

// NewStreamWrapper wraps a canonical stream with the given deadlines. signal
// may be nil, meaning no external cancellation source beyond ctx itself.
func NewStreamWrapper(inner types.CanonicalStream, timeout types.TimeoutConfig, signal types.Signal) *StreamWrapper {
	return &StreamWrapper{inner: inner, timeout: timeout, signal: signal}
}

// Next blocks until the next event, a deadline expires, or the signal/ctx
// cancels. On deadline or cancellation, ok=false and err is set; the caller
// must treat this exactly like end-of-stream plus an out-of-band error.
func (w *StreamWrapper) Next(ctx context.Context) (evt shared.Event, ok bool, err error) {
	deadline := w.timeout.InitialToken
	kind := TimeoutInitialToken
	if w.sawFirstToken {
		deadline = w.timeout.InterToken
		kind = TimeoutInterToken
	}

	resultCh := make(chan nextResult, 1)
	go func() {
		e, ok := w.inner.Next(ctx)
		resultCh <- nextResult{evt: e, ok: ok}
	}()

	var timerCh <-chan time.Time
	var timer *time.Timer
	if deadline > 0 {
		timer = time.NewTimer(deadline)
		timerCh = timer.C
		defer timer.Stop()
	}

	var signalDone <-chan struct{}
	if w.signal != nil {
		signalDone = w.signal.Done()
	}

	select {
	case res := <-resultCh:
		if res.ok && res.evt.IsContentBearing() {
			w.sawFirstToken = true
		}
		return res.evt, res.ok, nil
	case <-timerCh:
		return shared.Event{}, false, &timeoutError{kind: kind}
	case <-signalDone:
		return shared.Event{}, false, ErrAborted
	case <-ctx.Done():
		return shared.Event{}, false, ErrAborted
	}
}

type nextResult struct {
	evt shared.Event
	ok  bool
}

// Close releases the underlying stream. Idempotent at the caller's
// discretion; the wrapper itself does not guard against double-close since
// the orchestrator only ever calls it once per attempt.
func (w *StreamWrapper) Close() error {
	return w.inner.Close()
}

// IsTimeout reports whether err came from a deadline expiry and, if so,
// which kind.
func IsTimeout(err error) (kind string, ok bool) {
	te, ok := err.(*timeoutError)
	if !ok {
		return "", false
	}
	return te.kind, true
}

// IsAborted reports whether err is the external-cancellation sentinel.
func IsAborted(err error) bool {
	return err == ErrAborted
}
