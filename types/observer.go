package types

import "github.com/l0run/l0/shared"

// LifecycleObserver replaces the "callback menagerie" (onStart, onRetry, …)
// with a single interface with default no-op methods, per the Design Notes'
// re-architecture guidance. Concrete observers compose via Combine/Filter;
// callers who just want a lambda get NewFuncObserver.
type LifecycleObserver interface {
	OnStart(attempt int, isRetry, isFallback bool, fallbackIndex int)
	OnEvent(evt shared.Event)
	OnCheckpoint(checkpoint string, tokenCount int)
	OnViolation(v shared.Violation)
	OnDrift(result DriftResult)
	OnRetry(category shared.Category, attempt int, delayMs int64)
	OnFallback(fromIndex, toIndex int, reason string)
	OnResume(checkpoint string, tokenCount int)
	OnTimeout(kind string)
	OnAbort(tokenCount, contentLength int)
	OnComplete(snapshot Snapshot)
	OnError(err *shared.L0Error)
	OnToolCall(call shared.ToolCall)
}

// NoopObserver implements LifecycleObserver with every method a no-op, so
// concrete observers can embed it and override only what they need.
type NoopObserver struct{}

func (NoopObserver) OnStart(int, bool, bool, int)               {}
func (NoopObserver) OnEvent(shared.Event)                       {}
func (NoopObserver) OnCheckpoint(string, int)                   {}
func (NoopObserver) OnViolation(shared.Violation)               {}
func (NoopObserver) OnDrift(DriftResult)                        {}
func (NoopObserver) OnRetry(shared.Category, int, int64)        {}
func (NoopObserver) OnFallback(int, int, string)                {}
func (NoopObserver) OnResume(string, int)                       {}
func (NoopObserver) OnTimeout(string)                           {}
func (NoopObserver) OnAbort(int, int)                           {}
func (NoopObserver) OnComplete(Snapshot)                        {}
func (NoopObserver) OnError(*shared.L0Error)                    {}
func (NoopObserver) OnToolCall(shared.ToolCall)                 {}

// multiObserver fans every call out to each of its members in order.
type multiObserver struct{ observers []LifecycleObserver }

// CombineObservers returns a LifecycleObserver that fans every call out to
// each given observer, in order — the target for the source's "combine"
// callback helper (Design Notes).
func CombineObservers(observers ...LifecycleObserver) LifecycleObserver {
	filtered := make([]LifecycleObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return multiObserver{observers: filtered}
}

func (m multiObserver) OnStart(attempt int, isRetry, isFallback bool, fallbackIndex int) {
	for _, o := range m.observers {
		o.OnStart(attempt, isRetry, isFallback, fallbackIndex)
	}
}
func (m multiObserver) OnEvent(evt shared.Event) {
	for _, o := range m.observers {
		o.OnEvent(evt)
	}
}
func (m multiObserver) OnCheckpoint(checkpoint string, tokenCount int) {
	for _, o := range m.observers {
		o.OnCheckpoint(checkpoint, tokenCount)
	}
}
func (m multiObserver) OnViolation(v shared.Violation) {
	for _, o := range m.observers {
		o.OnViolation(v)
	}
}
func (m multiObserver) OnDrift(result DriftResult) {
	for _, o := range m.observers {
		o.OnDrift(result)
	}
}
func (m multiObserver) OnRetry(category shared.Category, attempt int, delayMs int64) {
	for _, o := range m.observers {
		o.OnRetry(category, attempt, delayMs)
	}
}
func (m multiObserver) OnFallback(fromIndex, toIndex int, reason string) {
	for _, o := range m.observers {
		o.OnFallback(fromIndex, toIndex, reason)
	}
}
func (m multiObserver) OnResume(checkpoint string, tokenCount int) {
	for _, o := range m.observers {
		o.OnResume(checkpoint, tokenCount)
	}
}
func (m multiObserver) OnTimeout(kind string) {
	for _, o := range m.observers {
		o.OnTimeout(kind)
	}
}
func (m multiObserver) OnAbort(tokenCount, contentLength int) {
	for _, o := range m.observers {
		o.OnAbort(tokenCount, contentLength)
	}
}
func (m multiObserver) OnComplete(snapshot Snapshot) {
	for _, o := range m.observers {
		o.OnComplete(snapshot)
	}
}
func (m multiObserver) OnError(err *shared.L0Error) {
	for _, o := range m.observers {
		o.OnError(err)
	}
}
func (m multiObserver) OnToolCall(call shared.ToolCall) {
	for _, o := range m.observers {
		o.OnToolCall(call)
	}
}

// FuncObserver lets a caller supply only the callbacks they care about as
// plain function fields — the "convenience constructor for bare lambdas"
// the Design Notes call for. Every field is optional.
type FuncObserver struct {
	NoopObserver
	Start      func(attempt int, isRetry, isFallback bool, fallbackIndex int)
	Event      func(evt shared.Event)
	Checkpoint func(checkpoint string, tokenCount int)
	Violation  func(v shared.Violation)
	Drift      func(result DriftResult)
	Retry      func(category shared.Category, attempt int, delayMs int64)
	Fallback   func(fromIndex, toIndex int, reason string)
	Resume     func(checkpoint string, tokenCount int)
	Timeout    func(kind string)
	Abort      func(tokenCount, contentLength int)
	Complete   func(snapshot Snapshot)
	ErrorFn    func(err *shared.L0Error)
	ToolCall   func(call shared.ToolCall)
}

func (f FuncObserver) OnStart(attempt int, isRetry, isFallback bool, fallbackIndex int) {
	if f.Start != nil {
		f.Start(attempt, isRetry, isFallback, fallbackIndex)
	}
}
func (f FuncObserver) OnEvent(evt shared.Event) {
	if f.Event != nil {
		f.Event(evt)
	}
}
func (f FuncObserver) OnCheckpoint(checkpoint string, tokenCount int) {
	if f.Checkpoint != nil {
		f.Checkpoint(checkpoint, tokenCount)
	}
}
func (f FuncObserver) OnViolation(v shared.Violation) {
	if f.Violation != nil {
		f.Violation(v)
	}
}
func (f FuncObserver) OnDrift(result DriftResult) {
	if f.Drift != nil {
		f.Drift(result)
	}
}
func (f FuncObserver) OnRetry(category shared.Category, attempt int, delayMs int64) {
	if f.Retry != nil {
		f.Retry(category, attempt, delayMs)
	}
}
func (f FuncObserver) OnFallback(fromIndex, toIndex int, reason string) {
	if f.Fallback != nil {
		f.Fallback(fromIndex, toIndex, reason)
	}
}
func (f FuncObserver) OnResume(checkpoint string, tokenCount int) {
	if f.Resume != nil {
		f.Resume(checkpoint, tokenCount)
	}
}
func (f FuncObserver) OnTimeout(kind string) {
	if f.Timeout != nil {
		f.Timeout(kind)
	}
}
func (f FuncObserver) OnAbort(tokenCount, contentLength int) {
	if f.Abort != nil {
		f.Abort(tokenCount, contentLength)
	}
}
func (f FuncObserver) OnComplete(snapshot Snapshot) {
	if f.Complete != nil {
		f.Complete(snapshot)
	}
}
func (f FuncObserver) OnError(err *shared.L0Error) {
	if f.ErrorFn != nil {
		f.ErrorFn(err)
	}
}
func (f FuncObserver) OnToolCall(call shared.ToolCall) {
	if f.ToolCall != nil {
		f.ToolCall(call)
	}
}
