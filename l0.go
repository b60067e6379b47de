// Package l0 is the public entry point: a thin re-export of the
// orchestrator/types/shared split so a caller only needs one import for the
// common path, the way the teacher's top-level package re-exports its
// model/types surface for server handlers.
package l0

import (
	"context"

	"github.com/l0run/l0/orchestrator"
	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

type (
	Options        = types.Options
	Result         = types.Result
	State          = types.State
	Snapshot       = types.Snapshot
	Telemetry      = types.Telemetry
	Adapter        = types.Adapter
	StreamFactory  = types.StreamFactory
	StreamResult   = types.StreamResult
	CanonicalStream = types.CanonicalStream
	Guardrail      = types.Guardrail
	GuardrailContext = types.GuardrailContext
	RetryConfig    = types.RetryConfig
	TimeoutConfig  = types.TimeoutConfig
	CheckIntervals = types.CheckIntervals
	LifecycleObserver = types.LifecycleObserver
	Interceptor    = types.Interceptor

	Event    = shared.Event
	Category = shared.Category
	Code     = shared.Code
	Error    = shared.L0Error
	Violation = shared.Violation
)

const (
	CategoryNetwork   = shared.CategoryNetwork
	CategoryTransient = shared.CategoryTransient
	CategoryModel     = shared.CategoryModel
	CategoryContent   = shared.CategoryContent
	CategoryProvider  = shared.CategoryProvider
	CategoryFatal     = shared.CategoryFatal
	CategoryInternal  = shared.CategoryInternal
)

// Run starts a streaming orchestrator run (§4.1). The returned Result's
// Stream must be drained to completion; State and Telemetry are only safe
// to read once Stream closes.
func Run(ctx context.Context, opts Options) *Result {
	return orchestrator.Run(ctx, opts)
}

// NoopObserver is the default observer used when Options.Observer is nil.
func NoopObserver() LifecycleObserver { return types.NoopObserver{} }

// CombineObservers fans every lifecycle call out to each given observer, in
// order — the way a caller layers an OTel/Prometheus observer (see the
// orchestrator package's OTelObserver/PrometheusObserver) alongside their
// own.
func CombineObservers(observers ...LifecycleObserver) LifecycleObserver {
	return types.CombineObservers(observers...)
}

// AdapterRegistry resolves adapters by name for stream factories that hand
// back only a raw provider stream plus a name hint (§6: "the core may also
// accept an adapter selected explicitly by name"), rather than a
// ready-wired Adapter value.
type AdapterRegistry struct {
	adapters *types.SafeMap[Adapter]
}

// NewAdapterRegistry builds an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: types.NewSafeMap[Adapter]()}
}

// Register adds or replaces the adapter under its own Name().
func (r *AdapterRegistry) Register(a Adapter) {
	r.adapters.Set(a.Name(), a)
}

// Get returns the adapter registered under name, or nil if none.
func (r *AdapterRegistry) Get(name string) Adapter {
	return r.adapters.Get(name)
}

// Detect returns a registered adapter whose Detect accepts raw, or nil if
// none claims it. Adapters are tried in map order, not registration order,
// so which one is returned when several accept raw is not defined. Detect is advisory per §6 — callers are always
// free to bypass this and call Get with an explicit name instead.
func (r *AdapterRegistry) Detect(raw any) Adapter {
	for _, name := range r.adapters.Keys() {
		a := r.adapters.Get(name)
		if a != nil && a.Detect(raw) {
			return a
		}
	}
	return nil
}
