package types

import (
	"context"

	"github.com/l0run/l0/shared"
)

// RawStream is whatever a provider SDK hands back — an opaque handle the
// matching Adapter knows how to drain. The orchestrator never inspects it
// directly.
type RawStream any

// CanonicalStream is a pull-based iterator over canonical events — the
// target shape for "lazy async event iterator" in languages without native
// async iterators (Design Notes): a bounded channel the producer fills and
// the consumer drains. Next blocks until an event is ready, ctx is done, or
// the stream ends (ok=false).
type CanonicalStream interface {
	Next(ctx context.Context) (evt shared.Event, ok bool)
	Close() error
}

// Adapter maps a provider-native stream to the canonical event sequence
// (§6). Detect is advisory only — the core may also accept an adapter
// selected explicitly by name and never requires Detect to succeed.
type Adapter interface {
	Name() string
	Detect(raw RawStream) bool
	Wrap(ctx context.Context, raw RawStream, opts AdapterOptions) (CanonicalStream, error)
}

// AdapterOptions carries whatever per-call configuration an adapter needs
// (model id, tool schema, etc.) without the core needing to know its shape.
type AdapterOptions map[string]any

// StreamResult is what a StreamFactory produces: either a ready-made
// CanonicalStream, or a provider-native RawStream paired with the Adapter
// that recognizes it (§6, "a factory ... returning an object exposing
// either (1) a canonical event stream directly, or (2) a provider-native
// stream plus an adapter").
type StreamResult struct {
	Canonical CanonicalStream
	Raw       RawStream
	Adapter   Adapter
}

// StreamFactory is a function producing a new attempt's stream. prompt is the (possibly continuation-augmented) request text the
// orchestrator wants this attempt to send; factories that ignore
// continuation entirely are free to ignore it.
type StreamFactory func(ctx context.Context, prompt string) (StreamResult, error)

// InterceptorContext is what before/after/onError hooks observe about the
// current attempt.
type InterceptorContext struct {
	Attempt       int
	IsRetry       bool
	IsFallback    bool
	FallbackIndex int
	Meta          map[string]any
}

// Interceptor runs around each attempt (§6). An error returned by Before
// halts the run with an INTERNAL-category error. An error returned by After
// is discarded, and a panic in any hook is not recovered by the orchestrator.
type Interceptor struct {
	Name    string
	Before  func(ctx InterceptorContext) error
	After   func(ctx InterceptorContext, snapshot Snapshot) error
	OnError func(ctx InterceptorContext, err error)
}
