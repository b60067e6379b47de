package types

import "context"

// Signal is an external cancellation source, unified with timeout
// expiry at every suspension point (§5). A context.Context already
// satisfies everything the orchestrator needs from it.
type Signal = context.Context

// Options configures one orchestrator run (§3).
type Options struct {
	// Stream is the primary factory. Required.
	Stream StreamFactory

	// FallbackStreams are tried, in order, after the primary exhausts its
	// model-class retry budget.
	FallbackStreams []StreamFactory

	// Provider names the primary stream and FallbackProviders names each
	// entry of FallbackStreams at the same index, for Resilience collaborators
	// that key state by provider. Unset entries default to "primary" and
	// "fallback-N".
	Provider          string
	FallbackProviders []string

	Guardrails []Guardrail

	Retry   RetryConfig
	Timeout TimeoutConfig

	// Signal is an external cancellation source; nil means "never cancels
	// externally" (only timeouts/completion end the run).
	Signal Signal

	CheckIntervals CheckIntervals

	DetectDrift       bool
	DetectZeroTokens  bool

	ContinueFromLastKnownGoodToken bool
	BuildContinuationPrompt        func(checkpoint string) string

	DeduplicateContinuation bool
	DeduplicationOptions    DeduplicationOptions

	Observer LifecycleObserver

	// Resilience wires the optional ops collaborators (circuit breaker,
	// health check manager, degradation manager, dead letter queue, stream
	// recovery manager) around the retry loop. Nil means none are active.
	// Build one with ops.Bind.
	Resilience *Resilience

	AdapterOptions AdapterOptions
	Interceptors   []Interceptor

	// Metadata is free-form, attached verbatim to telemetry output.
	Metadata map[string]any
}

// Normalize fills in defaults the way the teacher's Default*Config vars do,
// so the orchestrator never has to special-case a zero value mid-loop.
func (o Options) Normalize() Options {
	if o.Retry.Attempts == 0 {
		o.Retry.Attempts = DefaultRetryConfig.Attempts
	}
	if o.Retry.MaxRetries == 0 {
		o.Retry.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	if o.Retry.BaseDelay == 0 {
		o.Retry.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if o.Retry.MaxDelay == 0 {
		o.Retry.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if o.Retry.Backoff == "" {
		o.Retry.Backoff = DefaultRetryConfig.Backoff
	}
	if o.DeduplicateContinuation && o.DeduplicationOptions.MaxOverlap == 0 && o.DeduplicationOptions.MinOverlap == 0 {
		o.DeduplicationOptions = DefaultDeduplicationOptions
	}
	if o.Observer == nil {
		o.Observer = NoopObserver{}
	}
	return o
}
