package types

import "github.com/l0run/l0/shared"

// DegradationModifications is the scaled check-interval/timeout/disabled-check
// set a degradation source hands back for one provider at its current
// effective level. MaxRetries of -1 means "no override".
type DegradationModifications struct {
	CheckIntervals CheckIntervals
	Timeout        TimeoutConfig
	DisabledChecks []string
	MaxRetries     int
}

// Resilience bundles the optional operational collaborators the orchestrator
// consults around its retry loop: circuit breaking, health-ranked fallback
// ordering, graceful degradation, terminal failure recording, and
// debug-session stream recovery tracking. Every field is optional; a nil
// field is simply skipped. Concrete collaborators live in the ops package —
// ops.Bind adapts them into one Resilience value so the orchestrator never
// needs to import ops directly, avoiding an import cycle (ops already
// imports types for CheckIntervals/TimeoutConfig).
type Resilience struct {
	// IsProviderOpen reports whether provider's circuit is currently open
	// and attempts against it should be skipped.
	IsProviderOpen func(provider string) bool

	// RecordOutcome reports one attempt's result for circuit/health
	// tracking. failure is nil on success. snapshot is the run's State as of
	// this attempt's end, so a bound degradation source can derive its own
	// error-rate signal from this run's actual counters instead of needing
	// one pre-computed externally.
	RecordOutcome func(provider string, success bool, latencyMs int64, failure *shared.ProviderFailure, snapshot Snapshot)

	// RankFallbacks reorders a fallback provider-name list by descending
	// health score, for callers that want to pick ordering before
	// constructing Options.FallbackStreams.
	RankFallbacks func(providers []string) []string

	// ApplyDegradation scales base check intervals/timeouts for provider's
	// current effective degradation level.
	ApplyDegradation func(provider string, baseIntervals CheckIntervals, baseTimeout TimeoutConfig) DegradationModifications

	// RecordTerminal files a terminal (halted, no further recourse) failure
	// for later inspection.
	RecordTerminal func(provider, checkpoint string, failure *shared.ProviderFailure, totalAttempts int)

	// StartStreamSession begins tracking one attempt's stream for recovery
	// debugging and returns its session id.
	StartStreamSession func(provider, model string) string

	// RecordStreamChunk records one chunk of content against an active
	// session.
	RecordStreamChunk func(sessionID, content string, tokens int)

	// EndStreamSession closes out a tracked session.
	EndStreamSession func(sessionID string, success bool, reason string)
}
