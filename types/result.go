package types

import (
	"time"

	"github.com/l0run/l0/shared"
)

// TelemetryMetrics is the Observability Hub's per-run rate summary (§6,
// "metrics: { timeToFirstToken?, avgInterTokenTime?, tokensPerSecond?,
// totalTokens, totalRetries, networkRetryCount, modelRetryCount }"). The
// pointer fields are nil when no token was ever emitted, so a caller can't
// mistake "never measured" for a genuine zero latency.
type TelemetryMetrics struct {
	TimeToFirstToken  *time.Duration
	AvgInterTokenTime *time.Duration
	TokensPerSecond   *float64
	TotalTokens       int
	TotalRetries      int
	NetworkRetryCount int
	ModelRetryCount   int
}

// NetworkTelemetry is the classified network-failure breakdown (§6,
// "network: { errorCount, errorsByType, errors? }").
type NetworkTelemetry struct {
	ErrorCount  int
	ErrorsByType map[shared.FailureType]int
	Errors      []shared.ProviderFailure
}

// GuardrailTelemetry is the violation breakdown (§6, "guardrails?: {
// violationCount, violationsByRule, violationsBySeverity,
// violationsByRuleAndSeverity }").
type GuardrailTelemetry struct {
	ViolationCount              int
	ViolationsByRule            map[string]int
	ViolationsBySeverity        map[shared.Severity]int
	ViolationsByRuleAndSeverity map[string]map[shared.Severity]int
}

// DriftTelemetry reports the last drift check's outcome (§6, "drift?").
type DriftTelemetry struct {
	Detected   bool
	Confidence float64
	Types      map[DriftType]bool
}

// ContinuationTelemetry reports checkpoint/resume/dedup activity (§6,
// "continuation?: { enabled, used, timesApplied, checkpointLength?,
// deduplicationApplied?, deduplicatedChars? }").
type ContinuationTelemetry struct {
	Enabled               bool
	Used                  bool
	TimesApplied          int
	CheckpointLength      int
	DeduplicationApplied  bool
	DeduplicatedChars     int
}

// Telemetry is the run summary handed back alongside the final Snapshot —
// the aggregate counters and Observability Hub surface a CLI or dashboard
// wants without replaying every lifecycle event (§6 "Telemetry surface",
// §7 "emit aggregate run statistics").
type Telemetry struct {
	SessionId string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Metrics      TelemetryMetrics
	Network      NetworkTelemetry
	Guardrails   GuardrailTelemetry
	Drift        DriftTelemetry
	Continuation ContinuationTelemetry
	Metadata     map[string]any

	// Attempts, FallbacksUsed, Resumed, and TerminalCategory are run
	// totals outside §6's explicit telemetry shape, carried over from the
	// run's Options/Snapshot for a CLI summary's convenience.
	Attempts         int
	FallbacksUsed    int
	Resumed          bool
	TerminalCategory shared.Category
}

// Result is what Run returns: the caller drains Stream for canonical events
// as they arrive, then reads State/Telemetry once the stream closes. Abort
// lets a caller request early termination (same as Signal cancellation).
type Result struct {
	Stream    <-chan shared.Event
	State     *State
	Errors    []*shared.L0Error
	Telemetry *Telemetry
	Abort     func()
}
