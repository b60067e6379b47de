package types

import "github.com/l0run/l0/shared"

// GuardrailContext is what a guardrail's Check function observes — a
// read-only view assembled by the Guardrail Engine from the live State,
// never the State itself (§4.4).
type GuardrailContext struct {
	Content    string
	Checkpoint string
	Delta      string
	TokenCount int
	Completed  bool
}

// GuardrailCheckFunc returns zero or more violations for the given context.
// May be invoked from a streaming pass (Completed=false) or the
// post-completion pass (Completed=true), gated by Guardrail.Streaming.
type GuardrailCheckFunc func(ctx GuardrailContext) []shared.Violation

// Guardrail is one entry in Options.Guardrails (§3).
type Guardrail struct {
	Name        string
	Description string
	Check       GuardrailCheckFunc

	// Streaming, when true, makes this guardrail participate in the
	// periodic pre-completion pass in addition to the post-completion pass.
	Streaming bool

	// Severity is the default applied to returned violations whose own
	// Severity is empty. Recoverable is not applied to returned violations:
	// each Violation's own Recoverable value is used as the Check func set it.
	Severity    shared.Severity
	Recoverable bool
}

// DriftTypes enumerates the anomaly classes the Drift Detector may report.
type DriftType string

const (
	DriftToneShift      DriftType = "tone_shift"
	DriftMetaCommentary DriftType = "meta_commentary"
	DriftRepetition     DriftType = "repetition"
	DriftEntropySpike   DriftType = "entropy_spike"
)

// DriftResult is what the Drift Detector produces on each periodic check.
type DriftResult struct {
	Detected   bool
	Types      map[DriftType]bool
	Confidence float64
}
