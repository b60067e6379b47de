package shared

// Severity orders guardrail violations. The zero value ("") is not one of
// the named severities; it ranks and aggregates like Warning, so a
// forgotten field never accidentally reads as Fatal.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// rank gives severities a total order for aggregation (warning < error < fatal).
func (s Severity) rank() int {
	switch s {
	case SeverityFatal:
		return 2
	case SeverityError:
		return 1
	default:
		return 0
	}
}

// Less reports whether s is strictly less severe than other.
func (s Severity) Less(other Severity) bool { return s.rank() < other.rank() }

// Violation is what a guardrail check returns. Position is a byte offset
// into the content that was checked, when the guardrail can localize it.
type Violation struct {
	Rule        string   `json:"rule"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Position    *int     `json:"position,omitempty"`
}

// ViolationReason names the synthetic violations the orchestrator itself
// manufactures (as opposed to ones a user guardrail returned).
type ViolationReason string

const (
	ReasonZeroOutput ViolationReason = "zero_output"
	ReasonDrift      ViolationReason = "drift"
)

// Aggregate summarizes a batch of violations from a single guardrail pass,
// per the severity-aggregation rules in the Guardrail Engine contract.
type Aggregate struct {
	Violations  []Violation
	ShouldHalt  bool
	ShouldRetry bool
	Passed      bool
}

// AggregateViolations computes shouldHalt / shouldRetry / passed over a batch of
// violations gathered from every guardrail that ran in one pass.
func AggregateViolations(violations []Violation) Aggregate {
	agg := Aggregate{Violations: violations, Passed: true}
	for _, v := range violations {
		switch v.Severity {
		case SeverityFatal:
			agg.ShouldHalt = true
			agg.Passed = false
			if v.Recoverable {
				agg.ShouldRetry = true
			}
		case SeverityError:
			agg.ShouldRetry = true
			agg.Passed = false
		}
	}
	return agg
}
