package orchestrator

import (
	"strings"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// GuardrailEngine runs the configured guardrails in their two phases —
// streaming (pre-completion) and post-completion — and aggregates their
// violations per §4.4's severity rules.
type GuardrailEngine struct {
	guardrails       []types.Guardrail
	detectZeroTokens bool
}

// NewGuardrailEngine builds an engine over the configured guardrail list.
func NewGuardrailEngine(guardrails []types.Guardrail, detectZeroTokens bool) *GuardrailEngine {
	return &GuardrailEngine{guardrails: guardrails, detectZeroTokens: detectZeroTokens}
}

// RunStreaming runs only guardrails marked Streaming, against the given
// context (Completed=false). Called every checkIntervals.guardrails tokens.
func (g *GuardrailEngine) RunStreaming(ctx types.GuardrailContext) shared.Aggregate {
	ctx.Completed = false
	var violations []shared.Violation
	for _, gr := range g.guardrails {
		if !gr.Streaming || gr.Check == nil {
			continue
		}
		violations = append(violations, applyDefaults(gr, gr.Check(ctx))...)
	}
	return shared.AggregateViolations(violations)
}

// RunPostCompletion runs every guardrail (regardless of Streaming) against
// the final content, plus synthesizes the zero-output violation when
// configured (§4.4).
func (g *GuardrailEngine) RunPostCompletion(ctx types.GuardrailContext) shared.Aggregate {
	ctx.Completed = true
	var violations []shared.Violation
	for _, gr := range g.guardrails {
		if gr.Check == nil {
			continue
		}
		violations = append(violations, applyDefaults(gr, gr.Check(ctx))...)
	}
	if g.detectZeroTokens && isZeroOutput(ctx) {
		violations = append(violations, shared.Violation{
			Rule:        string(shared.ReasonZeroOutput),
			Message:     "stream completed with no token output",
			Severity:    shared.SeverityError,
			Recoverable: true,
		})
	}
	return shared.AggregateViolations(violations)
}

// isZeroOutput reports tokenCount==0 or whitespace-only content (§4.4).
func isZeroOutput(ctx types.GuardrailContext) bool {
	return ctx.TokenCount == 0 || strings.TrimSpace(ctx.Content) == ""
}

// applyDefaults fills a violation's Rule (from the guardrail's Name) and
// Severity (from the guardrail's Severity) when the check left them empty.
// Values the check populated take precedence; Recoverable is left exactly
// as the check returned it.
func applyDefaults(gr types.Guardrail, violations []shared.Violation) []shared.Violation {
	if len(violations) == 0 {
		return violations
	}
	for i := range violations {
		if violations[i].Rule == "" {
			violations[i].Rule = gr.Name
		}
		if violations[i].Severity == "" {
			violations[i].Severity = gr.Severity
		}
	}
	return violations
}
