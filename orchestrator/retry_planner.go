package orchestrator

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// Decision is what RetryPlanner.Plan resolves to.
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionFallback Decision = "fallback"
	DecisionHalt     Decision = "halt"
)

// Action is the planner's verdict for one failed attempt (§4.6).
type Action struct {
	Decision Decision
	Delay    time.Duration
	Category shared.Category

	// HaltCode overrides the code a caller would otherwise derive from the
	// ProviderFailure via shared.FromProviderFailure — used for the two
	// halt reasons the classifier alone can't express: retry budget or
	// fallback list exhaustion.
	HaltCode shared.Code
}

// RetryPlanner implements the decision function plan(category, state,
// retryCfg, err) -> Action from §4.6. It holds no state of its own; every
// call is a pure function of its arguments, so the same planner instance is
// safe to share across concurrent runs.
type RetryPlanner struct{}

// NewRetryPlanner constructs a planner. There is nothing to configure: every
// input it needs arrives per-call, mirroring the stateless classify+decide
// split the teacher's withStreamingRetries keeps separate from the loop that
// drives it.
func NewRetryPlanner() *RetryPlanner { return &RetryPlanner{} }

// Plan decides retry vs. fallback vs. halt for one failure. fallbackCount is
// len(options.FallbackStreams); reason optionally names a more specific
// RetryReason than the bare category (e.g. "zero_output", "drift") for the
// retryOn allow-list check. err is passed through to the ShouldRetry hook
// unmodified.
func (p *RetryPlanner) Plan(
	pf shared.ProviderFailure,
	reason types.RetryReason,
	st *types.State,
	cfg types.RetryConfig,
	fallbackCount int,
	err error,
) Action {
	switch pf.Category {
	case shared.CategoryFatal, shared.CategoryInternal:
		return p.finalize(Action{Decision: DecisionHalt, Category: pf.Category}, pf, reason, st, cfg, err, 0)
	}

	networkRetries := st.NetworkRetryCount()
	modelRetries := st.ModelRetryCount()
	fallbackIndex := st.FallbackIndex()

	switch pf.Category {
	case shared.CategoryNetwork, shared.CategoryTransient:
		attempt := networkRetries
		if networkRetries+modelRetries+1 > cfg.MaxRetries {
			return p.finalize(Action{Decision: DecisionHalt, Category: pf.Category, HaltCode: shared.CodeNetworkError}, pf, reason, st, cfg, err, attempt)
		}
		delay := p.delayFor(pf, cfg, attempt)
		return p.finalize(Action{Decision: DecisionRetry, Delay: delay, Category: pf.Category}, pf, reason, st, cfg, err, attempt)

	default: // CategoryModel, CategoryContent, CategoryProvider-retryable
		attempt := modelRetries
		if modelRetries+1 <= cfg.Attempts {
			delay := p.delayFor(pf, cfg, attempt)
			return p.finalize(Action{Decision: DecisionRetry, Delay: delay, Category: pf.Category}, pf, reason, st, cfg, err, attempt)
		}
		if fallbackIndex < fallbackCount {
			return p.finalize(Action{Decision: DecisionFallback, Category: pf.Category}, pf, reason, st, cfg, err, attempt)
		}
		return p.finalize(Action{Decision: DecisionHalt, Category: pf.Category, HaltCode: shared.CodeAllStreamsExhausted}, pf, reason, st, cfg, err, attempt)
	}
}

// finalize applies the retryOn allow-list and the ShouldRetry veto, both of
// which may only downgrade an action to halt, never upgrade one (§4.6).
func (p *RetryPlanner) finalize(a Action, pf shared.ProviderFailure, reason types.RetryReason, st *types.State, cfg types.RetryConfig, err error, attempt int) Action {
	if a.Decision == DecisionHalt {
		return a
	}
	if cfg.RetryOn != nil {
		allowed := cfg.RetryOn[types.RetryReason(pf.Category)]
		if !allowed && reason != "" {
			allowed = cfg.RetryOn[reason]
		}
		if !allowed {
			a.Decision = DecisionHalt
			a.HaltCode = ""
			return a
		}
	}
	if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err, st, attempt, pf.Category) {
		a.Decision = DecisionHalt
		a.HaltCode = ""
	}
	return a
}

// delayFor computes the backoff delay for one retry, honoring a per-type
// override before falling back to the configured strategy. TRANSIENT always
// uses exponential backoff regardless of cfg.Backoff, per §4.6.
func (p *RetryPlanner) delayFor(pf shared.ProviderFailure, cfg types.RetryConfig, attempt int) time.Duration {
	if cfg.ErrorTypeDelays != nil {
		if d, ok := cfg.ErrorTypeDelays[pf.Type]; ok {
			return d
		}
	}
	if cfg.CalculateDelay != nil {
		return cfg.CalculateDelay(attempt, pf.Category, cfg.BaseDelay, cfg.MaxDelay)
	}
	strategy := cfg.Backoff
	if pf.Category == shared.CategoryTransient {
		strategy = types.BackoffExponential
	}
	return computeDelay(attempt, cfg.BaseDelay, cfg.MaxDelay, strategy)
}

// computeDelay implements the five backoff shapes from §4.6 exactly.
func computeDelay(attempt int, baseDelay, maxDelay time.Duration, strategy types.BackoffStrategy) time.Duration {
	var d time.Duration
	switch strategy {
	case types.BackoffFixed:
		d = baseDelay
	case types.BackoffLinear:
		d = baseDelay * time.Duration(attempt+1)
	case types.BackoffExponential:
		d = baseDelay * time.Duration(pow2(attempt))
	case types.BackoffFixedJitter:
		half := float64(baseDelay) / 2
		jitter := (rand.Float64()*2 - 1) * half
		d = baseDelay + time.Duration(jitter)
	case types.BackoffFullJitter:
		ceiling := baseDelay * time.Duration(pow2(attempt))
		d = time.Duration(rand.Float64() * float64(ceiling))
	default:
		d = baseDelay
	}
	if d < 0 {
		d = 0
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

func pow2(attempt int) int64 {
	if attempt < 0 {
		return 1
	}
	if attempt > 62 {
		attempt = 62
	}
	return int64(1) << uint(attempt)
}

// backOffAdapter satisfies backoff.BackOff so callers outside the core loop
// (the CLI demo's manual-retry example, custom Interceptors) can drive a
// RetryPlanner-consistent delay sequence through cenkalti/backoff's own
// Retry()/WithContext() helpers instead of calling computeDelay by hand.
type backOffAdapter struct {
	cfg      types.RetryConfig
	category shared.Category
	attempt  int
}

// NewBackOff returns a backoff.BackOff that reproduces the delay sequence
// Plan would compute for retries of the given category.
func NewBackOff(cfg types.RetryConfig, category shared.Category) backoff.BackOff {
	return &backOffAdapter{cfg: cfg, category: category}
}

func (b *backOffAdapter) NextBackOff() time.Duration {
	strategy := b.cfg.Backoff
	if b.category == shared.CategoryTransient {
		strategy = types.BackoffExponential
	}
	d := computeDelay(b.attempt, b.cfg.BaseDelay, b.cfg.MaxDelay, strategy)
	b.attempt++
	return d
}

func (b *backOffAdapter) Reset() { b.attempt = 0 }
