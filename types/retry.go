package types

import (
	"time"

	"github.com/l0run/l0/shared"
)

// BackoffStrategy is the backoff shape selector from §4.6.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixedJitter BackoffStrategy = "fixed-jitter"
	BackoffFullJitter  BackoffStrategy = "full-jitter"
)

// RetryReason is what a retryOn set is keyed by — either a Category or a
// ViolationReason, so callers can allow/deny at whichever granularity they
// have in mind ("retry on any NETWORK error" vs "retry on zero_output but
// not drift").
type RetryReason string

// ShouldRetryFunc may only veto a retry the planner already decided on; it
// can never force one that classification/budget would otherwise deny.
type ShouldRetryFunc func(err error, state *State, attempt int, category shared.Category) bool

// CalculateDelayFunc lets a caller fully override backoff computation for a
// given attempt/category, bypassing RetryConfig.Backoff.
type CalculateDelayFunc func(attempt int, category shared.Category, baseDelay, maxDelay time.Duration) time.Duration

// RetryConfig configures the Error Classifier + Retry Planner (§3, §4.6).
type RetryConfig struct {
	// Attempts caps model-class retries (MODEL/CONTENT/PROVIDER-retryable).
	Attempts int

	// MaxRetries caps all retries, network-class included.
	MaxRetries int

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Backoff   BackoffStrategy

	// RetryOn, when non-nil, restricts retrying to the named reasons; any
	// category/reason not in the set halts instead.
	RetryOn map[RetryReason]bool

	// ErrorTypeDelays overrides the computed delay for specific network
	// failure types (e.g. a longer pause after DNS failures).
	ErrorTypeDelays map[shared.FailureType]time.Duration

	CalculateDelay CalculateDelayFunc
	ShouldRetry    ShouldRetryFunc
}

// DefaultRetryConfig mirrors the teacher's Default*Config package-var
// convention (circuit_breaker.go's DefaultCircuitBreakerConfig, etc.).
var DefaultRetryConfig = RetryConfig{
	Attempts:  3,
	MaxRetries: 8,
	BaseDelay: 1 * time.Second,
	MaxDelay:  30 * time.Second,
	Backoff:   BackoffFixedJitter,
}

// TimeoutConfig configures the Stream Wrapper's two deadlines (§4.3).
type TimeoutConfig struct {
	InitialToken time.Duration
	InterToken   time.Duration
}

// CheckIntervals configures how often (in tokens) the Guardrail Engine,
// Drift Detector, and Continuation Manager run their periodic checks. Zero
// or absent disables the corresponding check.
type CheckIntervals struct {
	Guardrails int
	Drift      int
	Checkpoint int
}

// DeduplicationOptions configures the Continuation Manager's prefix-overlap
// search (§4.7).
type DeduplicationOptions struct {
	MinOverlap          int
	MaxOverlap          int
	CaseSensitive       bool
	NormalizeWhitespace bool
}

// DefaultDeduplicationOptions gives the overlap search sane bounds.
var DefaultDeduplicationOptions = DeduplicationOptions{
	MinOverlap: 4,
	MaxOverlap: 2000,
}
