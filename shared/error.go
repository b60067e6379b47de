package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// Code is the closed set of error codes the orchestrator may surface,
// per §6's External Interfaces.
type Code string

const (
	CodeNetworkError             Code = "NETWORK_ERROR"
	CodeInitialTokenTimeout       Code = "INITIAL_TOKEN_TIMEOUT"
	CodeInterTokenTimeout         Code = "INTER_TOKEN_TIMEOUT"
	CodeGuardrailViolation        Code = "GUARDRAIL_VIOLATION"
	CodeFatalGuardrailViolation   Code = "FATAL_GUARDRAIL_VIOLATION"
	CodeDriftDetected             Code = "DRIFT_DETECTED"
	CodeZeroOutput                Code = "ZERO_OUTPUT"
	CodeStreamAborted             Code = "STREAM_ABORTED"
	CodeAllStreamsExhausted       Code = "ALL_STREAMS_EXHAUSTED"
	CodeInvalidStream             Code = "INVALID_STREAM"
	CodeAdapterNotFound           Code = "ADAPTER_NOT_FOUND"
	CodeFeatureNotEnabled         Code = "FEATURE_NOT_ENABLED"
	CodeInternal                  Code = "INTERNAL_ERROR"
)

// ErrorContext carries the running-state snapshot every L0Error travels
// with, so a caller that halts can still recover partial output.
type ErrorContext struct {
	Checkpoint        string `json:"checkpoint,omitempty"`
	TokenCount        int    `json:"tokenCount,omitempty"`
	ModelRetryCount   int    `json:"modelRetryCount,omitempty"`
	NetworkRetryCount int    `json:"networkRetryCount,omitempty"`
	FallbackIndex     int    `json:"fallbackIndex,omitempty"`
}

// L0Error is the tagged error type every terminal halt surfaces as. It is a
// plain struct rather than an inheritance hierarchy (per the Design Notes'
// re-architecture guidance for "Error inheritance").
type L0Error struct {
	ErrCode   Code         `json:"code"`
	Category  Category     `json:"category"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Context   ErrorContext `json:"context"`

	// Wrapped is the underlying Go error, if this L0Error was constructed
	// from one (e.g. a transport error). Excluded from JSON since Go errors
	// don't generally marshal meaningfully.
	Wrapped error `json:"-"`
}

func (e *L0Error) Error() string {
	return fmt.Sprintf("l0: %s (%s): %s", e.ErrCode, e.Category, e.Message)
}

func (e *L0Error) Unwrap() error { return e.Wrapped }

// HasCheckpoint reports whether a non-empty checkpoint is attached.
func (e *L0Error) HasCheckpoint() bool { return e.Context.Checkpoint != "" }

// GetCheckpoint returns the attached checkpoint, or "" if none.
func (e *L0Error) GetCheckpoint() string { return e.Context.Checkpoint }

// ToDetailedString renders a multi-line, human-readable dump suitable for
// logs — code, category, message, then the context fields.
func (e *L0Error) ToDetailedString() string {
	return fmt.Sprintf(
		"L0Error{code=%s category=%s message=%q tokenCount=%d modelRetryCount=%d networkRetryCount=%d fallbackIndex=%d hasCheckpoint=%v}",
		e.ErrCode, e.Category, e.Message, e.Context.TokenCount, e.Context.ModelRetryCount,
		e.Context.NetworkRetryCount, e.Context.FallbackIndex, e.HasCheckpoint(),
	)
}

// ToJSON marshals the error (sans the wrapped Go error) to JSON bytes.
func (e *L0Error) ToJSON() ([]byte, error) { return json.Marshal(e) }

// NewL0Error constructs an L0Error, stamping the timestamp at call time.
func NewL0Error(code Code, category Category, message string, ctx ErrorContext, wrapped error) *L0Error {
	return &L0Error{
		ErrCode:   code,
		Category:  category,
		Message:   message,
		Timestamp: time.Now(),
		Context:   ctx,
		Wrapped:   wrapped,
	}
}

// IsL0Error is the tagged-variant discriminator replacing the teacher
// language's `instanceof`/`isL0Error` idiom.
func IsL0Error(err error) (*L0Error, bool) {
	le, ok := err.(*L0Error)
	return le, ok
}

// IsNetworkError reports whether err is an L0Error of NETWORK category.
func IsNetworkError(err error) bool {
	le, ok := IsL0Error(err)
	return ok && le.Category == CategoryNetwork
}

// codeForCategory picks a reasonable default error code for a bare category
// when no more specific code applies — used by halt paths that classify
// generically (e.g. exhausted network retries without a specific timeout).
func codeForCategory(cat Category) Code {
	switch cat {
	case CategoryNetwork:
		return CodeNetworkError
	case CategoryFatal:
		return CodeInternal
	default:
		return CodeInternal
	}
}

// FromProviderFailure converts a classified ProviderFailure plus a running
// state snapshot into the terminal L0Error the orchestrator surfaces on
// halt. cause is wrapped for callers that want errors.As/errors.Unwrap.
func FromProviderFailure(pf ProviderFailure, ctx ErrorContext, cause error) *L0Error {
	code := codeForCategory(pf.Category)
	switch pf.Type {
	case FailureContextTooLong, FailureAuthInvalid, FailureSSLFailure:
		code = CodeInternal
	case FailureAdapterMissing:
		code = CodeAdapterNotFound
	}
	return NewL0Error(code, pf.Category, pf.Message, ctx, cause)
}
