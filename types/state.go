// Package types holds the orchestrator-facing configuration and state types:
// Options, the running State, retry/timeout/guardrail configuration, and the
// collaborator interfaces (StreamFactory, Adapter, Interceptor). It plays the
// role the teacher's plandex-server/types package plays for request/response
// shapes — plain data, no business logic.
package types

import (
	"sync"
	"time"

	"github.com/l0run/l0/shared"
)

// State is the single running-state object for one call to the orchestrator.
// Per §3/§5, it is mutated only by the orchestrator task; other readers
// (callbacks, and the caller through Result.State) read it through Snapshot
// or the read accessors, which is why every field is unexported and
// accessed through methods that take the internal lock.
type State struct {
	mu sync.RWMutex

	content    string
	checkpoint string

	tokenCount   int
	firstTokenAt *time.Time
	lastTokenAt  *time.Time
	startedAt    time.Time
	duration     *time.Duration

	modelRetryCount   int
	networkRetryCount int
	fallbackIndex     int

	violations    []shared.Violation
	driftDetected bool
	completed     bool

	networkErrors []shared.ProviderFailure

	resumed    bool
	resumePoint string
	resumeFrom  int
}

// NewState creates a fresh running state, stamping StartedAt.
func NewState() *State {
	return &State{startedAt: time.Now()}
}

// Snapshot is the immutable, frozen view of State exposed to callers once
// the orchestrator reaches a terminal state (or, mid-stream, as a read-only
// peek — taking the lock but never handing out the live pointer).
type Snapshot struct {
	Content           string
	Checkpoint        string
	TokenCount        int
	FirstTokenAt      *time.Time
	LastTokenAt       *time.Time
	StartedAt         time.Time
	Duration          *time.Duration
	ModelRetryCount   int
	NetworkRetryCount int
	FallbackIndex     int
	Violations        []shared.Violation
	DriftDetected     bool
	Completed         bool
	NetworkErrors     []shared.ProviderFailure
	Resumed           bool
	ResumePoint       string
	ResumeFrom        int
}

// Snapshot takes a consistent, deep-ish copy of the live state. Slices are
// copied so a caller mutating the returned Snapshot cannot corrupt the live
// state the orchestrator still owns.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Content:           s.content,
		Checkpoint:        s.checkpoint,
		TokenCount:        s.tokenCount,
		FirstTokenAt:      s.firstTokenAt,
		LastTokenAt:       s.lastTokenAt,
		StartedAt:         s.startedAt,
		Duration:          s.duration,
		ModelRetryCount:   s.modelRetryCount,
		NetworkRetryCount: s.networkRetryCount,
		FallbackIndex:     s.fallbackIndex,
		Violations:        append([]shared.Violation(nil), s.violations...),
		DriftDetected:     s.driftDetected,
		Completed:         s.completed,
		NetworkErrors:     append([]shared.ProviderFailure(nil), s.networkErrors...),
		Resumed:           s.resumed,
		ResumePoint:       s.resumePoint,
		ResumeFrom:        s.resumeFrom,
	}
}

// ErrorContext extracts the shared.ErrorContext an L0Error should carry,
// under lock, at the instant a halt is decided.
func (s *State) ErrorContext() shared.ErrorContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return shared.ErrorContext{
		Checkpoint:        s.checkpoint,
		TokenCount:        s.tokenCount,
		ModelRetryCount:   s.modelRetryCount,
		NetworkRetryCount: s.networkRetryCount,
		FallbackIndex:     s.fallbackIndex,
	}
}

// --- mutation methods; all orchestrator-only. ---

// AppendToken appends text to Content and bumps TokenCount. Invariant 1
// (§3): tokenCount is monotone non-decreasing within an attempt, so this
// never decrements.
func (s *State) AppendToken(value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.firstTokenAt == nil {
		s.firstTokenAt = &now
	}
	s.lastTokenAt = &now
	s.content += value
	s.tokenCount++
}

// AppendContent appends non-token content-bearing text (messages, data
// serialized to string) without counting it as a token.
func (s *State) AppendContent(value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content += value
}

// Content returns the current accumulated content under lock.
func (s *State) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

// TokenCount returns the current token count under lock.
func (s *State) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenCount
}

// Checkpoint returns the last checkpoint under lock.
func (s *State) Checkpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint
}

// SetCheckpoint sets checkpoint = content. Invariant 2 (§3) requires
// checkpoint to be a prefix of content at every read; since this always
// assigns the current content verbatim, that invariant holds by construction.
func (s *State) SetCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = s.content
	return s.checkpoint
}

// ResetForFreshRetry clears the per-attempt counters a cold (non-continuation)
// retry must reset, and optionally clears Content when continuation is
// disabled (content is preserved only when continuation is enabled, per
// §4.1's "fresh retry" rule).
func (s *State) ResetForFreshRetry(preserveContent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCount = 0
	s.firstTokenAt = nil
	s.lastTokenAt = nil
	if !preserveContent {
		s.content = ""
		s.checkpoint = ""
	}
}

// IncrementModelRetry bumps the model-class retry counter.
func (s *State) IncrementModelRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelRetryCount++
	return s.modelRetryCount
}

// ResetModelRetry zeroes the model-class retry counter (on fallback switch).
func (s *State) ResetModelRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelRetryCount = 0
}

// ModelRetryCount reads the counter under lock.
func (s *State) ModelRetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelRetryCount
}

// IncrementNetworkRetry bumps the network-class retry counter. Invariant 3
// (§3): this must never touch modelRetryCount, and it doesn't.
func (s *State) IncrementNetworkRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRetryCount++
	return s.networkRetryCount
}

// NetworkRetryCount reads the counter under lock.
func (s *State) NetworkRetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkRetryCount
}

// AdvanceFallback bumps FallbackIndex. Invariant 4 (§3): monotone
// non-decreasing — this only ever increments.
func (s *State) AdvanceFallback() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackIndex++
	return s.fallbackIndex
}

// FallbackIndex reads the counter under lock.
func (s *State) FallbackIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallbackIndex
}

// AddViolations appends violations observed from a guardrail pass.
func (s *State) AddViolations(vs []shared.Violation) {
	if len(vs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, vs...)
}

// HasFatalViolation reports whether any recorded violation is Fatal.
// Invariant 6 (§3): Completed must never be set true while this is true.
func (s *State) HasFatalViolation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.violations {
		if v.Severity == shared.SeverityFatal {
			return true
		}
	}
	return false
}

// SetDriftDetected marks drift found; never unset once true within a run.
func (s *State) SetDriftDetected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driftDetected = true
}

// AddNetworkError records a classified network-class failure for telemetry.
func (s *State) AddNetworkError(pf shared.ProviderFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkErrors = append(s.networkErrors, pf)
}

// MarkResumed records that this attempt is a continuation resume.
func (s *State) MarkResumed(checkpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = true
	s.resumePoint = checkpoint
}

// SetResumeFrom records the character offset at which new content begins
// after continuation dedup.
func (s *State) SetResumeFrom(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeFrom = offset
}

// Complete marks the run as successfully terminated. Per invariant 5 (§3),
// callers must not emit further token/message/data events after this.
func (s *State) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	d := time.Since(s.startedAt)
	s.duration = &d
}

// Completed reads the flag under lock.
func (s *State) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}
