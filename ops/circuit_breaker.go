// Package ops holds the operational collaborators the orchestrator leans
// on around the core retry loop: per-provider circuit breaking, the dead
// letter queue for terminal failures, graceful degradation of check
// cadence under sustained failure, health-ranked fallback ordering, and
// debug-session stream recovery tracking.
package ops

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/l0run/l0/shared"
)

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================
//
// Per-provider circuit breaking backed by sony/gobreaker (§4.6, "circuit
// breaker state per provider/model combination"). Each provider gets its own
// gobreaker.CircuitBreaker; RecordSuccess/RecordFailure drive it through
// Execute so gobreaker's own state machine (closed/open/half-open) owns the
// transitions, while CircuitBreaker layers on the failure-type breakdown and
// sliding-window reporting the orchestrator's telemetry wants.
//
// =============================================================================

// CircuitState mirrors gobreaker.State as a domain-local string, so callers
// never need to import gobreaker themselves.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

func fromGobreakerState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// errRecordedFailure is the sentinel Execute sees for a failure that already
// happened upstream (the stream attempt itself, not the Execute call) — its
// text never surfaces, only its occurrence drives gobreaker's counts.
var errRecordedFailure = errors.New("circuit breaker: recorded failure")

// ProviderCircuit is a point-in-time, copied-out view of one provider's
// circuit (never the live breaker).
type ProviderCircuit struct {
	Provider string
	State    CircuitState

	ConsecutiveFailures int
	TotalFailures        int
	TotalRequests         int
	TotalSuccesses        int

	LastFailure *time.Time
	LastSuccess *time.Time

	RecentFailures []CircuitFailure
}

// CircuitFailure records one failure for the sliding-window breakdown.
type CircuitFailure struct {
	Timestamp    time.Time
	FailureType  shared.FailureType
	ErrorMessage string
	HTTPCode     int
}

// CircuitBreakerConfig configures both the gobreaker.Settings translation
// and the failure-type exclusion list the teacher's original hand-rolled
// breaker supported.
type CircuitBreakerConfig struct {
	FailureThreshold      int
	SuccessThreshold      int
	OpenDuration          time.Duration
	HalfOpenMaxRequests   uint32
	FailureWindowDuration time.Duration

	// ExcludedFailureTypes never count toward tripping the breaker — a
	// content-policy or auth failure reflects the request, not provider
	// instability.
	ExcludedFailureTypes []shared.FailureType
}

// DefaultCircuitBreakerConfig mirrors the teacher's Default*Config convention.
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	FailureThreshold:      5,
	SuccessThreshold:      2,
	OpenDuration:          30 * time.Second,
	HalfOpenMaxRequests:   3,
	FailureWindowDuration: 60 * time.Second,
	ExcludedFailureTypes: []shared.FailureType{
		shared.FailureContextTooLong,
		shared.FailureAuthInvalid,
		shared.FailureGuardrailFatal,
	},
}

type providerEntry struct {
	breaker *gobreaker.CircuitBreaker

	mu             sync.Mutex
	totalRequests  int
	totalFailures  int
	totalSuccesses int
	consecutive    int
	lastFailure    *time.Time
	lastSuccess    *time.Time
	recentFailures []CircuitFailure
}

// CircuitBreaker tracks provider health and prevents cascading failures.
type CircuitBreaker struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	config    CircuitBreakerConfig
}

// NewCircuitBreaker creates a new circuit breaker with the given
// configuration (nil uses DefaultCircuitBreakerConfig).
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = &DefaultCircuitBreakerConfig
	}
	return &CircuitBreaker{
		providers: make(map[string]*providerEntry),
		config:    *config,
	}
}

func (cb *CircuitBreaker) newEntry(provider string) *providerEntry {
	cfg := cb.config
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Interval:    cfg.FailureWindowDuration,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: %s -> %s", name, fromGobreakerState(from), fromGobreakerState(to))
		},
	}
	return &providerEntry{breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (cb *CircuitBreaker) entry(provider string) *providerEntry {
	cb.mu.RLock()
	e, ok := cb.providers[provider]
	cb.mu.RUnlock()
	if ok {
		return e
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if e, ok := cb.providers[provider]; ok {
		return e
	}
	e = cb.newEntry(provider)
	cb.providers[provider] = e
	return e
}

// IsOpen reports whether requests to provider should currently be rejected.
func (cb *CircuitBreaker) IsOpen(provider string) bool {
	cb.mu.RLock()
	e, ok := cb.providers[provider]
	cb.mu.RUnlock()
	if !ok {
		return false
	}
	return e.breaker.State() == gobreaker.StateOpen
}

// RecordSuccess records a successful request, driving the breaker toward
// closed.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	e := cb.entry(provider)
	_, _ = e.breaker.Execute(func() (any, error) { return nil, nil })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
	e.totalSuccesses++
	e.consecutive = 0
	now := time.Now()
	e.lastSuccess = &now
}

// RecordFailure records a failed request, driving the breaker toward open
// once its threshold is reached. Failures of an ExcludedFailureTypes type
// are reported but never passed to the underlying breaker.
func (cb *CircuitBreaker) RecordFailure(provider string, failure *shared.ProviderFailure) {
	if failure != nil && cb.isExcludedFailure(failure.Type) {
		log.Printf("[CircuitBreaker] %s: excluding failure type %s from circuit tracking", provider, failure.Type)
		return
	}

	e := cb.entry(provider)
	_, _ = e.breaker.Execute(func() (any, error) { return nil, errRecordedFailure })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
	e.totalFailures++
	e.consecutive++
	now := time.Now()
	e.lastFailure = &now

	if failure != nil {
		e.recentFailures = append(e.recentFailures, CircuitFailure{
			Timestamp:    now,
			FailureType:  failure.Type,
			ErrorMessage: failure.Message,
			HTTPCode:     failure.HTTPCode,
		})
	}
	cutoff := now.Add(-cb.config.FailureWindowDuration)
	kept := e.recentFailures[:0:0]
	for _, f := range e.recentFailures {
		if f.Timestamp.After(cutoff) {
			kept = append(kept, f)
		}
	}
	e.recentFailures = kept
}

// Reset resets a provider's circuit to closed, discarding all counters.
func (cb *CircuitBreaker) Reset(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if _, ok := cb.providers[provider]; !ok {
		return
	}
	cb.providers[provider] = cb.newEntry(provider)
	log.Printf("[CircuitBreaker] %s: manually reset to closed", provider)
}

// ResetAll resets every tracked provider.
func (cb *CircuitBreaker) ResetAll() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.providers = make(map[string]*providerEntry)
	log.Printf("[CircuitBreaker] all circuits reset")
}

// GetState returns a copied snapshot of a provider's circuit, or nil if
// nothing has been recorded for it yet.
func (cb *CircuitBreaker) GetState(provider string) *ProviderCircuit {
	cb.mu.RLock()
	e, ok := cb.providers[provider]
	cb.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return &ProviderCircuit{
		Provider:            provider,
		State:               fromGobreakerState(e.breaker.State()),
		ConsecutiveFailures: e.consecutive,
		TotalFailures:       e.totalFailures,
		TotalRequests:       e.totalRequests,
		TotalSuccesses:      e.totalSuccesses,
		LastFailure:         e.lastFailure,
		LastSuccess:         e.lastSuccess,
		RecentFailures:      append([]CircuitFailure(nil), e.recentFailures...),
	}
}

// GetAllStates returns a copied snapshot for every tracked provider.
func (cb *CircuitBreaker) GetAllStates() map[string]*ProviderCircuit {
	cb.mu.RLock()
	providers := make([]string, 0, len(cb.providers))
	for p := range cb.providers {
		providers = append(providers, p)
	}
	cb.mu.RUnlock()

	result := make(map[string]*ProviderCircuit, len(providers))
	for _, p := range providers {
		result[p] = cb.GetState(p)
	}
	return result
}

func (cb *CircuitBreaker) isExcludedFailure(failureType shared.FailureType) bool {
	for _, excluded := range cb.config.ExcludedFailureTypes {
		if excluded == failureType {
			return true
		}
	}
	return false
}

// =============================================================================
// METRICS AND REPORTING
// =============================================================================

// CircuitBreakerMetrics provides aggregate metrics across all providers.
type CircuitBreakerMetrics struct {
	TotalProviders   int
	OpenCircuits     int
	HalfOpenCircuits int
	ClosedCircuits   int
	Providers        map[string]ProviderMetrics
}

// ProviderMetrics provides per-provider metrics.
type ProviderMetrics struct {
	Provider            string
	State               CircuitState
	TotalRequests       int
	TotalFailures       int
	TotalSuccesses      int
	FailureRate         float64
	ConsecutiveFailures int
	RecentFailureCount  int
}

// GetMetrics returns aggregate circuit breaker metrics.
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	states := cb.GetAllStates()

	metrics := CircuitBreakerMetrics{
		TotalProviders: len(states),
		Providers:      make(map[string]ProviderMetrics, len(states)),
	}

	for provider, circuit := range states {
		switch circuit.State {
		case CircuitOpen:
			metrics.OpenCircuits++
		case CircuitHalfOpen:
			metrics.HalfOpenCircuits++
		case CircuitClosed:
			metrics.ClosedCircuits++
		}

		var failureRate float64
		if circuit.TotalRequests > 0 {
			failureRate = float64(circuit.TotalFailures) / float64(circuit.TotalRequests)
		}

		metrics.Providers[provider] = ProviderMetrics{
			Provider:            provider,
			State:               circuit.State,
			TotalRequests:       circuit.TotalRequests,
			TotalFailures:       circuit.TotalFailures,
			TotalSuccesses:      circuit.TotalSuccesses,
			FailureRate:         failureRate,
			ConsecutiveFailures: circuit.ConsecutiveFailures,
			RecentFailureCount:  len(circuit.RecentFailures),
		}
	}

	return metrics
}
