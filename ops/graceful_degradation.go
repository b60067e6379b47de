package ops

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// =============================================================================
// GRACEFUL DEGRADATION MANAGER
// =============================================================================
//
// The degradation manager widens guardrail/drift check intervals and
// lengthens timeouts as a provider's failure rate climbs (§4.9, "graceful
// degradation under sustained failure: widen check intervals, increase
// timeouts, or disable non-essential checks"). It never changes retry
// counts or model selection on its own — those remain the Retry Planner's
// decision — but its RequestModifications output is advisory input the
// orchestrator can fold into its next attempt's Options.
//
// =============================================================================

// DegradationLevel is the current degradation level.
type DegradationLevel string

const (
	DegradationNone     DegradationLevel = "none"
	DegradationLight    DegradationLevel = "light"
	DegradationModerate DegradationLevel = "moderate"
	DegradationHeavy    DegradationLevel = "heavy"
	DegradationCritical DegradationLevel = "critical"
)

// ActiveDegradation tracks one active degradation, global or per-provider.
type ActiveDegradation struct {
	Id          string
	Level       DegradationLevel
	Reason      string
	Provider    string
	StartedAt   time.Time
	ExpiresAt   *time.Time
	AutoRecover bool
}

// DegradationConfig configures degradation thresholds and durations.
type DegradationConfig struct {
	LightThreshold    int
	ModerateThreshold int
	HeavyThreshold    int
	CriticalThreshold int

	MinDegradationDuration time.Duration
	MaxDegradationDuration time.Duration

	DisableableChecks []string
}

// DefaultDegradationConfig mirrors the teacher's Default*Config convention.
var DefaultDegradationConfig = DegradationConfig{
	LightThreshold:         10,
	ModerateThreshold:      25,
	HeavyThreshold:         50,
	CriticalThreshold:      75,
	MinDegradationDuration: 1 * time.Minute,
	MaxDegradationDuration: 30 * time.Minute,
	DisableableChecks:      []string{"drift", "checkpoint"},
}

// DegradationStrategy is how the orchestrator should behave at a given level.
type DegradationStrategy struct {
	Level DegradationLevel

	CheckIntervalMultiplier float64
	TimeoutMultiplier       float64
	DisabledChecks          []string

	ReduceRetries bool
	MaxRetries    int
}

// DefaultDegradationStrategies gives each level a concrete strategy.
var DefaultDegradationStrategies = map[DegradationLevel]DegradationStrategy{
	DegradationNone: {Level: DegradationNone},
	DegradationLight: {
		Level: DegradationLight, CheckIntervalMultiplier: 1.5, TimeoutMultiplier: 1.5,
	},
	DegradationModerate: {
		Level: DegradationModerate, CheckIntervalMultiplier: 2.0, TimeoutMultiplier: 2.0,
		DisabledChecks: []string{"drift"},
	},
	DegradationHeavy: {
		Level: DegradationHeavy, CheckIntervalMultiplier: 4.0, TimeoutMultiplier: 3.0,
		DisabledChecks: []string{"drift", "checkpoint"}, ReduceRetries: true, MaxRetries: 2,
	},
	DegradationCritical: {
		Level: DegradationCritical, CheckIntervalMultiplier: 8.0, TimeoutMultiplier: 5.0,
		DisabledChecks: []string{"drift", "checkpoint"}, ReduceRetries: true, MaxRetries: 1,
	},
}

// DegradationManager tracks and applies graceful degradation.
type DegradationManager struct {
	mu sync.RWMutex

	globalLevel    DegradationLevel
	providerLevels map[string]DegradationLevel

	config             DegradationConfig
	activeDegradations []ActiveDegradation

	onDegradationChange func(level DegradationLevel, reason string)
}

// NewDegradationManager creates a degradation manager (nil uses
// DefaultDegradationConfig).
func NewDegradationManager(config *DegradationConfig) *DegradationManager {
	if config == nil {
		config = &DefaultDegradationConfig
	}
	return &DegradationManager{
		globalLevel:    DegradationNone,
		providerLevels: make(map[string]DegradationLevel),
		config:         *config,
	}
}

// SetDegradationChangeCallback sets a callback invoked on every level change.
func (m *DegradationManager) SetDegradationChangeCallback(callback func(level DegradationLevel, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDegradationChange = callback
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *DegradationManager) GetGlobalLevel() DegradationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalLevel
}

// GetProviderLevel returns the degradation level explicitly set for
// provider, or the global level if none was set.
func (m *DegradationManager) GetProviderLevel(provider string) DegradationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if level, exists := m.providerLevels[provider]; exists {
		return level
	}
	return m.globalLevel
}

func (m *DegradationManager) GetEffectiveLevel(provider string) DegradationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	maxLevel := m.globalLevel
	if providerLevel, exists := m.providerLevels[provider]; exists {
		if m.levelValue(providerLevel) > m.levelValue(maxLevel) {
			maxLevel = providerLevel
		}
	}
	return maxLevel
}

// GetStrategy returns the strategy for the effective level of provider.
func (m *DegradationManager) GetStrategy(provider string) DegradationStrategy {
	level := m.GetEffectiveLevel(provider)
	if strategy, exists := DefaultDegradationStrategies[level]; exists {
		return strategy
	}
	return DefaultDegradationStrategies[DegradationNone]
}

// IsCheckEnabled reports whether a named check (e.g. "drift", "checkpoint")
// is still enabled at provider's current effective degradation level.
func (m *DegradationManager) IsCheckEnabled(provider, check string) bool {
	strategy := m.GetStrategy(provider)
	for _, disabled := range strategy.DisabledChecks {
		if disabled == check {
			return false
		}
	}
	return true
}

func (m *DegradationManager) GetActiveDegradations() []ActiveDegradation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ActiveDegradation, len(m.activeDegradations))
	copy(result, m.activeDegradations)
	return result
}

// =============================================================================
// TRIGGERS
// =============================================================================

// TriggerDegradation activates a degradation, global (provider == "") or
// scoped to one provider.
func (m *DegradationManager) TriggerDegradation(level DegradationLevel, reason, provider string, duration time.Duration) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := "deg_" + uuid.NewString()
	now := time.Now()
	var expiresAt *time.Time
	if duration > 0 {
		exp := now.Add(duration)
		expiresAt = &exp
	}

	degradation := ActiveDegradation{
		Id: id, Level: level, Reason: reason, Provider: provider,
		StartedAt: now, ExpiresAt: expiresAt, AutoRecover: duration > 0,
	}
	m.activeDegradations = append(m.activeDegradations, degradation)

	if provider != "" {
		m.providerLevels[provider] = level
	} else {
		m.globalLevel = level
	}

	log.Printf("[degradation] triggered level=%s provider=%s reason=%s duration=%v", level, provider, reason, duration)

	if m.onDegradationChange != nil {
		go m.onDegradationChange(level, reason)
	}
	return id
}

// TriggerFromState derives an error-rate percentage straight from this run's
// own attempt/error counters — snap.NetworkRetryCount, snap.ModelRetryCount,
// and the length of snap.NetworkErrors — rather than taking a pre-computed
// percentage from an external rolling window. A single run's own history is
// what the orchestrator actually has on hand at the point it calls this, and
// it lets degradation react to a run that is itself failing repeatedly even
// before any cross-run health signal would trip.
func (m *DegradationManager) TriggerFromState(failure *shared.ProviderFailure, snap types.Snapshot) {
	attempts := snap.NetworkRetryCount + snap.ModelRetryCount + 1
	errorCount := len(snap.NetworkErrors)
	if failure != nil && errorCount == 0 {
		errorCount = 1
	}
	errorRatePct := errorCount * 100 / attempts

	var level DegradationLevel
	var duration time.Duration

	switch {
	case errorRatePct >= m.config.CriticalThreshold:
		level, duration = DegradationCritical, m.config.MaxDegradationDuration
	case errorRatePct >= m.config.HeavyThreshold:
		level, duration = DegradationHeavy, 15*time.Minute
	case errorRatePct >= m.config.ModerateThreshold:
		level, duration = DegradationModerate, 10*time.Minute
	case errorRatePct >= m.config.LightThreshold:
		level, duration = DegradationLight, 5*time.Minute
	default:
		return
	}

	reason := "automatic: "
	provider := ""
	if failure != nil {
		reason += string(failure.Type)
		provider = failure.Provider
	} else {
		reason += "high error rate"
	}

	m.TriggerDegradation(level, reason, provider, duration)
}

func (m *DegradationManager) RecoverDegradation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed *ActiveDegradation
	kept := make([]ActiveDegradation, 0, len(m.activeDegradations))
	for i := range m.activeDegradations {
		if m.activeDegradations[i].Id == id {
			removed = &m.activeDegradations[i]
		} else {
			kept = append(kept, m.activeDegradations[i])
		}
	}
	m.activeDegradations = kept
	if removed == nil {
		return
	}
	m.recalculateLevelsLocked()
	log.Printf("[degradation] recovered id=%s level=%s provider=%s", id, removed.Level, removed.Provider)
}

func (m *DegradationManager) RecoverProvider(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]ActiveDegradation, 0, len(m.activeDegradations))
	for i := range m.activeDegradations {
		if m.activeDegradations[i].Provider != provider {
			kept = append(kept, m.activeDegradations[i])
		}
	}
	m.activeDegradations = kept
	delete(m.providerLevels, provider)
	log.Printf("[degradation] recovered provider=%s", provider)
}

func (m *DegradationManager) RecoverAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeDegradations = nil
	m.globalLevel = DegradationNone
	m.providerLevels = make(map[string]DegradationLevel)

	log.Printf("[degradation] recovered all")
	if m.onDegradationChange != nil {
		go m.onDegradationChange(DegradationNone, "manual recovery")
	}
}

// =============================================================================
// ORCHESTRATOR-FACING MODIFICATIONS
// =============================================================================

// RequestModifications is what the orchestrator folds into the next
// attempt's effective Options.
type RequestModifications struct {
	CheckIntervals types.CheckIntervals
	Timeout        types.TimeoutConfig
	DisabledChecks []string
	MaxRetries     int // -1 means "no override"
}

// GetRequestModifications scales the given baseline intervals/timeouts by
// the effective strategy for provider.
func (m *DegradationManager) GetRequestModifications(provider string, baseIntervals types.CheckIntervals, baseTimeout types.TimeoutConfig) RequestModifications {
	strategy := m.GetStrategy(provider)

	mods := RequestModifications{
		CheckIntervals: baseIntervals,
		Timeout:        baseTimeout,
		DisabledChecks: strategy.DisabledChecks,
		MaxRetries:     -1,
	}

	if strategy.CheckIntervalMultiplier > 0 {
		mods.CheckIntervals.Guardrails = scaleInt(baseIntervals.Guardrails, strategy.CheckIntervalMultiplier)
		mods.CheckIntervals.Drift = scaleInt(baseIntervals.Drift, strategy.CheckIntervalMultiplier)
		mods.CheckIntervals.Checkpoint = scaleInt(baseIntervals.Checkpoint, strategy.CheckIntervalMultiplier)
	}
	if strategy.TimeoutMultiplier > 0 {
		mods.Timeout.InitialToken = time.Duration(float64(baseTimeout.InitialToken) * strategy.TimeoutMultiplier)
		mods.Timeout.InterToken = time.Duration(float64(baseTimeout.InterToken) * strategy.TimeoutMultiplier)
	}
	if strategy.ReduceRetries {
		mods.MaxRetries = strategy.MaxRetries
	}

	return mods
}

func scaleInt(base int, factor float64) int {
	if base <= 0 {
		return base
	}
	return int(float64(base) * factor)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (m *DegradationManager) levelValue(level DegradationLevel) int {
	switch level {
	case DegradationLight:
		return 1
	case DegradationModerate:
		return 2
	case DegradationHeavy:
		return 3
	case DegradationCritical:
		return 4
	default:
		return 0
	}
}

func (m *DegradationManager) recalculateLevelsLocked() {
	m.globalLevel = DegradationNone
	m.providerLevels = make(map[string]DegradationLevel)

	for _, deg := range m.activeDegradations {
		if deg.ExpiresAt != nil && time.Now().After(*deg.ExpiresAt) {
			continue
		}
		if deg.Provider != "" {
			if m.levelValue(deg.Level) > m.levelValue(m.providerLevels[deg.Provider]) {
				m.providerLevels[deg.Provider] = deg.Level
			}
		} else if m.levelValue(deg.Level) > m.levelValue(m.globalLevel) {
			m.globalLevel = deg.Level
		}
	}
}

// =============================================================================
// METRICS
// =============================================================================

// DegradationMetrics summarizes current degradation state.
type DegradationMetrics struct {
	GlobalLevel        DegradationLevel
	ProviderLevels     map[string]DegradationLevel
	ActiveCount        int
	ActiveDegradations []ActiveDegradation
}

func (m *DegradationManager) GetMetrics() DegradationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupExpiredLocked()

	metrics := DegradationMetrics{
		GlobalLevel:        m.globalLevel,
		ProviderLevels:     make(map[string]DegradationLevel, len(m.providerLevels)),
		ActiveCount:        len(m.activeDegradations),
		ActiveDegradations: make([]ActiveDegradation, len(m.activeDegradations)),
	}
	for k, v := range m.providerLevels {
		metrics.ProviderLevels[k] = v
	}
	copy(metrics.ActiveDegradations, m.activeDegradations)
	return metrics
}

func (m *DegradationManager) cleanupExpiredLocked() {
	now := time.Now()
	kept := make([]ActiveDegradation, 0, len(m.activeDegradations))
	for _, deg := range m.activeDegradations {
		if deg.ExpiresAt == nil || now.Before(*deg.ExpiresAt) {
			kept = append(kept, deg)
		}
	}
	if len(kept) != len(m.activeDegradations) {
		m.activeDegradations = kept
		m.recalculateLevelsLocked()
	}
}
