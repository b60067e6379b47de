package ops

import (
	"testing"
	"time"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

func TestDegradationManager_InitialState(t *testing.T) {
	m := NewDegradationManager(nil)

	if m.GetGlobalLevel() != DegradationNone {
		t.Errorf("initial global level = %s, want none", m.GetGlobalLevel())
	}
	if m.GetProviderLevel("openai") != DegradationNone {
		t.Errorf("initial provider level = %s, want none", m.GetProviderLevel("openai"))
	}
}

func TestDegradationManager_TriggerDegradation(t *testing.T) {
	m := NewDegradationManager(nil)

	id := m.TriggerDegradation(DegradationModerate, "test reason", "openai", 5*time.Minute)
	if id == "" {
		t.Error("should return degradation ID")
	}

	if level := m.GetProviderLevel("openai"); level != DegradationModerate {
		t.Errorf("provider level = %s, want moderate", level)
	}
	if m.GetGlobalLevel() != DegradationNone {
		t.Errorf("global level = %s, want none", m.GetGlobalLevel())
	}
}

func TestDegradationManager_TriggerGlobalDegradation(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationHeavy, "system wide issue", "", 5*time.Minute)

	if m.GetGlobalLevel() != DegradationHeavy {
		t.Errorf("global level = %s, want heavy", m.GetGlobalLevel())
	}
	if m.GetEffectiveLevel("openai") != DegradationHeavy {
		t.Errorf("effective provider level = %s, want heavy", m.GetEffectiveLevel("openai"))
	}
}

func TestDegradationManager_EffectiveLevel(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationLight, "global", "", 5*time.Minute)
	m.TriggerDegradation(DegradationHeavy, "provider", "openai", 5*time.Minute)

	if m.GetEffectiveLevel("openai") != DegradationHeavy {
		t.Errorf("effective level = %s, want heavy (higher)", m.GetEffectiveLevel("openai"))
	}
	if m.GetEffectiveLevel("anthropic") != DegradationLight {
		t.Errorf("effective level for anthropic = %s, want light (global)", m.GetEffectiveLevel("anthropic"))
	}
}

func TestDegradationManager_GetStrategy(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationModerate, "test", "openai", 5*time.Minute)

	strategy := m.GetStrategy("openai")
	if strategy.Level != DegradationModerate {
		t.Errorf("strategy level = %s, want moderate", strategy.Level)
	}
	if strategy.CheckIntervalMultiplier <= 1 {
		t.Error("strategy should widen check intervals")
	}
}

func TestDegradationManager_IsCheckEnabled(t *testing.T) {
	m := NewDegradationManager(nil)

	if !m.IsCheckEnabled("openai", "drift") {
		t.Error("drift check should be enabled with no degradation")
	}

	m.TriggerDegradation(DegradationModerate, "test", "openai", 5*time.Minute)

	if m.IsCheckEnabled("openai", "drift") {
		t.Error("drift check should be disabled with moderate degradation")
	}
}

func TestDegradationManager_RecoverDegradation(t *testing.T) {
	m := NewDegradationManager(nil)

	id := m.TriggerDegradation(DegradationHeavy, "test", "openai", 5*time.Minute)

	if m.GetProviderLevel("openai") != DegradationHeavy {
		t.Error("provider should be degraded")
	}

	m.RecoverDegradation(id)

	if m.GetProviderLevel("openai") != DegradationNone {
		t.Errorf("provider level after recovery = %s, want none", m.GetProviderLevel("openai"))
	}
}

func TestDegradationManager_RecoverProvider(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationLight, "test1", "openai", 5*time.Minute)
	m.TriggerDegradation(DegradationModerate, "test2", "openai", 5*time.Minute)

	m.RecoverProvider("openai")

	if m.GetProviderLevel("openai") != DegradationNone {
		t.Error("all provider degradations should be recovered")
	}
}

func TestDegradationManager_RecoverAll(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationHeavy, "global", "", 5*time.Minute)
	m.TriggerDegradation(DegradationModerate, "openai", "openai", 5*time.Minute)
	m.TriggerDegradation(DegradationLight, "anthropic", "anthropic", 5*time.Minute)

	m.RecoverAll()

	if m.GetGlobalLevel() != DegradationNone {
		t.Error("global should be recovered")
	}
	if len(m.GetActiveDegradations()) != 0 {
		t.Error("all degradations should be cleared")
	}
}

func TestDegradationManager_TriggerFromState(t *testing.T) {
	config := &DegradationConfig{
		LightThreshold: 10, ModerateThreshold: 25, HeavyThreshold: 50, CriticalThreshold: 75,
	}
	m := NewDegradationManager(config)

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit, Provider: "openai"}
	// 3 network errors out of 10 attempts (9 retries + the current one) = 30%.
	snap := types.Snapshot{
		NetworkRetryCount: 9,
		NetworkErrors:     []shared.ProviderFailure{*failure, *failure, *failure},
	}

	m.TriggerFromState(failure, snap)

	if level := m.GetProviderLevel("openai"); level != DegradationModerate {
		t.Errorf("level = %s, want moderate for 30%% error rate", level)
	}
}

func TestDegradationManager_TriggerFromState_BelowThreshold(t *testing.T) {
	config := &DegradationConfig{
		LightThreshold: 10, ModerateThreshold: 25, HeavyThreshold: 50, CriticalThreshold: 75,
	}
	m := NewDegradationManager(config)

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit, Provider: "openai"}
	snap := types.Snapshot{NetworkRetryCount: 99, NetworkErrors: []shared.ProviderFailure{*failure}}

	m.TriggerFromState(failure, snap)

	if level := m.GetProviderLevel("openai"); level != DegradationNone {
		t.Errorf("level = %s, want none for a 1%% error rate", level)
	}
}

func TestDegradationManager_GetRequestModifications(t *testing.T) {
	m := NewDegradationManager(nil)

	baseIntervals := types.CheckIntervals{Guardrails: 20, Drift: 40, Checkpoint: 10}
	baseTimeout := types.TimeoutConfig{InitialToken: 30 * time.Second, InterToken: 10 * time.Second}

	mods := m.GetRequestModifications("openai", baseIntervals, baseTimeout)
	if mods.CheckIntervals.Guardrails != baseIntervals.Guardrails {
		t.Errorf("Guardrails interval without degradation = %d, want %d", mods.CheckIntervals.Guardrails, baseIntervals.Guardrails)
	}

	m.TriggerDegradation(DegradationHeavy, "test", "openai", 5*time.Minute)

	mods = m.GetRequestModifications("openai", baseIntervals, baseTimeout)
	if mods.CheckIntervals.Guardrails <= baseIntervals.Guardrails {
		t.Errorf("Guardrails interval with heavy degradation = %d, should widen", mods.CheckIntervals.Guardrails)
	}
	if mods.Timeout.InitialToken <= baseTimeout.InitialToken {
		t.Errorf("InitialToken timeout with heavy degradation = %v, should increase", mods.Timeout.InitialToken)
	}
	if mods.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2 for heavy degradation", mods.MaxRetries)
	}
}

func TestDegradationManager_Metrics(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationModerate, "test1", "openai", 5*time.Minute)
	m.TriggerDegradation(DegradationLight, "test2", "anthropic", 5*time.Minute)

	metrics := m.GetMetrics()
	if metrics.ActiveCount != 2 {
		t.Errorf("ActiveCount = %d, want 2", metrics.ActiveCount)
	}
	if len(metrics.ProviderLevels) != 2 {
		t.Errorf("ProviderLevels count = %d, want 2", len(metrics.ProviderLevels))
	}
}

func TestDegradationManager_Callback(t *testing.T) {
	m := NewDegradationManager(nil)

	callbackCalled := false
	var capturedLevel DegradationLevel

	m.SetDegradationChangeCallback(func(level DegradationLevel, reason string) {
		callbackCalled = true
		capturedLevel = level
	})

	m.TriggerDegradation(DegradationHeavy, "test", "", 5*time.Minute)

	time.Sleep(10 * time.Millisecond)

	if !callbackCalled {
		t.Error("callback should have been called")
	}
	if capturedLevel != DegradationHeavy {
		t.Errorf("captured level = %s, want heavy", capturedLevel)
	}
}

func TestDegradationManager_ExpiredDegradation(t *testing.T) {
	m := NewDegradationManager(nil)

	m.TriggerDegradation(DegradationHeavy, "test", "openai", 1*time.Millisecond)

	time.Sleep(10 * time.Millisecond)

	metrics := m.GetMetrics()
	_ = metrics
}
