package ops

import (
	"testing"
	"time"

	"github.com/l0run/l0/shared"
)

func TestHealthCheckManager_InitialState(t *testing.T) {
	m := NewHealthCheckManager(nil)

	status := m.GetStatus("openai")
	if status != HealthStatusUnknown {
		t.Errorf("Status = %s, want unknown", status)
	}

	health := m.GetHealth("openai")
	if health.Score != 50 {
		t.Errorf("Score = %d, want 50 (default for unknown)", health.Score)
	}
}

func TestHealthCheckManager_RecordSuccess(t *testing.T) {
	m := NewHealthCheckManager(nil)

	m.RecordRequest("openai", true, 500, nil)
	m.RecordRequest("openai", true, 600, nil)
	m.RecordRequest("openai", true, 400, nil)

	health := m.GetHealth("openai")

	if health.ConsecutiveSuccesses != 3 {
		t.Errorf("ConsecutiveSuccesses = %d, want 3", health.ConsecutiveSuccesses)
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", health.ConsecutiveFailures)
	}
	if health.Score < 70 {
		t.Errorf("Score = %d, should be >= 70 after successes", health.Score)
	}
}

func TestHealthCheckManager_RecordFailure(t *testing.T) {
	m := NewHealthCheckManager(nil)

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit, HTTPCode: 429}

	m.RecordRequest("openai", false, 0, failure)
	m.RecordRequest("openai", false, 0, failure)
	m.RecordRequest("openai", false, 0, failure)

	health := m.GetHealth("openai")

	if health.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", health.ConsecutiveFailures)
	}
	if health.ConsecutiveSuccesses != 0 {
		t.Errorf("ConsecutiveSuccesses = %d, want 0", health.ConsecutiveSuccesses)
	}
}

// A mid-stream interruption (connection reset) should weigh more heavily
// against a provider's score than an equal number of clean pre-flight
// rejections (rate limits), since the stream already committed tokens.
func TestHealthCheckManager_StreamInterruptionsWeighMoreThanRejections(t *testing.T) {
	reset := &shared.ProviderFailure{Type: shared.FailureConnectionReset}
	rateLimited := &shared.ProviderFailure{Type: shared.FailureRateLimit}

	streamy := NewHealthCheckManager(nil)
	streamy.RecordRequest("openai", false, 0, reset)
	streamy.RecordRequest("openai", false, 0, reset)

	rejecty := NewHealthCheckManager(nil)
	rejecty.RecordRequest("openai", false, 0, rateLimited)
	rejecty.RecordRequest("openai", false, 0, rateLimited)

	streamyScore := streamy.GetHealth("openai").Score
	rejectyScore := rejecty.GetHealth("openai").Score
	if streamyScore >= rejectyScore {
		t.Errorf("stream-interrupted score = %d, clean-rejection score = %d; expected interruptions to score lower", streamyScore, rejectyScore)
	}
}

func TestHealthCheckManager_HealthStatusTransitions(t *testing.T) {
	config := &HealthCheckConfig{
		HealthyThreshold:    80,
		DegradedThreshold:   50,
		HealthySuccessRate:  0.95,
		DegradedSuccessRate: 0.80,
		HealthyLatencyMs:    1000,
		DegradedLatencyMs:   3000,
		MaxLatencySamples:   100,
	}
	m := NewHealthCheckManager(config)

	for i := 0; i < 20; i++ {
		m.RecordRequest("openai", true, 500, nil)
	}

	health := m.GetHealth("openai")
	if health.Status != HealthStatusHealthy {
		t.Errorf("Status = %s, want healthy after many successes", health.Status)
	}

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	for i := 0; i < 5; i++ {
		m.RecordRequest("openai", false, 0, failure)
	}

	health = m.GetHealth("openai")
	if health.Status == HealthStatusHealthy {
		t.Error("Status should not be healthy after failures")
	}
}

func TestHealthCheckManager_LatencyTracking(t *testing.T) {
	m := NewHealthCheckManager(nil)

	latencies := []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	for _, lat := range latencies {
		m.RecordRequest("openai", true, lat, nil)
	}

	health := m.GetHealth("openai")

	if health.AvgLatencyMs == 0 {
		t.Error("AvgLatencyMs should be calculated")
	}
	if health.P95LatencyMs == 0 {
		t.Error("P95LatencyMs should be calculated")
	}
	if health.P99LatencyMs == 0 {
		t.Error("P99LatencyMs should be calculated")
	}

	if health.AvgLatencyMs < 400 || health.AvgLatencyMs > 700 {
		t.Errorf("AvgLatencyMs = %d, expected around 550", health.AvgLatencyMs)
	}
}

func TestHealthCheckManager_GetBestProvider(t *testing.T) {
	m := NewHealthCheckManager(nil)

	for i := 0; i < 10; i++ {
		m.RecordRequest("openai", true, 500, nil)
	}

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	for i := 0; i < 5; i++ {
		m.RecordRequest("anthropic", false, 0, failure)
	}

	providers := []string{"openai", "anthropic"}
	best := m.GetBestProvider(providers)

	if best != "openai" {
		t.Errorf("Best provider = %s, want openai (healthier)", best)
	}
}

func TestHealthCheckManager_RankFallbacks(t *testing.T) {
	m := NewHealthCheckManager(nil)

	for i := 0; i < 10; i++ {
		m.RecordRequest("openai", true, 500, nil)
	}

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	for i := 0; i < 5; i++ {
		m.RecordRequest("anthropic", false, 0, failure)
	}

	ranked := m.RankFallbacks([]string{"anthropic", "openai"})
	if ranked[0] != "openai" {
		t.Errorf("ranked[0] = %s, want openai (healthier)", ranked[0])
	}
}

func TestHealthCheckManager_GetHealthyProviders(t *testing.T) {
	m := NewHealthCheckManager(nil)

	for i := 0; i < 10; i++ {
		m.RecordRequest("openai", true, 500, nil)
	}

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}
	for i := 0; i < 10; i++ {
		m.RecordRequest("anthropic", false, 0, failure)
	}

	healthy := m.GetHealthyProviders()

	found := false
	for _, p := range healthy {
		if p == "openai" {
			found = true
		}
		if p == "anthropic" {
			t.Error("anthropic should not be in healthy providers")
		}
	}

	if !found {
		t.Error("openai should be in healthy providers")
	}
}

func TestHealthCheckManager_SuccessResetsFailures(t *testing.T) {
	m := NewHealthCheckManager(nil)

	failure := &shared.ProviderFailure{Type: shared.FailureRateLimit}

	m.RecordRequest("openai", false, 0, failure)
	m.RecordRequest("openai", false, 0, failure)

	health := m.GetHealth("openai")
	if health.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", health.ConsecutiveFailures)
	}

	m.RecordRequest("openai", true, 500, nil)

	health = m.GetHealth("openai")
	if health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", health.ConsecutiveFailures)
	}
	if health.ConsecutiveSuccesses != 1 {
		t.Errorf("ConsecutiveSuccesses = %d, want 1", health.ConsecutiveSuccesses)
	}
}

func TestHealthCheckManager_Metrics(t *testing.T) {
	m := NewHealthCheckManager(nil)

	for i := 0; i < 5; i++ {
		m.RecordRequest("openai", true, 500, nil)
		m.RecordRequest("anthropic", true, 600, nil)
	}

	metrics := m.GetMetrics()

	if metrics.TotalProviders != 2 {
		t.Errorf("TotalProviders = %d, want 2", metrics.TotalProviders)
	}
	if len(metrics.ProviderDetails) != 2 {
		t.Errorf("ProviderDetails count = %d, want 2", len(metrics.ProviderDetails))
	}
}

func TestHealthCheckManager_Callback(t *testing.T) {
	m := NewHealthCheckManager(nil)

	callbackCalled := false
	var capturedOldStatus, capturedNewStatus HealthStatus

	m.SetHealthChangeCallback(func(provider string, oldStatus, newStatus HealthStatus) {
		callbackCalled = true
		capturedOldStatus = oldStatus
		capturedNewStatus = newStatus
	})

	for i := 0; i < 15; i++ {
		m.RecordRequest("openai", true, 500, nil)
	}

	time.Sleep(10 * time.Millisecond)

	if !callbackCalled {
		t.Error("Callback should have been called on status change")
	}
	if capturedOldStatus != HealthStatusUnknown {
		t.Errorf("Old status = %s, want unknown", capturedOldStatus)
	}
	if capturedNewStatus != HealthStatusHealthy {
		t.Errorf("New status = %s, want healthy", capturedNewStatus)
	}
}
