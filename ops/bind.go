package ops

import (
	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// Bind adapts a set of ops collaborators into a types.Resilience the
// orchestrator can consult, so callers wire exactly the collaborators they
// want (any argument may be nil) without the orchestrator importing ops
// directly. model is passed through to stream-recovery session tracking only.
func Bind(cb *CircuitBreaker, hc *HealthCheckManager, dm *DegradationManager, dlq *DeadLetterQueue, sr *StreamRecoveryManager, model string) *types.Resilience {
	r := &types.Resilience{}

	if cb != nil {
		r.IsProviderOpen = cb.IsOpen
		r.RecordOutcome = func(provider string, success bool, _ int64, failure *shared.ProviderFailure, _ types.Snapshot) {
			if success {
				cb.RecordSuccess(provider)
			} else {
				cb.RecordFailure(provider, failure)
			}
		}
	}

	if hc != nil {
		r.RankFallbacks = hc.RankFallbacks
		prior := r.RecordOutcome
		r.RecordOutcome = func(provider string, success bool, latencyMs int64, failure *shared.ProviderFailure, snap types.Snapshot) {
			if prior != nil {
				prior(provider, success, latencyMs, failure, snap)
			}
			hc.RecordRequest(provider, success, latencyMs, failure)
		}
	}

	if dm != nil {
		r.ApplyDegradation = func(provider string, baseIntervals types.CheckIntervals, baseTimeout types.TimeoutConfig) types.DegradationModifications {
			mods := dm.GetRequestModifications(provider, baseIntervals, baseTimeout)
			return types.DegradationModifications{
				CheckIntervals: mods.CheckIntervals,
				Timeout:        mods.Timeout,
				DisabledChecks: mods.DisabledChecks,
				MaxRetries:     mods.MaxRetries,
			}
		}
		prior := r.RecordOutcome
		r.RecordOutcome = func(provider string, success bool, latencyMs int64, failure *shared.ProviderFailure, snap types.Snapshot) {
			if prior != nil {
				prior(provider, success, latencyMs, failure, snap)
			}
			if !success {
				dm.TriggerFromState(failure, snap)
			}
		}
	}

	if dlq != nil {
		r.RecordTerminal = func(provider, checkpoint string, failure *shared.ProviderFailure, totalAttempts int) {
			dlq.Add(provider, "", "", checkpoint, nil, failure, totalAttempts)
		}
	}

	if sr != nil {
		r.StartStreamSession = func(provider, _ string) string {
			id := GenerateSessionId(provider, model)
			session := sr.StartSession(id, provider, model)
			return session.Id
		}
		r.RecordStreamChunk = sr.RecordChunk
		r.EndStreamSession = func(sessionID string, success bool, reason string) {
			status := StreamSessionCompleted
			if !success {
				status = StreamSessionInterrupted
			}
			sr.EndSession(sessionID, status, reason)
		}
	}

	return r
}
