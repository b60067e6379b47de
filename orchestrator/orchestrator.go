package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// RoleToolCall is the Event.Role an adapter sets on a message event carrying
// a tool call, the convention NewMessageEvent callers use so the
// orchestrator knows to fire OnToolCall at the normalizer's parse boundary
// (§4.2).
const RoleToolCall = "tool_call"

// Run starts one orchestrator run and returns immediately with a Result
// whose Stream the caller must drain; the run itself executes on its own
// goroutine and is driven entirely by the caller pulling from Stream (§4.1,
// §5: "lazy sequence... the caller pulls events and transitively drives the
// orchestrator").
func Run(ctx context.Context, opts types.Options) *types.Result {
	opts = opts.Normalize()
	st := types.NewState()
	runCtx, cancel := context.WithCancel(ctx)

	events := make(chan shared.Event, 16)
	result := &types.Result{
		Stream: events,
		State:  st,
		Abort:  cancel,
	}

	o := &orchestratorRun{
		opts:      opts,
		state:     st,
		ctx:       runCtx,
		events:    events,
		planner:   NewRetryPlanner(),
		cm:        NewContinuationManager(opts.CheckIntervals, opts.DeduplicateContinuation, opts.DeduplicationOptions, opts.BuildContinuationPrompt),
		ge:        NewGuardrailEngine(opts.Guardrails, opts.DetectZeroTokens),
		dd:        NewDriftDetector(),
		result:    result,
		sessionID: uuid.NewString(),
	}
	go o.loop()
	return result
}

// orchestratorRun holds everything one Run call needs. It is never shared
// across goroutines beyond the single loop() goroutine that owns it, per
// the single-threaded cooperative scheduling model (§5) — every field here
// is only ever touched from that one goroutine.
type orchestratorRun struct {
	opts   types.Options
	state  *types.State
	ctx    context.Context
	events chan shared.Event

	planner *RetryPlanner
	cm      *ContinuationManager
	ge      *GuardrailEngine
	dd      *DriftDetector

	result *types.Result

	sessionID           string
	attempts            int
	fallbacksUsed       int
	resumeCheckpoint    string
	lastCheckpointToks  int
	lastGuardrailToks   int
	lastDriftToks       int
	pendingRecoverable  bool

	// Continuation telemetry accumulators (§6 "continuation" substructure).
	contTimesApplied int
	contDedupApplied bool
	contDedupChars   int
	lastDriftResult  types.DriftResult

	// Per-attempt effective values, scaled by Resilience.ApplyDegradation
	// when bound; default to opts.CheckIntervals/opts.Timeout unscaled.
	effCheckIntervals types.CheckIntervals
	effTimeout        types.TimeoutConfig
	effDisabledChecks []string

	lastProvider      string
	attemptSessionID  string
}

func (o *orchestratorRun) loop() {
	defer close(o.events)

	isRetry, isFallback := false, false

	for {
		o.attempts++
		provider := o.providerName()
		o.lastProvider = provider
		mods := o.applyDegradation(provider)
		o.effCheckIntervals = mods.CheckIntervals
		o.effTimeout = mods.Timeout
		o.effDisabledChecks = mods.DisabledChecks

		if o.circuitOpen(provider) {
			pf := shared.ProviderFailure{
				Type: shared.FailureOverloaded, Category: shared.CategoryTransient,
				Provider: provider, Retryable: true, Message: "circuit open for provider " + provider,
			}
			// An open circuit moves straight to the next fallback when one
			// remains; otherwise it is planned like any transient failure.
			var action Action
			if o.state.FallbackIndex() < len(o.opts.FallbackStreams) {
				action = o.planner.finalize(Action{Decision: DecisionFallback, Category: pf.Category}, pf, "", o.state, o.opts.Retry, nil, o.state.ModelRetryCount())
			} else {
				action = o.planner.Plan(pf, "", o.state, o.opts.Retry, len(o.opts.FallbackStreams), nil)
			}
			cont := o.applyAction(action, pf, "", nil)
			if !cont {
				return
			}
			isRetry, isFallback = true, action.Decision == DecisionFallback
			continue
		}

		factory := o.activeFactory()

		prompt := ""
		resuming := isRetry && o.opts.ContinueFromLastKnownGoodToken && o.resumeCheckpoint != ""
		if resuming {
			prompt = o.cm.BuildResumePrompt(o.resumeCheckpoint)
		}

		o.opts.Observer.OnStart(o.attempts, isRetry, isFallback, o.state.FallbackIndex())

		ictx := types.InterceptorContext{
			Attempt: o.attempts, IsRetry: isRetry, IsFallback: isFallback,
			FallbackIndex: o.state.FallbackIndex(),
		}
		if err := o.runBefore(ictx); err != nil {
			o.haltInternal(shared.FailureOther, err)
			return
		}

		streamRes, err := factory(o.ctx, prompt)
		if err != nil {
			o.runOnError(ictx, err)
			action := o.planner.Plan(classifyGoError(err), "", o.state, o.opts.Retry, len(o.opts.FallbackStreams), err)
			cont := o.applyAction(action, classifyGoError(err), "", err)
			if !cont {
				return
			}
			isRetry, isFallback = true, action.Decision == DecisionFallback
			continue
		}

		canonical := streamRes.Canonical
		if canonical == nil {
			if streamRes.Adapter == nil {
				o.haltInternal(shared.FailureAdapterMissing, nil)
				return
			}
			canonical, err = streamRes.Adapter.Wrap(o.ctx, streamRes.Raw, o.opts.AdapterOptions)
			if err != nil {
				o.runOnError(ictx, err)
				action := o.planner.Plan(classifyGoError(err), "", o.state, o.opts.Retry, len(o.opts.FallbackStreams), err)
				cont := o.applyAction(action, classifyGoError(err), "", err)
				if !cont {
					return
				}
				isRetry, isFallback = true, action.Decision == DecisionFallback
				continue
			}
		}

		if resuming {
			o.state.MarkResumed(o.resumeCheckpoint)
			o.opts.Observer.OnResume(o.resumeCheckpoint, o.state.TokenCount())
			o.contTimesApplied++
		}

		o.attemptSessionID = ""
		if r := o.opts.Resilience; r != nil && r.StartStreamSession != nil {
			o.attemptSessionID = r.StartStreamSession(provider, "")
		}
		attemptStart := time.Now()
		outcome := o.drainAttempt(canonical, resuming)
		o.endAttemptResilience(provider, outcome, time.Since(attemptStart).Milliseconds())

		switch outcome.kind {
		case attemptSucceeded:
			o.state.Complete()
			o.emit(NewCompleteEvent(outcome.usage))
			o.runAfter(ictx)
			o.finish(nil)
			return

		case attemptAborted:
			o.opts.Observer.OnAbort(o.state.TokenCount(), len(o.state.Content()))
			le := shared.NewL0Error(shared.CodeStreamAborted, shared.CategoryInternal, "stream aborted", o.state.ErrorContext(), outcome.err)
			o.opts.Observer.OnError(le)
			o.finish(le)
			return

		case attemptHaltedFatal:
			o.finish(outcome.haltErr)
			return

		case attemptFailed:
			action := o.planner.Plan(outcome.pf, outcome.reason, o.state, o.opts.Retry, len(o.opts.FallbackStreams), outcome.err)
			cont := o.applyAction(action, outcome.pf, outcome.timeoutKind, outcome.err)
			if !cont {
				return
			}
			isRetry, isFallback = true, action.Decision == DecisionFallback
			continue
		}
	}
}

// providerName identifies the currently active stream for Resilience
// collaborators that key state by provider (§4.9: circuit breaking, health
// ranking, and degradation are all per-provider).
func (o *orchestratorRun) providerName() string {
	idx := o.state.FallbackIndex()
	if idx == 0 {
		if o.opts.Provider != "" {
			return o.opts.Provider
		}
		return "primary"
	}
	if idx-1 < len(o.opts.FallbackProviders) && o.opts.FallbackProviders[idx-1] != "" {
		return o.opts.FallbackProviders[idx-1]
	}
	return fmt.Sprintf("fallback-%d", idx)
}

// circuitOpen consults the bound circuit breaker, if any.
func (o *orchestratorRun) circuitOpen(provider string) bool {
	r := o.opts.Resilience
	return r != nil && r.IsProviderOpen != nil && r.IsProviderOpen(provider)
}

// applyDegradation scales this attempt's check intervals/timeouts through
// the bound degradation manager, if any; absent one, it passes the
// configured values through unscaled.
func (o *orchestratorRun) applyDegradation(provider string) types.DegradationModifications {
	if r := o.opts.Resilience; r != nil && r.ApplyDegradation != nil {
		return r.ApplyDegradation(provider, o.opts.CheckIntervals, o.opts.Timeout)
	}
	return types.DegradationModifications{CheckIntervals: o.opts.CheckIntervals, Timeout: o.opts.Timeout, MaxRetries: -1}
}

// endAttemptResilience reports one attempt's outcome to the circuit
// breaker/health manager and closes out its stream-recovery session.
func (o *orchestratorRun) endAttemptResilience(provider string, outcome attemptOutcome, latencyMs int64) {
	r := o.opts.Resilience
	if r == nil {
		return
	}
	success := outcome.kind == attemptSucceeded
	if r.RecordOutcome != nil && outcome.kind != attemptAborted {
		var failurePtr *shared.ProviderFailure
		pf := outcome.pf
		if !success {
			if outcome.kind == attemptHaltedFatal {
				pf = shared.ProviderFailure{Type: shared.FailureGuardrailFatal, Category: shared.CategoryFatal, Provider: provider}
			}
			failurePtr = &pf
		}
		r.RecordOutcome(provider, success, latencyMs, failurePtr, o.state.Snapshot())
	}
	if r.EndStreamSession != nil && o.attemptSessionID != "" {
		reason := "completed"
		switch {
		case outcome.kind == attemptAborted:
			reason = "aborted"
		case !success:
			reason = string(outcome.pf.Type)
		}
		r.EndStreamSession(o.attemptSessionID, success, reason)
	}
}

// activeFactory picks the primary stream or the current fallback, per §4.1
// step 1.
func (o *orchestratorRun) activeFactory() types.StreamFactory {
	idx := o.state.FallbackIndex()
	if idx == 0 {
		return o.opts.Stream
	}
	return o.opts.FallbackStreams[idx-1]
}

// applyAction carries out a planner verdict: sleeping out a retry delay,
// advancing the fallback index, or finishing the run on halt. It returns
// false when the run is over (caller must stop looping).
func (o *orchestratorRun) applyAction(action Action, pf shared.ProviderFailure, timeoutKind string, cause error) bool {
	if pf.Category == shared.CategoryNetwork || pf.Category == shared.CategoryTransient {
		o.state.AddNetworkError(pf)
	}
	switch action.Decision {
	case DecisionRetry:
		if pf.Category == shared.CategoryNetwork || pf.Category == shared.CategoryTransient {
			o.state.IncrementNetworkRetry()
		} else {
			o.state.IncrementModelRetry()
		}
		o.opts.Observer.OnRetry(pf.Category, o.attempts, action.Delay.Milliseconds())
		if o.opts.ContinueFromLastKnownGoodToken {
			o.resumeCheckpoint = o.state.Checkpoint()
		}
		o.state.ResetForFreshRetry(o.opts.ContinueFromLastKnownGoodToken)
		return o.sleep(action.Delay)

	case DecisionFallback:
		from := o.state.FallbackIndex()
		o.state.AdvanceFallback()
		o.state.ResetModelRetry()
		o.fallbacksUsed++
		o.opts.Observer.OnFallback(from, o.state.FallbackIndex(), string(pf.Type))
		if o.opts.ContinueFromLastKnownGoodToken {
			o.resumeCheckpoint = o.state.Checkpoint()
		}
		o.state.ResetForFreshRetry(o.opts.ContinueFromLastKnownGoodToken)
		return true

	default: // DecisionHalt
		le := o.buildHaltError(pf, action, timeoutKind, cause)
		o.opts.Observer.OnError(le)
		o.finish(le)
		return false
	}
}

// sleep waits out a retry delay, honoring the external signal/ctx the same
// way every other suspension point does (§5 suspension point 3). Returns
// false if cancelled mid-sleep, in which case the run has already been
// finished as an abort.
func (o *orchestratorRun) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	var signalDone <-chan struct{}
	if o.opts.Signal != nil {
		signalDone = o.opts.Signal.Done()
	}
	select {
	case <-timer.C:
		return true
	case <-signalDone:
	case <-o.ctx.Done():
	}
	o.opts.Observer.OnAbort(o.state.TokenCount(), len(o.state.Content()))
	le := shared.NewL0Error(shared.CodeStreamAborted, shared.CategoryInternal, "stream aborted during retry delay", o.state.ErrorContext(), o.ctx.Err())
	o.opts.Observer.OnError(le)
	o.finish(le)
	return false
}

type attemptOutcomeKind int

const (
	attemptSucceeded attemptOutcomeKind = iota
	attemptAborted
	attemptHaltedFatal
	attemptFailed
)

type attemptOutcome struct {
	kind        attemptOutcomeKind
	usage       *shared.Usage
	err         error
	pf          shared.ProviderFailure
	reason      types.RetryReason
	timeoutKind string
	haltErr     *shared.L0Error
}

// drainAttempt runs one attempt's Stream Wrapper to completion, normal
// end-of-stream, timeout, abort, or guardrail halt, applying the periodic
// checks along the way (§4.1 step 4-6, §4.4, §4.5, §4.7).
func (o *orchestratorRun) drainAttempt(canonical types.CanonicalStream, resuming bool) attemptOutcome {
	wrapper := NewStreamWrapper(canonical, o.effTimeout, o.opts.Signal)
	defer wrapper.Close()

	dedupePending := resuming && o.opts.DeduplicateContinuation
	var pendingIncoming string
	var usage *shared.Usage
	completed := false

	for {
		evt, ok, err := wrapper.Next(o.ctx)
		if err != nil {
			if IsAborted(err) {
				return attemptOutcome{kind: attemptAborted, err: err}
			}
			if kind, isTO := IsTimeout(err); isTO {
				o.opts.Observer.OnTimeout(kind)
				pf := shared.ProviderFailure{Type: shared.FailureTimeout, Category: shared.CategoryNetwork, Retryable: true, Message: err.Error()}
				return attemptOutcome{kind: attemptFailed, err: err, pf: pf, timeoutKind: kind}
			}
			pf := classifyGoError(err)
			return attemptOutcome{kind: attemptFailed, err: err, pf: pf}
		}
		if !ok {
			break
		}

		if evt.Kind == shared.EventToken && dedupePending {
			pendingIncoming += evt.Token
			dedup := o.cm.Dedupe(o.resumeCheckpoint, pendingIncoming)
			if dedup.OverlapChars > 0 || len(pendingIncoming) >= o.opts.DeduplicationOptions.MaxOverlap {
				o.state.SetResumeFrom(len(o.state.Content()))
				if dedup.OverlapChars > 0 {
					o.contDedupApplied = true
					o.contDedupChars += dedup.OverlapChars
				}
				if dedup.NewContent != "" {
					o.state.AppendToken(dedup.NewContent)
					o.emit(NewTokenEvent(dedup.NewContent))
				}
				dedupePending = false
			}
			o.runPeriodicChecks()
			continue
		}

		switch evt.Kind {
		case shared.EventToken:
			o.state.AppendToken(evt.Token)
			if r := o.opts.Resilience; r != nil && r.RecordStreamChunk != nil && o.attemptSessionID != "" {
				r.RecordStreamChunk(o.attemptSessionID, evt.Token, 1)
			}
			o.emit(evt)
		case shared.EventMessage:
			o.state.AppendContent(evt.MessageJSON)
			if evt.Role == RoleToolCall {
				o.opts.Observer.OnToolCall(shared.ToolCall{ArgsParsed: evt.MessageJSON})
			}
			o.emit(evt)
		case shared.EventData:
			o.emit(evt)
		case shared.EventProgress:
			o.emit(evt)
		case shared.EventError:
			o.opts.Observer.OnEvent(evt)
			o.emit(evt)
			pf := classifyGoError(evt.Err)
			return attemptOutcome{kind: attemptFailed, err: evt.Err, pf: pf, reason: types.RetryReason(evt.Reason)}
		case shared.EventComplete:
			usage = evt.Usage
			completed = true
		}
		o.opts.Observer.OnEvent(evt)

		if completed {
			break
		}

		if halt, outcome := o.runPeriodicChecks(); halt {
			return outcome
		}
	}

	if !completed {
		pf := shared.ProviderFailure{Type: shared.FailureMalformedOutput, Category: shared.CategoryModel, Retryable: true, Message: "stream ended without a complete event"}
		return attemptOutcome{kind: attemptFailed, pf: pf}
	}

	agg := o.ge.RunPostCompletion(types.GuardrailContext{
		Content: o.state.Content(), Checkpoint: o.state.Checkpoint(), TokenCount: o.state.TokenCount(), Completed: true,
	})
	for _, v := range agg.Violations {
		o.state.AddViolations([]shared.Violation{v})
		o.opts.Observer.OnViolation(v)
	}
	if agg.ShouldHalt && !agg.ShouldRetry {
		le := shared.NewL0Error(shared.CodeFatalGuardrailViolation, shared.CategoryFatal, "fatal guardrail violation", o.state.ErrorContext(), nil)
		return attemptOutcome{kind: attemptHaltedFatal, haltErr: le}
	}
	if agg.ShouldRetry || o.pendingRecoverable {
		o.pendingRecoverable = false
		pf := shared.ProviderFailure{Type: shared.FailureGuardrailRecoverable, Category: shared.CategoryContent, Retryable: true, Message: "guardrail requested retry"}
		return attemptOutcome{kind: attemptFailed, pf: pf}
	}

	return attemptOutcome{kind: attemptSucceeded, usage: usage}
}

// runPeriodicChecks runs the streaming guardrail pass, the drift check, and
// checkpointing whenever their configured token interval is crossed (§4.4,
// §4.5, §4.7). It returns (true, outcome) when a fatal, non-recoverable
// streaming violation must halt the attempt immediately.
func (o *orchestratorRun) runPeriodicChecks() (bool, attemptOutcome) {
	tc := o.state.TokenCount()
	content := o.state.Content()
	intervals := o.effCheckIntervals

	if intervals.Guardrails > 0 && tc-o.lastGuardrailToks >= intervals.Guardrails {
		o.lastGuardrailToks = tc
		agg := o.ge.RunStreaming(types.GuardrailContext{Content: content, Checkpoint: o.state.Checkpoint(), TokenCount: tc})
		for _, v := range agg.Violations {
			o.state.AddViolations([]shared.Violation{v})
			o.opts.Observer.OnViolation(v)
		}
		if agg.ShouldHalt {
			if agg.ShouldRetry {
				o.pendingRecoverable = true
			} else {
				le := shared.NewL0Error(shared.CodeFatalGuardrailViolation, shared.CategoryFatal, "fatal guardrail violation", o.state.ErrorContext(), nil)
				return true, attemptOutcome{kind: attemptHaltedFatal, haltErr: le}
			}
		} else if agg.ShouldRetry {
			o.pendingRecoverable = true
		}
	}

	if o.opts.DetectDrift && !o.checkDisabled("drift") && intervals.Drift > 0 && tc-o.lastDriftToks >= intervals.Drift {
		o.lastDriftToks = tc
		result := o.dd.Check(content)
		o.opts.Observer.OnDrift(result)
		o.lastDriftResult = result
		if result.Detected {
			o.state.SetDriftDetected()
			o.state.AddViolations([]shared.Violation{DriftViolation()})
			o.pendingRecoverable = true
		}
	}

	if o.opts.ContinueFromLastKnownGoodToken && !o.checkDisabled("checkpoint") && o.cm.ShouldCheckpoint(tc, o.lastCheckpointToks) {
		o.lastCheckpointToks = tc
		cp := o.state.SetCheckpoint()
		o.opts.Observer.OnCheckpoint(cp, tc)
	}

	return false, attemptOutcome{}
}

// checkDisabled reports whether the current attempt's degradation-scaled
// modifications disable the named check ("drift" or "checkpoint").
func (o *orchestratorRun) checkDisabled(name string) bool {
	for _, c := range o.effDisabledChecks {
		if c == name {
			return true
		}
	}
	return false
}

func (o *orchestratorRun) emit(evt shared.Event) {
	select {
	case o.events <- evt:
	case <-o.ctx.Done():
	}
}

func (o *orchestratorRun) haltInternal(failureType shared.FailureType, cause error) {
	pf := shared.ProviderFailure{Type: failureType, Category: shared.CategoryInternal, Retryable: false}
	le := shared.FromProviderFailure(pf, o.state.ErrorContext(), cause)
	o.opts.Observer.OnError(le)
	o.finish(le)
}

func (o *orchestratorRun) buildHaltError(pf shared.ProviderFailure, action Action, timeoutKind string, cause error) *shared.L0Error {
	ctx := o.state.ErrorContext()
	le := shared.FromProviderFailure(pf, ctx, cause)
	switch {
	case timeoutKind == TimeoutInitialToken:
		le.ErrCode = shared.CodeInitialTokenTimeout
	case timeoutKind == TimeoutInterToken:
		le.ErrCode = shared.CodeInterTokenTimeout
	case action.HaltCode != "":
		le.ErrCode = action.HaltCode
	}
	return le
}

// finish records the terminal error (if any), computes telemetry, and emits
// the error event when the run did not succeed. It must be called at most
// once per run.
func (o *orchestratorRun) finish(le *shared.L0Error) {
	snap := o.state.Snapshot()
	endTime := time.Now()
	duration := endTime.Sub(snap.StartedAt)
	if snap.Duration != nil {
		duration = *snap.Duration
	}

	telemetry := &types.Telemetry{
		SessionId: o.sessionID,
		StartTime: snap.StartedAt,
		EndTime:   endTime,
		Duration:  duration,

		Metrics: types.TelemetryMetrics{
			TimeToFirstToken:  timeSincePtr(snap.StartedAt, snap.FirstTokenAt),
			AvgInterTokenTime: avgInterTokenTime(snap),
			TokensPerSecond:   tokensPerSecond(snap.TokenCount, duration),
			TotalTokens:       snap.TokenCount,
			TotalRetries:      snap.ModelRetryCount + snap.NetworkRetryCount,
			NetworkRetryCount: snap.NetworkRetryCount,
			ModelRetryCount:   snap.ModelRetryCount,
		},
		Network: types.NetworkTelemetry{
			ErrorCount:   len(snap.NetworkErrors),
			ErrorsByType: networkErrorsByType(snap.NetworkErrors),
			Errors:       snap.NetworkErrors,
		},
		Guardrails: guardrailTelemetry(snap.Violations),
		Drift: types.DriftTelemetry{
			Detected:   snap.DriftDetected,
			Confidence: o.lastDriftResult.Confidence,
			Types:      o.lastDriftResult.Types,
		},
		Continuation: types.ContinuationTelemetry{
			Enabled:              o.opts.ContinueFromLastKnownGoodToken,
			Used:                 o.contTimesApplied > 0,
			TimesApplied:         o.contTimesApplied,
			CheckpointLength:     len(snap.Checkpoint),
			DeduplicationApplied: o.contDedupApplied,
			DeduplicatedChars:    o.contDedupChars,
		},
		Metadata: o.opts.Metadata,

		Attempts:      o.attempts,
		FallbacksUsed: o.fallbacksUsed,
		Resumed:       snap.Resumed,
	}

	if le != nil {
		telemetry.TerminalCategory = le.Category
		o.result.Errors = append(o.result.Errors, le)
		o.emit(NewErrorEvent(le, string(le.ErrCode)))
		if r := o.opts.Resilience; r != nil && r.RecordTerminal != nil {
			pf := shared.ProviderFailure{
				Type:     shared.FailureType(le.ErrCode),
				Category: le.Category,
				Message:  le.Message,
				Provider: o.lastProvider,
			}
			r.RecordTerminal(o.lastProvider, snap.Checkpoint, &pf, o.attempts)
		}
	}
	o.result.Telemetry = telemetry
	if le == nil {
		o.opts.Observer.OnComplete(snap)
	}
}

// timeSincePtr returns the elapsed time between start and at, or nil when
// at is nil (no token was ever emitted).
func timeSincePtr(start time.Time, at *time.Time) *time.Duration {
	if at == nil {
		return nil
	}
	d := at.Sub(start)
	return &d
}

// avgInterTokenTime spreads the time between the first and last token
// evenly across the gaps between them; nil when fewer than two tokens were
// emitted, since there is no gap to measure.
func avgInterTokenTime(snap types.Snapshot) *time.Duration {
	if snap.FirstTokenAt == nil || snap.LastTokenAt == nil || snap.TokenCount < 2 {
		return nil
	}
	span := snap.LastTokenAt.Sub(*snap.FirstTokenAt)
	avg := span / time.Duration(snap.TokenCount-1)
	return &avg
}

// tokensPerSecond is nil when nothing was emitted or the run was
// instantaneous, rather than reporting a misleading infinite rate.
func tokensPerSecond(tokenCount int, duration time.Duration) *float64 {
	if tokenCount == 0 || duration <= 0 {
		return nil
	}
	rate := float64(tokenCount) / duration.Seconds()
	return &rate
}

func networkErrorsByType(errs []shared.ProviderFailure) map[shared.FailureType]int {
	out := make(map[shared.FailureType]int, len(errs))
	for _, e := range errs {
		out[e.Type]++
	}
	return out
}

func guardrailTelemetry(vs []shared.Violation) types.GuardrailTelemetry {
	g := types.GuardrailTelemetry{
		ViolationsByRule:            make(map[string]int, len(vs)),
		ViolationsBySeverity:        make(map[shared.Severity]int, 3),
		ViolationsByRuleAndSeverity: make(map[string]map[shared.Severity]int, len(vs)),
	}
	for _, v := range vs {
		g.ViolationCount++
		g.ViolationsByRule[v.Rule]++
		g.ViolationsBySeverity[v.Severity]++
		if g.ViolationsByRuleAndSeverity[v.Rule] == nil {
			g.ViolationsByRuleAndSeverity[v.Rule] = make(map[shared.Severity]int, 3)
		}
		g.ViolationsByRuleAndSeverity[v.Rule][v.Severity]++
	}
	return g
}

// runBefore invokes every Interceptor's Before hook in order, stopping at
// the first error (§6, "Interceptor exceptions propagate as INTERNAL").
func (o *orchestratorRun) runBefore(ctx types.InterceptorContext) error {
	for _, ic := range o.opts.Interceptors {
		if ic.Before == nil {
			continue
		}
		if err := ic.Before(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runAfter invokes every Interceptor's After hook with the final snapshot.
func (o *orchestratorRun) runAfter(ctx types.InterceptorContext) {
	snap := o.state.Snapshot()
	for _, ic := range o.opts.Interceptors {
		if ic.After == nil {
			continue
		}
		_ = ic.After(ctx, snap)
	}
}

// runOnError invokes every Interceptor's OnError hook.
func (o *orchestratorRun) runOnError(ctx types.InterceptorContext, err error) {
	for _, ic := range o.opts.Interceptors {
		if ic.OnError != nil {
			ic.OnError(ctx, err)
		}
	}
}

// classifyGoError adapts a bare Go error (factory acquisition failure,
// adapter wrap failure) into the ProviderFailure shape the retry planner
// consumes, reusing the same message-sniffing classifier used for
// transport-level failures.
func classifyGoError(err error) shared.ProviderFailure {
	if err == nil {
		return shared.ProviderFailure{Type: shared.FailureOther, Category: shared.CategoryInternal}
	}
	return shared.ClassifyProviderFailure(0, err.Error(), nil, "")
}
