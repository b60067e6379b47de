package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0run/l0/shared"
	"github.com/l0run/l0/types"
)

// OTelObserver is a types.LifecycleObserver backed by OpenTelemetry metrics
// and tracing (§7's Telemetry surface, "when monitoring is enabled"). It
// accepts a metric.Meter and trace.Tracer rather than owning a provider, so
// the caller decides whether readings go to stdout, an OTLP collector, or
// nowhere (a noop provider) — the same accept-an-interface posture the
// teacher's db/http clients take on their dependencies.
type OTelObserver struct {
	types.NoopObserver

	sessionID string
	tracer    trace.Tracer

	interTokenHist   metric.Float64Histogram
	retryCounter     metric.Int64Counter
	fallbackCounter  metric.Int64Counter
	violationCounter metric.Int64Counter
	driftCounter     metric.Int64Counter

	mu          sync.Mutex
	ctx         context.Context
	span        trace.Span
	lastTokenAt time.Time
}

// NewOTelObserver builds an observer that records one span per attempt and
// a handful of run-level counters/histograms. meter/tracer may be the
// global noop implementations when the caller has not wired a provider.
func NewOTelObserver(meter metric.Meter, tracer trace.Tracer) (*OTelObserver, error) {
	interTokenHist, err := meter.Float64Histogram(
		"l0.inter_token.latency_ms",
		metric.WithDescription("milliseconds between consecutive content-bearing events"),
	)
	if err != nil {
		return nil, err
	}
	retryCounter, err := meter.Int64Counter("l0.retries", metric.WithDescription("retries planned, by category"))
	if err != nil {
		return nil, err
	}
	fallbackCounter, err := meter.Int64Counter("l0.fallbacks", metric.WithDescription("fallback switches"))
	if err != nil {
		return nil, err
	}
	violationCounter, err := meter.Int64Counter("l0.violations", metric.WithDescription("guardrail violations, by severity"))
	if err != nil {
		return nil, err
	}
	driftCounter, err := meter.Int64Counter("l0.drift_detections", metric.WithDescription("drift detections"))
	if err != nil {
		return nil, err
	}
	return &OTelObserver{
		sessionID:        uuid.NewString(),
		tracer:           tracer,
		interTokenHist:   interTokenHist,
		retryCounter:     retryCounter,
		fallbackCounter:  fallbackCounter,
		violationCounter: violationCounter,
		driftCounter:     driftCounter,
		ctx:              context.Background(),
	}, nil
}

// SessionID is the run identifier stamped on every span, for correlating
// telemetry out-of-band with whatever the caller logs alongside it.
func (o *OTelObserver) SessionID() string { return o.sessionID }

func (o *OTelObserver) OnStart(attempt int, isRetry, isFallback bool, fallbackIndex int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.span != nil {
		o.span.End()
	}
	ctx, span := o.tracer.Start(o.ctx, "l0.attempt", trace.WithAttributes(
		attribute.String("l0.session_id", o.sessionID),
		attribute.Int("l0.attempt", attempt),
		attribute.Bool("l0.is_retry", isRetry),
		attribute.Bool("l0.is_fallback", isFallback),
		attribute.Int("l0.fallback_index", fallbackIndex),
	))
	o.ctx = ctx
	o.span = span
	o.lastTokenAt = time.Time{}
}

func (o *OTelObserver) OnEvent(evt shared.Event) {
	if !evt.IsContentBearing() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := evt.EmittedAt
	if !o.lastTokenAt.IsZero() {
		o.interTokenHist.Record(o.ctx, float64(now.Sub(o.lastTokenAt).Milliseconds()))
	}
	o.lastTokenAt = now
}

func (o *OTelObserver) OnRetry(category shared.Category, attempt int, delayMs int64) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	o.retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("l0.category", string(category))))
}

func (o *OTelObserver) OnFallback(fromIndex, toIndex int, reason string) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	o.fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("l0.reason", reason)))
}

func (o *OTelObserver) OnViolation(v shared.Violation) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	o.violationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("l0.rule", v.Rule),
		attribute.String("l0.severity", string(v.Severity)),
	))
}

func (o *OTelObserver) OnDrift(result types.DriftResult) {
	if !result.Detected {
		return
	}
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	o.driftCounter.Add(ctx, 1)
}

func (o *OTelObserver) OnComplete(snapshot types.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.span == nil {
		return
	}
	o.span.SetAttributes(attribute.Int("l0.token_count", snapshot.TokenCount))
	o.span.SetStatus(codes.Ok, "")
	o.span.End()
	o.span = nil
}

func (o *OTelObserver) OnError(err *shared.L0Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.span != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Message)
		o.span.End()
		o.span = nil
	}
	if err.Category == shared.CategoryInternal {
		log.Printf("[l0] internal halt, dumping state:\n%s", spew.Sdump(err))
	}
}

func (o *OTelObserver) OnAbort(tokenCount, contentLength int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.span == nil {
		return
	}
	o.span.SetAttributes(
		attribute.Int("l0.token_count", tokenCount),
		attribute.Int("l0.content_length", contentLength),
	)
	o.span.SetStatus(codes.Error, "aborted")
	o.span.End()
	o.span = nil
}

// PrometheusObserver is a second, optional types.LifecycleObserver for
// callers who scrape Prometheus rather than (or in addition to) exporting
// OTel metrics. It registers its own vectors against the supplied registry
// so embedding it never collides with a caller's existing metric names.
type PrometheusObserver struct {
	types.NoopObserver

	retries     *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	violations  *prometheus.CounterVec
	interToken  prometheus.Histogram
	lastTokenAt time.Time
	mu          sync.Mutex
}

// NewPrometheusObserver registers its collectors on reg (use
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer-wrapping callers can pass that instead).
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "l0_retries_total",
			Help: "Retries planned by the retry planner, by category.",
		}, []string{"category"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "l0_fallbacks_total",
			Help: "Fallback switches, by reason.",
		}, []string{"reason"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "l0_violations_total",
			Help: "Guardrail violations, by rule and severity.",
		}, []string{"rule", "severity"}),
		interToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "l0_inter_token_latency_ms",
			Help:    "Milliseconds between consecutive content-bearing events.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}),
	}
	reg.MustRegister(o.retries, o.fallbacks, o.violations, o.interToken)
	return o
}

func (o *PrometheusObserver) OnEvent(evt shared.Event) {
	if !evt.IsContentBearing() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.lastTokenAt.IsZero() {
		o.interToken.Observe(float64(evt.EmittedAt.Sub(o.lastTokenAt).Milliseconds()))
	}
	o.lastTokenAt = evt.EmittedAt
}

func (o *PrometheusObserver) OnRetry(category shared.Category, attempt int, delayMs int64) {
	o.retries.WithLabelValues(string(category)).Inc()
}

func (o *PrometheusObserver) OnFallback(fromIndex, toIndex int, reason string) {
	o.fallbacks.WithLabelValues(reason).Inc()
}

func (o *PrometheusObserver) OnViolation(v shared.Violation) {
	o.violations.WithLabelValues(v.Rule, string(v.Severity)).Inc()
}
