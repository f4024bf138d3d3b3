// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesProcessed prometheus.Counter
	MessagesRejected  prometheus.Counter
	ModerationActions *prometheus.CounterVec // by action: warning|timeout|ban|unban
	ClassifierErrors  prometheus.Counter
	EngagementEvents  *prometheus.CounterVec // by event type
	HypeMoments       prometheus.Counter
	AutoResponses     prometheus.Counter
	RollupRuns        prometheus.Counter
	RollupErrors      prometheus.Counter
	AlertsRaised      *prometheus.CounterVec // by severity: warning|critical

	// Histograms (seconds)
	MessageProcessingDuration prometheus.Observer
	ClassifierDuration        prometheus.Observer
	EnforcementDuration       prometheus.Observer
	AggregationDuration       prometheus.Observer

	// Gauges
	TrackedScopesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_messages_processed_total", Help: "Number of inbound chat messages accepted for processing"})
		MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_messages_rejected_total", Help: "Number of inbound chat messages rejected by moderation"})
		ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatwarden_moderation_actions_total", Help: "Enforcement actions taken, by action"}, []string{"action"})
		ClassifierErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_classifier_errors_total", Help: "Content classifier call failures (fail-open)"})
		EngagementEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatwarden_engagement_events_total", Help: "Engagement events recorded, by type"}, []string{"type"})
		HypeMoments = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_hype_moments_total", Help: "Hype moments detected"})
		AutoResponses = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_auto_responses_total", Help: "Contextual auto-responses sent"})
		RollupRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_rollup_runs_total", Help: "Analytics aggregation runs"})
		RollupErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chatwarden_rollup_errors_total", Help: "Per-scope analytics aggregation failures"})
		AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatwarden_alerts_raised_total", Help: "Performance alerts raised, by severity"}, []string{"severity"})
		MessageProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatwarden_message_processing_duration_seconds", Help: "End-to-end message pipeline duration seconds", Buckets: prometheus.DefBuckets})
		ClassifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatwarden_classifier_duration_seconds", Help: "Content classifier call duration seconds", Buckets: prometheus.DefBuckets})
		EnforcementDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatwarden_enforcement_duration_seconds", Help: "Enforcement API call duration seconds", Buckets: prometheus.DefBuckets})
		AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatwarden_aggregation_duration_seconds", Help: "Analytics rollup run duration seconds", Buckets: []float64{.1, .5, 1, 5, 15, 60, 300}})
		TrackedScopesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatwarden_tracked_scopes", Help: "Scopes with live engagement history"})
	})
}

// RecordModerationAction increments the action counter if metrics are initialized.
func RecordModerationAction(action string) {
	if ModerationActions != nil {
		ModerationActions.WithLabelValues(action).Inc()
	}
}

// RecordEngagementEvent increments the per-type event counter.
func RecordEngagementEvent(eventType string) {
	if EngagementEvents != nil {
		EngagementEvents.WithLabelValues(eventType).Inc()
	}
}

// RecordAlert increments the per-severity alert counter.
func RecordAlert(severity string) {
	if AlertsRaised != nil {
		AlertsRaised.WithLabelValues(severity).Inc()
	}
}

// SetTrackedScopes records the number of scopes with engagement history.
func SetTrackedScopes(n int) {
	if TrackedScopesGauge != nil {
		TrackedScopesGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records it in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
