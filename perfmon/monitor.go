// Package perfmon watches operation timings, error rates, and cache hit
// rates against configurable thresholds, keeping a bounded in-memory window
// of recent samples and raising de-duplicated alerts when a threshold is
// crossed.
package perfmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatwarden/telemetry"
)

// MetricType names what a sample measures.
type MetricType string

const (
	MetricResponseTime   MetricType = "response_time"
	MetricAIResponseTime MetricType = "ai_response_time"
	MetricDBQueryTime    MetricType = "db_query_time"
	MetricAPICallTime    MetricType = "api_call_time"
	MetricErrorRate      MetricType = "error_rate"
	MetricCacheHitRate   MetricType = "cache_hit_rate"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds holds the (warning, critical) pair for one metric type.
// Latency metrics are milliseconds; error rate and cache hit rate are
// fractions in [0, 1]. For cache hit rate the values are floors: dropping
// below them is what raises the alert.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// DefaultThresholds mirror the values the dashboards were tuned against.
func DefaultThresholds() map[MetricType]Thresholds {
	return map[MetricType]Thresholds{
		MetricResponseTime:   {Warning: 2000, Critical: 5000},
		MetricAIResponseTime: {Warning: 3000, Critical: 8000},
		MetricDBQueryTime:    {Warning: 500, Critical: 2000},
		MetricAPICallTime:    {Warning: 1000, Critical: 4000},
		MetricErrorRate:      {Warning: 0.05, Critical: 0.15},
		MetricCacheHitRate:   {Warning: 0.5, Critical: 0.2},
	}
}

// Sample is one recorded measurement.
type Sample struct {
	Operation string
	Type      MetricType
	Value     float64
	Scope     string
	Success   bool
	At        time.Time
}

// Alert records one threshold crossing. Mutated only by acknowledgement.
type Alert struct {
	ID             string
	CreatedAt      time.Time
	Scope          string
	Type           MetricType
	Severity       Severity
	Message        string
	MetricValue    float64
	Threshold      float64
	Acknowledged   bool
	AcknowledgedAt time.Time
}

// AlertStore persists alerts. Optional; a nil store keeps alerts in memory
// only.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *Alert) error
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) error
}

const (
	defaultSampleRing    = 1000
	defaultAlertRing     = 100
	defaultAlertCooldown = time.Minute
)

// Monitor is the in-process performance watcher. Safe for concurrent use.
type Monitor struct {
	Thresholds    map[MetricType]Thresholds
	AlertCooldown time.Duration
	Store         AlertStore

	mu        sync.Mutex
	samples   []Sample // ring, oldest evicted first
	alerts    []Alert  // ring, oldest evicted first
	lastAlert map[string]time.Time

	sampleCap int
	alertCap  int
	now       func() time.Time
}

// NewMonitor builds a monitor with default thresholds, ring sizes, and
// cooldown.
func NewMonitor() *Monitor {
	return &Monitor{
		Thresholds:    DefaultThresholds(),
		AlertCooldown: defaultAlertCooldown,
		lastAlert:     make(map[string]time.Time),
		sampleCap:     defaultSampleRing,
		alertCap:      defaultAlertRing,
		now:           time.Now,
	}
}

// RecordMetric stores one sample and raises an alert if the value crosses a
// threshold for its type outside the dedup cooldown.
func (m *Monitor) RecordMetric(ctx context.Context, operation string, typ MetricType, value float64, scope string, success bool) {
	now := m.now()
	m.mu.Lock()
	m.samples = appendRing(m.samples, Sample{
		Operation: operation, Type: typ, Value: value,
		Scope: scope, Success: success, At: now,
	}, m.sampleCap)
	m.mu.Unlock()

	sev, threshold, crossed := m.classify(typ, value)
	if !crossed {
		return
	}
	m.raise(ctx, typ, sev, scope, value, threshold)
}

// classify compares a value against its type's thresholds. Cache hit rate is
// inverted: a low rate is the problem, so the configured floors become
// complementary ceilings and the same >= comparison applies.
func (m *Monitor) classify(typ MetricType, value float64) (Severity, float64, bool) {
	th, ok := m.Thresholds[typ]
	if !ok {
		return "", 0, false
	}
	warn, crit := th.Warning, th.Critical
	if typ == MetricCacheHitRate {
		value = 1 - value
		warn = 1 - warn
		crit = 1 - crit
	}
	switch {
	case value >= crit:
		return SeverityCritical, th.Critical, true
	case value >= warn:
		return SeverityWarning, th.Warning, true
	}
	return "", 0, false
}

func (m *Monitor) raise(ctx context.Context, typ MetricType, sev Severity, scope string, value, threshold float64) {
	key := string(typ) + "|" + scope + "|" + string(sev)
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastAlert[key]; ok && now.Sub(last) < m.AlertCooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[key] = now
	alert := Alert{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		Scope:       scope,
		Type:        typ,
		Severity:    sev,
		Message:     alertMessage(typ, sev, value, threshold),
		MetricValue: value,
		Threshold:   threshold,
	}
	m.alerts = appendRing(m.alerts, alert, m.alertCap)
	m.mu.Unlock()

	telemetry.RecordAlert(string(sev))
	slog.Warn("performance alert",
		slog.String("type", string(typ)),
		slog.String("severity", string(sev)),
		slog.String("scope", scope),
		slog.Float64("value", value),
		slog.Float64("threshold", threshold))
	if m.Store != nil {
		if err := m.Store.InsertAlert(ctx, &alert); err != nil {
			slog.Error("failed to persist performance alert",
				slog.String("id", alert.ID), slog.Any("err", err))
		}
	}
}

// Acknowledge marks an alert handled. Unknown ids are a no-op in memory but
// still forwarded to the store.
func (m *Monitor) Acknowledge(ctx context.Context, id string) error {
	now := m.now()
	m.mu.Lock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			m.alerts[i].AcknowledgedAt = now
			break
		}
	}
	m.mu.Unlock()
	if m.Store == nil {
		return nil
	}
	return m.Store.AcknowledgeAlert(ctx, id, now)
}

// Alerts returns a copy of the retained alerts, newest last.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// TimeDBQuery times fn as a database query, records the sample, and returns
// fn's error unchanged.
func (m *Monitor) TimeDBQuery(ctx context.Context, operation string, fn func() error) error {
	return m.timeOp(ctx, operation, MetricDBQueryTime, fn)
}

// TimeAPICall times fn as an external API call, records the sample, and
// returns fn's error unchanged.
func (m *Monitor) TimeAPICall(ctx context.Context, operation string, fn func() error) error {
	return m.timeOp(ctx, operation, MetricAPICallTime, fn)
}

func (m *Monitor) timeOp(ctx context.Context, operation string, typ MetricType, fn func() error) error {
	start := m.now()
	err := fn()
	elapsed := float64(m.now().Sub(start).Milliseconds())
	m.RecordMetric(ctx, operation, typ, elapsed, "", err == nil)
	return err
}

func appendRing[T any](ring []T, v T, max int) []T {
	ring = append(ring, v)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}
