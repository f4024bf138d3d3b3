package perfmon

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGStore persists alerts and serves historical reports from the raw
// analytics events table.
type PGStore struct {
	DB *sql.DB
}

var _ AlertStore = (*PGStore)(nil)

// InsertAlert writes one alert row.
func (s *PGStore) InsertAlert(ctx context.Context, a *Alert) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO performance_alerts (
			id, created_at, scope, alert_type, severity, message,
			metric_value, threshold, acknowledged
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false)
	`, a.ID, a.CreatedAt.UTC(), a.Scope, string(a.Type), string(a.Severity),
		a.Message, a.MetricValue, a.Threshold)
	if err != nil {
		return fmt.Errorf("insert performance alert: %w", err)
	}
	return nil
}

// AcknowledgeAlert marks a persisted alert handled.
func (s *PGStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE performance_alerts
		SET acknowledged = true, acknowledged_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("acknowledge performance alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest persisted alerts, newest first.
func (s *PGStore) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, created_at, COALESCE(scope,''), alert_type, severity,
		       COALESCE(message,''), metric_value, threshold,
		       acknowledged, acknowledged_at
		FROM performance_alerts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		var a Alert
		var typ, sev string
		var ackedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.Scope, &typ, &sev,
			&a.Message, &a.MetricValue, &a.Threshold,
			&a.Acknowledged, &ackedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = MetricType(typ)
		a.Severity = Severity(sev)
		a.AcknowledgedAt = ackedAt.Time
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// HistoricalReport recomputes the Report shape from persisted raw analytics
// events, unbounded by the in-memory ring.
func (s *PGStore) HistoricalReport(ctx context.Context, scope string, from, to time.Time) (Report, error) {
	r := Report{Scope: scope, From: from, To: to}
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(CASE WHEN success THEN 0.0 ELSE 1.0 END), 0),
		       COALESCE(AVG(processing_ms) FILTER (WHERE processing_ms > 0), 0),
		       COALESCE(MAX(processing_ms), 0),
		       COALESCE(AVG(ai_response_ms) FILTER (WHERE ai_response_ms > 0), 0),
		       COALESCE(AVG(CASE WHEN cache_hit THEN 1.0 ELSE 0.0 END), 0)
		FROM raw_analytics_events
		WHERE scope = $1 AND created_at >= $2 AND created_at < $3
	`, scope, from.UTC(), to.UTC())
	if err := row.Scan(&r.TotalOperations, &r.ErrorRate,
		&r.AvgResponseMS, &r.MaxResponseMS, &r.AvgAIResponseMS, &r.CacheHitRate); err != nil {
		return Report{}, fmt.Errorf("query historical report: %w", err)
	}
	r.ErrorRate = round2(r.ErrorRate)
	r.AvgResponseMS = round2(r.AvgResponseMS)
	r.AvgAIResponseMS = round2(r.AvgAIResponseMS)
	r.CacheHitRate = round2(r.CacheHitRate)
	return r, nil
}
