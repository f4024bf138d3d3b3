package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGStore persists raw analytics events and rollups in Postgres.
type PGStore struct {
	DB *sql.DB
}

var _ Store = (*PGStore)(nil)

// InsertRawEvent appends one completed message-processing record.
func (s *PGStore) InsertRawEvent(ctx context.Context, ev *RawEvent) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO raw_analytics_events (
			scope, subject, message_type, command,
			message_length, response_length,
			processing_ms, ai_response_ms, total_ms,
			cache_hit, success, error_type, error_message,
			moderation_flagged, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, ev.Scope, ev.Subject, ev.MessageType, ev.Command,
		ev.MessageLength, ev.ResponseLength,
		ev.ProcessingMS, ev.AIResponseMS, ev.TotalMS,
		ev.CacheHit, ev.Success, ev.ErrorType, ev.ErrorMessage,
		ev.ModerationFlagged, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert raw analytics event: %w", err)
	}
	return nil
}

// ScopesWithEvents lists the distinct scopes that produced events in
// [from, to).
func (s *PGStore) ScopesWithEvents(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT scope FROM raw_analytics_events
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY scope
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query scopes with events: %w", err)
	}
	defer rows.Close()
	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// EventsInRange loads a scope's raw events for [from, to).
func (s *PGStore) EventsInRange(ctx context.Context, scope string, from, to time.Time) ([]RawEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT scope, subject, COALESCE(message_type,''), COALESCE(command,''),
		       message_length, response_length,
		       processing_ms, ai_response_ms, total_ms,
		       cache_hit, success, COALESCE(error_type,''), COALESCE(error_message,''),
		       moderation_flagged, created_at
		FROM raw_analytics_events
		WHERE scope = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, scope, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query events in range: %w", err)
	}
	defer rows.Close()
	var events []RawEvent
	for rows.Next() {
		var ev RawEvent
		if err := rows.Scan(&ev.Scope, &ev.Subject, &ev.MessageType, &ev.Command,
			&ev.MessageLength, &ev.ResponseLength,
			&ev.ProcessingMS, &ev.AIResponseMS, &ev.TotalMS,
			&ev.CacheHit, &ev.Success, &ev.ErrorType, &ev.ErrorMessage,
			&ev.ModerationFlagged, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PriorSubjects reports which of the given subjects have at least one event
// in the scope strictly before the cutoff.
func (s *PGStore) PriorSubjects(ctx context.Context, scope string, before time.Time, subjects []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(subjects))
	if len(subjects) == 0 {
		return seen, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT subject FROM raw_analytics_events
		WHERE scope = $1 AND created_at < $2 AND subject = ANY($3)
	`, scope, before.UTC(), subjects)
	if err != nil {
		return nil, fmt.Errorf("query prior subjects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("scan prior subject: %w", err)
		}
		seen[subject] = true
	}
	return seen, rows.Err()
}

// UpsertRollup writes the rollup, overwriting any previous materialization
// of the same (scope, bucket, granularity). The bool reports whether a new
// row was created.
func (s *PGStore) UpsertRollup(ctx context.Context, r *Rollup) (bool, error) {
	counts, err := json.Marshal(r.CommandCounts)
	if err != nil {
		return false, fmt.Errorf("marshal command counts: %w", err)
	}

	var exists bool
	err = s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM analytics_rollups
			WHERE scope = $1 AND bucket_start = $2 AND granularity = $3
		)
	`, r.Scope, r.BucketStart.UTC(), string(r.Granularity)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rollup existence: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO analytics_rollups (
			scope, bucket_start, granularity,
			total_messages, successful_messages, failed_messages,
			unique_users, command_counts,
			avg_processing_ms, avg_ai_response_ms, cache_hit_rate,
			rate_limit_errors, api_errors, moderation_actions,
			new_users, returning_users, computed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (scope, bucket_start, granularity) DO UPDATE SET
			total_messages = EXCLUDED.total_messages,
			successful_messages = EXCLUDED.successful_messages,
			failed_messages = EXCLUDED.failed_messages,
			unique_users = EXCLUDED.unique_users,
			command_counts = EXCLUDED.command_counts,
			avg_processing_ms = EXCLUDED.avg_processing_ms,
			avg_ai_response_ms = EXCLUDED.avg_ai_response_ms,
			cache_hit_rate = EXCLUDED.cache_hit_rate,
			rate_limit_errors = EXCLUDED.rate_limit_errors,
			api_errors = EXCLUDED.api_errors,
			moderation_actions = EXCLUDED.moderation_actions,
			new_users = EXCLUDED.new_users,
			returning_users = EXCLUDED.returning_users,
			computed_at = EXCLUDED.computed_at
	`, r.Scope, r.BucketStart.UTC(), string(r.Granularity),
		r.TotalMessages, r.SuccessfulMessages, r.FailedMessages,
		r.UniqueUsers, string(counts),
		r.AvgProcessingMS, r.AvgAIResponseMS, r.CacheHitRate,
		r.RateLimitErrors, r.APIErrors, r.ModerationActions,
		r.NewUsers, r.ReturningUsers, r.ComputedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("upsert rollup: %w", err)
	}
	return !exists, nil
}

// GetRollup loads one rollup, or nil when none has been computed.
func (s *PGStore) GetRollup(ctx context.Context, scope string, bucketStart time.Time, g Granularity) (*Rollup, error) {
	r := Rollup{Scope: scope, Granularity: g}
	var counts []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT bucket_start, total_messages, successful_messages, failed_messages,
		       unique_users, command_counts,
		       avg_processing_ms, avg_ai_response_ms, cache_hit_rate,
		       rate_limit_errors, api_errors, moderation_actions,
		       new_users, returning_users, computed_at
		FROM analytics_rollups
		WHERE scope = $1 AND bucket_start = $2 AND granularity = $3
	`, scope, bucketStart.UTC(), string(g)).Scan(
		&r.BucketStart, &r.TotalMessages, &r.SuccessfulMessages, &r.FailedMessages,
		&r.UniqueUsers, &counts,
		&r.AvgProcessingMS, &r.AvgAIResponseMS, &r.CacheHitRate,
		&r.RateLimitErrors, &r.APIErrors, &r.ModerationActions,
		&r.NewUsers, &r.ReturningUsers, &r.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rollup: %w", err)
	}
	if err := json.Unmarshal(counts, &r.CommandCounts); err != nil {
		return nil, fmt.Errorf("unmarshal command counts: %w", err)
	}
	return &r, nil
}
