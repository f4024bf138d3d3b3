package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGStore persists engagement events in Postgres.
type PGStore struct {
	DB *sql.DB
}

var _ EventStore = (*PGStore)(nil)

// InsertEvent writes a freshly detected event. The row is created once;
// MarkResponded later flips the response columns if a reaction goes out.
func (s *PGStore) InsertEvent(ctx context.Context, ev *Event) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO engagement_events (
			id, scope, event_type, occurred_at,
			months, tier, gift_count, raid_viewers, bits,
			message_velocity, chat_activity, engagement_score,
			responded, response_text, response_delay_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,'',0)
	`, ev.ID, ev.Scope, string(ev.Type), ev.OccurredAt.UTC(),
		ev.Months, ev.Tier, ev.GiftCount, ev.RaidViewers, ev.Bits,
		ev.MessageVelocity, ev.ChatActivity, ev.EngagementScore)
	if err != nil {
		return fmt.Errorf("insert engagement event: %w", err)
	}
	return nil
}

// MarkResponded records the response that was sent for an event.
func (s *PGStore) MarkResponded(ctx context.Context, id, text string, delay time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE engagement_events
		SET responded = true, response_text = $2, response_delay_ms = $3
		WHERE id = $1
	`, id, text, delay.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark engagement event responded: %w", err)
	}
	return nil
}

// StatsRange aggregates events for a scope over [from, to).
func (s *PGStore) StatsRange(ctx context.Context, scope string, from, to time.Time) (Stats, error) {
	stats := Stats{CountsByType: make(map[EventType]int)}

	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(engagement_score), 0),
		       COALESCE(MAX(engagement_score), 0),
		       COALESCE(AVG(CASE WHEN responded THEN 1.0 ELSE 0.0 END), 0)
		FROM engagement_events
		WHERE scope = $1 AND occurred_at >= $2 AND occurred_at < $3
	`, scope, from.UTC(), to.UTC())
	if err := row.Scan(&stats.TotalEvents, &stats.MeanScore, &stats.PeakScore, &stats.ResponseShare); err != nil {
		return Stats{}, fmt.Errorf("query engagement stats: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM engagement_events
		WHERE scope = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_type
	`, scope, from.UTC(), to.UTC())
	if err != nil {
		return Stats{}, fmt.Errorf("query engagement type counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, fmt.Errorf("scan engagement type count: %w", err)
		}
		stats.CountsByType[EventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate engagement type counts: %w", err)
	}
	return stats, nil
}
