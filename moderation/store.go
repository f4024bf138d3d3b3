package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PGStore is the Postgres-backed ledger. In a multi-instance deployment this
// is the shared, externally-consistent state enforcement decisions depend on.
type PGStore struct{ DB *sql.DB }

var _ Store = (*PGStore)(nil)

// GetPolicy loads the per-scope policy row, or nil when the scope has none.
func (s *PGStore) GetPolicy(ctx context.Context, scope string) (*Policy, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT enabled, check_ai_responses, first_timeout_seconds, second_timeout_seconds,
		        third_timeout_seconds, fourth_timeout_seconds, max_violations_before_ban, log_all_actions
		 FROM moderation_configs WHERE scope = $1`, scope)
	var p Policy
	err := row.Scan(&p.Enabled, &p.CheckAIResponses,
		&p.TimeoutLadderSeconds[0], &p.TimeoutLadderSeconds[1],
		&p.TimeoutLadderSeconds[2], &p.TimeoutLadderSeconds[3],
		&p.MaxViolationsBeforeBan, &p.LogAllActions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy for %s: %w", scope, err)
	}
	return &p, nil
}

// UpsertPolicy stores or updates the policy for a scope.
func (s *PGStore) UpsertPolicy(ctx context.Context, scope string, p Policy) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO moderation_configs(scope, enabled, check_ai_responses,
		        first_timeout_seconds, second_timeout_seconds, third_timeout_seconds, fourth_timeout_seconds,
		        max_violations_before_ban, log_all_actions, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		 ON CONFLICT(scope) DO UPDATE SET
		   enabled=EXCLUDED.enabled,
		   check_ai_responses=EXCLUDED.check_ai_responses,
		   first_timeout_seconds=EXCLUDED.first_timeout_seconds,
		   second_timeout_seconds=EXCLUDED.second_timeout_seconds,
		   third_timeout_seconds=EXCLUDED.third_timeout_seconds,
		   fourth_timeout_seconds=EXCLUDED.fourth_timeout_seconds,
		   max_violations_before_ban=EXCLUDED.max_violations_before_ban,
		   log_all_actions=EXCLUDED.log_all_actions,
		   updated_at=NOW()`,
		scope, p.Enabled, p.CheckAIResponses,
		p.TimeoutLadderSeconds[0], p.TimeoutLadderSeconds[1], p.TimeoutLadderSeconds[2], p.TimeoutLadderSeconds[3],
		p.MaxViolationsBeforeBan, p.LogAllActions)
	return err
}

// GetRecord loads the violation record for a (subject, scope) pair, or nil
// when the pair has no history.
func (s *PGStore) GetRecord(ctx context.Context, subject, scope string) (*ViolationRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT subject, scope, warning_count, timeout_count, is_banned,
		        banned_at, last_timeout_at,
		        last_timeout_seconds, created_at, COALESCE(updated_at, created_at)
		 FROM violation_records WHERE subject = $1 AND scope = $2`, subject, scope)
	var r ViolationRecord
	var bannedAt, lastTimeoutAt sql.NullTime
	err := row.Scan(&r.Subject, &r.Scope, &r.WarningCount, &r.TimeoutCount, &r.IsBanned,
		&bannedAt, &lastTimeoutAt, &r.LastTimeoutSeconds, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load violation record %s/%s: %w", subject, scope, err)
	}
	r.BannedAt = bannedAt.Time
	r.LastTimeoutAt = lastTimeoutAt.Time
	return &r, nil
}

// SaveViolation upserts the record and appends the event in one transaction.
func (s *PGStore) SaveViolation(ctx context.Context, rec *ViolationRecord, ev ViolationEvent) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin violation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO violation_records(subject, scope, warning_count, timeout_count, is_banned,
		        banned_at, last_timeout_at, last_timeout_seconds, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		 ON CONFLICT(subject, scope) DO UPDATE SET
		   warning_count=EXCLUDED.warning_count,
		   timeout_count=EXCLUDED.timeout_count,
		   is_banned=EXCLUDED.is_banned,
		   banned_at=EXCLUDED.banned_at,
		   last_timeout_at=EXCLUDED.last_timeout_at,
		   last_timeout_seconds=EXCLUDED.last_timeout_seconds,
		   updated_at=NOW()`,
		rec.Subject, rec.Scope, rec.WarningCount, rec.TimeoutCount, rec.IsBanned,
		nullableTime(rec.BannedAt), nullableTime(rec.LastTimeoutAt), rec.LastTimeoutSeconds, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert violation record: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO violation_events(subject, scope, offending_terms, message_excerpt,
		        action, duration_seconds, success, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.Subject, rec.Scope, strings.Join(ev.OffendingTerms, ","), ev.MessageExcerpt,
		string(ev.Action), ev.DurationSeconds, ev.Success, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append violation event: %w", err)
	}
	return tx.Commit()
}

// WriteActionLog appends one immutable audit row.
func (s *PGStore) WriteActionLog(ctx context.Context, entry ActionLog) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO moderation_action_logs(created_at, scope, subject, violation_type,
		        offending_terms, message_excerpt, action, duration_seconds, reason,
		        violation_count, success, error_message)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		entry.CreatedAt, entry.Scope, entry.Subject, string(entry.ViolationType),
		strings.Join(entry.OffendingTerms, ","), entry.MessageExcerpt, string(entry.Action),
		entry.DurationSeconds, entry.Reason, entry.ViolationCount, entry.Success, entry.ErrorMessage)
	return err
}

// ClearBan resets the banned flag; the violation history stays append-only.
func (s *PGStore) ClearBan(ctx context.Context, subject, scope string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE violation_records SET is_banned=FALSE, banned_at=NULL, updated_at=NOW()
		 WHERE subject=$1 AND scope=$2`, subject, scope)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
