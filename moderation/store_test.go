package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/chatwarden/testutil"
)

func TestPGStoreViolationRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &PGStore{DB: database}
	ctx := context.Background()

	subject, scope := "pgtest-u1", "pgtest-chan1"
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM violation_events WHERE scope = $1`, scope)
		_, _ = database.Exec(`DELETE FROM violation_records WHERE scope = $1`, scope)
	})

	rec, err := store.GetRecord(ctx, subject, scope)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec != nil {
		t.Fatal("expected nil record for clean pair")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	rec = &ViolationRecord{
		Subject:            subject,
		Scope:              scope,
		WarningCount:       2,
		TimeoutCount:       1,
		LastTimeoutAt:      now,
		LastTimeoutSeconds: 300,
		CreatedAt:          now,
	}
	ev := ViolationEvent{
		OffendingTerms:  []string{"term1", "term2"},
		MessageExcerpt:  "excerpt",
		Action:          ActionTimeout,
		DurationSeconds: 300,
		Success:         true,
		CreatedAt:       now,
	}
	if err := store.SaveViolation(ctx, rec, ev); err != nil {
		t.Fatalf("SaveViolation: %v", err)
	}

	got, err := store.GetRecord(ctx, subject, scope)
	if err != nil {
		t.Fatalf("GetRecord after save: %v", err)
	}
	if got == nil {
		t.Fatal("expected record after save")
	}
	if got.WarningCount != 2 || got.TimeoutCount != 1 || got.IsBanned {
		t.Errorf("record = %+v, want counts 2/1 and not banned", got)
	}
	if got.LastTimeoutSeconds != 300 {
		t.Errorf("LastTimeoutSeconds = %d, want 300", got.LastTimeoutSeconds)
	}

	// Ban and clear it again.
	got.IsBanned = true
	got.BannedAt = now
	if err := store.SaveViolation(ctx, got, ViolationEvent{Action: ActionBan, CreatedAt: now}); err != nil {
		t.Fatalf("SaveViolation ban: %v", err)
	}
	banned, _ := store.GetRecord(ctx, subject, scope)
	if !banned.IsBanned || banned.BannedAt.IsZero() {
		t.Error("expected banned record with BannedAt set")
	}
	if err := store.ClearBan(ctx, subject, scope); err != nil {
		t.Fatalf("ClearBan: %v", err)
	}
	cleared, _ := store.GetRecord(ctx, subject, scope)
	if cleared.IsBanned || !cleared.BannedAt.IsZero() {
		t.Error("expected ClearBan to reset ban state")
	}
}

func TestPGStorePolicyUpsert(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &PGStore{DB: database}
	ctx := context.Background()

	scope := "pgtest-policy-chan"
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM moderation_configs WHERE scope = $1`, scope)
	})

	p, err := store.GetPolicy(ctx, scope)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil policy for unknown scope")
	}

	want := Policy{
		Enabled:                true,
		CheckAIResponses:       false,
		TimeoutLadderSeconds:   [4]int{60, 120, 300, 900},
		MaxViolationsBeforeBan: 4,
		LogAllActions:          true,
	}
	if err := store.UpsertPolicy(ctx, scope, want); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	got, err := store.GetPolicy(ctx, scope)
	if err != nil {
		t.Fatalf("GetPolicy after upsert: %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("policy = %+v, want %+v", got, want)
	}

	// Second upsert overwrites.
	want.MaxViolationsBeforeBan = 6
	if err := store.UpsertPolicy(ctx, scope, want); err != nil {
		t.Fatalf("UpsertPolicy overwrite: %v", err)
	}
	got, _ = store.GetPolicy(ctx, scope)
	if got.MaxViolationsBeforeBan != 6 {
		t.Errorf("MaxViolationsBeforeBan = %d, want 6 after overwrite", got.MaxViolationsBeforeBan)
	}
}

func TestPGStoreActionLog(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &PGStore{DB: database}
	ctx := context.Background()

	scope := "pgtest-log-chan"
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM moderation_action_logs WHERE scope = $1`, scope)
	})

	entry := ActionLog{
		CreatedAt:       time.Now().UTC(),
		Scope:           scope,
		Subject:         "u1",
		ViolationType:   ViolationOffensiveContent,
		OffendingTerms:  []string{"x"},
		MessageExcerpt:  "excerpt",
		Action:          ActionTimeout,
		DurationSeconds: 300,
		Reason:          "test",
		ViolationCount:  2,
		Success:         true,
	}
	if err := store.WriteActionLog(ctx, entry); err != nil {
		t.Fatalf("WriteActionLog: %v", err)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM moderation_action_logs WHERE scope = $1`, scope).Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 1 {
		t.Errorf("log rows = %d, want 1", count)
	}
}
