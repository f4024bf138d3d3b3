package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeStore struct {
	policies  map[string]*Policy
	records   map[string]*ViolationRecord
	events    []ViolationEvent
	logs      []ActionLog
	recordErr error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		policies: make(map[string]*Policy),
		records:  make(map[string]*ViolationRecord),
	}
}

func key(subject, scope string) string { return subject + "|" + scope }

func (s *fakeStore) GetPolicy(ctx context.Context, scope string) (*Policy, error) {
	return s.policies[scope], nil
}

func (s *fakeStore) GetRecord(ctx context.Context, subject, scope string) (*ViolationRecord, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	rec, ok := s.records[key(subject, scope)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) SaveViolation(ctx context.Context, rec *ViolationRecord, ev ViolationEvent) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *rec
	s.records[key(rec.Subject, rec.Scope)] = &cp
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) WriteActionLog(ctx context.Context, entry ActionLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStore) ClearBan(ctx context.Context, subject, scope string) error {
	if rec, ok := s.records[key(subject, scope)]; ok {
		rec.IsBanned = false
		rec.BannedAt = time.Time{}
	}
	return nil
}

type fakeClassifier struct {
	err   error
	calls int
}

func (c *fakeClassifier) Classify(ctx context.Context, text, correlationID string) (Verdict, error) {
	c.calls++
	if c.err != nil {
		return Verdict{}, c.err
	}
	if strings.Contains(text, "slur") {
		return Verdict{IsOffensive: true, OffendingTerms: []string{"slur"}}, nil
	}
	return Verdict{}, nil
}

type enforcementCall struct {
	action   Action
	subject  string
	duration time.Duration
}

type fakeEnforcer struct {
	handles    bool
	canEnforce bool
	err        error
	calls      []enforcementCall
}

func (f *fakeEnforcer) Handles(scope string) bool    { return f.handles }
func (f *fakeEnforcer) CanEnforce(scope string) bool { return f.canEnforce }
func (f *fakeEnforcer) Warn(ctx context.Context, subject, scope, message string) error {
	f.calls = append(f.calls, enforcementCall{action: ActionWarning, subject: subject})
	return f.err
}
func (f *fakeEnforcer) Timeout(ctx context.Context, subject, scope string, d time.Duration, reason string) error {
	f.calls = append(f.calls, enforcementCall{action: ActionTimeout, subject: subject, duration: d})
	return f.err
}
func (f *fakeEnforcer) Ban(ctx context.Context, subject, scope, reason string) error {
	f.calls = append(f.calls, enforcementCall{action: ActionBan, subject: subject})
	return f.err
}
func (f *fakeEnforcer) Unban(ctx context.Context, subject, scope string) error {
	f.calls = append(f.calls, enforcementCall{action: ActionUnban, subject: subject})
	return f.err
}

func defaultPolicy() Policy {
	return Policy{
		Enabled:                true,
		CheckAIResponses:       true,
		TimeoutLadderSeconds:   [4]int{0, 300, 600, 1200},
		MaxViolationsBeforeBan: 5,
		LogAllActions:          true,
	}
}

func newTestEngine() (*Engine, *fakeStore, *fakeClassifier, *fakeEnforcer) {
	store := newFakeStore()
	classifier := &fakeClassifier{}
	enforcer := &fakeEnforcer{handles: true, canEnforce: true}
	return &Engine{
		Store:      store,
		Classifier: classifier,
		Enforcer:   enforcer,
		Defaults:   defaultPolicy(),
	}, store, classifier, enforcer
}

func TestEscalationLadder(t *testing.T) {
	e, store, _, enforcer := newTestEngine()
	ctx := context.Background()
	res := CheckResult{IsOffensive: true, OffendingTerms: []string{"slur"}, Reason: "offensive content: slur"}

	want := []struct {
		action   Action
		duration time.Duration
	}{
		{ActionWarning, 0},
		{ActionTimeout, 300 * time.Second},
		{ActionTimeout, 600 * time.Second},
		{ActionTimeout, 1200 * time.Second},
		{ActionBan, 0},
	}
	for i, w := range want {
		action, ok := e.HandleViolation(ctx, "u1", "chan1", res)
		if !ok {
			t.Fatalf("violation %d: enforcement reported failure", i+1)
		}
		if action != w.action {
			t.Errorf("violation %d: action = %q, want %q", i+1, action, w.action)
		}
		call := enforcer.calls[len(enforcer.calls)-1]
		if call.action != w.action || call.duration != w.duration {
			t.Errorf("violation %d: enforcement call = %+v, want %q/%v", i+1, call, w.action, w.duration)
		}
	}

	rec := store.records[key("u1", "chan1")]
	if rec == nil || !rec.IsBanned {
		t.Fatal("expected record banned after fifth violation")
	}
	if rec.WarningCount != 5 {
		t.Errorf("WarningCount = %d, want 5", rec.WarningCount)
	}
	if rec.TimeoutCount != 3 {
		t.Errorf("TimeoutCount = %d, want 3", rec.TimeoutCount)
	}
}

func TestBanIsTerminal(t *testing.T) {
	e, _, _, enforcer := newTestEngine()
	ctx := context.Background()
	res := CheckResult{IsOffensive: true, Reason: "offensive"}

	for i := 0; i < 5; i++ {
		e.HandleViolation(ctx, "u1", "chan1", res)
	}
	callsAtBan := len(enforcer.calls)

	// Further violations must be a no-op: no new enforcement calls.
	action, ok := e.HandleViolation(ctx, "u1", "chan1", res)
	if action != ActionNone || !ok {
		t.Errorf("post-ban violation = %q/%v, want no-op", action, ok)
	}
	if len(enforcer.calls) != callsAtBan {
		t.Errorf("enforcement calls grew after ban: %d -> %d", callsAtBan, len(enforcer.calls))
	}
}

func TestEscalationMonotonic(t *testing.T) {
	rank := map[Action]int{ActionWarning: 1, ActionTimeout: 2, ActionBan: 3}
	e, _, _, _ := newTestEngine()
	ctx := context.Background()
	res := CheckResult{IsOffensive: true, Reason: "offensive"}

	prev := 0
	for i := 0; i < 5; i++ {
		action, _ := e.HandleViolation(ctx, "u2", "chan1", res)
		if rank[action] < prev {
			t.Fatalf("violation %d: action %q weaker than previous", i+1, action)
		}
		prev = rank[action]
	}
}

func TestFirstOffenseTimeoutWhenConfigured(t *testing.T) {
	e, store, _, enforcer := newTestEngine()
	p := defaultPolicy()
	p.TimeoutLadderSeconds[0] = 60
	store.policies["chan1"] = &p

	action, _ := e.HandleViolation(context.Background(), "u1", "chan1", CheckResult{IsOffensive: true})
	if action != ActionTimeout {
		t.Errorf("first violation action = %q, want timeout for non-zero first rung", action)
	}
	if d := enforcer.calls[0].duration; d != 60*time.Second {
		t.Errorf("first timeout duration = %v, want 60s", d)
	}
}

func TestRepeatLongestTimeoutBelowBanThreshold(t *testing.T) {
	e, store, _, enforcer := newTestEngine()
	p := defaultPolicy()
	p.MaxViolationsBeforeBan = 7
	store.policies["chan1"] = &p
	ctx := context.Background()
	res := CheckResult{IsOffensive: true}

	for i := 0; i < 6; i++ {
		e.HandleViolation(ctx, "u1", "chan1", res)
	}
	// Violations 5 and 6 repeat the fourth (longest) rung.
	for _, call := range enforcer.calls[4:6] {
		if call.action != ActionTimeout || call.duration != 1200*time.Second {
			t.Errorf("late violation call = %+v, want timeout/1200s", call)
		}
	}
	action, _ := e.HandleViolation(ctx, "u1", "chan1", res)
	if action != ActionBan {
		t.Errorf("violation 7 action = %q, want ban at threshold", action)
	}
}

func TestResolveAction(t *testing.T) {
	policy := defaultPolicy()
	tests := []struct {
		violations int
		action     Action
		duration   int
	}{
		{1, ActionWarning, 0},
		{2, ActionTimeout, 300},
		{3, ActionTimeout, 600},
		{4, ActionTimeout, 1200},
		{5, ActionBan, 0},
		{9, ActionBan, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("violation_%d", tt.violations), func(t *testing.T) {
			action, dur := resolveAction(policy, tt.violations)
			if action != tt.action || dur != tt.duration {
				t.Errorf("resolveAction(%d) = %q/%d, want %q/%d", tt.violations, action, dur, tt.action, tt.duration)
			}
		})
	}
}

func TestCheckMessageFailsOpenOnClassifierError(t *testing.T) {
	e, _, classifier, _ := newTestEngine()
	classifier.err = errors.New("classifier 503 service unavailable")

	res := e.CheckMessageContent(context.Background(), "anything", "u1", "chan1")
	if !res.ShouldProcess {
		t.Error("expected ShouldProcess=true when classifier fails")
	}
	if res.IsOffensive {
		t.Error("expected IsOffensive=false when classifier fails")
	}
	if !strings.Contains(res.Reason, "failed") {
		t.Errorf("Reason = %q, want note about failed check", res.Reason)
	}
}

func TestCheckMessageDisabledSkipsClassifier(t *testing.T) {
	e, store, classifier, _ := newTestEngine()
	p := defaultPolicy()
	p.Enabled = false
	store.policies["chan1"] = &p

	res := e.CheckMessageContent(context.Background(), "slur", "u1", "chan1")
	if !res.ShouldProcess || res.IsOffensive {
		t.Errorf("disabled scope result = %+v, want clean pass-through", res)
	}
	if classifier.calls != 0 {
		t.Errorf("classifier called %d times for disabled scope, want 0", classifier.calls)
	}
}

func TestCheckMessageOffensive(t *testing.T) {
	e, _, _, _ := newTestEngine()
	res := e.CheckMessageContent(context.Background(), "a slur here", "u1", "chan1")
	if res.ShouldProcess {
		t.Error("expected ShouldProcess=false for offensive content")
	}
	if !res.IsOffensive || len(res.OffendingTerms) == 0 {
		t.Errorf("result = %+v, want offensive with terms", res)
	}
}

func TestAIResponseNeverPenalizesSubject(t *testing.T) {
	e, store, _, enforcer := newTestEngine()

	res := e.CheckAIResponse(context.Background(), "a slur here", "u1", "chan1")
	if res.ShouldProcess {
		t.Error("expected flagged ai response to be rejected")
	}
	if len(store.records) != 0 {
		t.Error("ai response check must not create a violation record")
	}
	if len(enforcer.calls) != 0 {
		t.Error("ai response check must not trigger enforcement")
	}
	// Flagged responses are still logged for review.
	if len(store.logs) != 1 || store.logs[0].ViolationType != ViolationAIInappropriate {
		t.Errorf("logs = %+v, want one ai_inappropriate entry", store.logs)
	}
}

func TestNoEnforcementCapabilityWarnsOnly(t *testing.T) {
	e, store, _, enforcer := newTestEngine()
	enforcer.canEnforce = false

	action, ok := e.HandleViolation(context.Background(), "u1", "dm:u1", CheckResult{IsOffensive: true})
	if action != ActionWarning {
		t.Errorf("action = %q, want warning for scope without enforcement", action)
	}
	if !ok {
		t.Error("warning on a handled scope should report success")
	}
	// The warning still reaches the platform that owns the scope.
	if len(enforcer.calls) != 1 || enforcer.calls[0].action != ActionWarning {
		t.Errorf("enforcer calls = %+v, want one warning", enforcer.calls)
	}
	if len(store.records) != 0 {
		t.Error("warning-only scope should not create a ledger record")
	}
	if len(store.logs) != 1 {
		t.Errorf("logs = %d entries, want 1", len(store.logs))
	}
}

func TestIsBannedFailsOpenOnStoreError(t *testing.T) {
	e, store, _, _ := newTestEngine()
	store.recordErr = errors.New("connection refused")
	if e.IsBanned(context.Background(), "u1", "chan1") {
		t.Error("expected IsBanned to fail open on storage error")
	}
}

func TestUnban(t *testing.T) {
	e, _, _, enforcer := newTestEngine()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.HandleViolation(ctx, "u1", "chan1", CheckResult{IsOffensive: true})
	}
	if !e.IsBanned(ctx, "u1", "chan1") {
		t.Fatal("expected ban after five violations")
	}

	if ok := e.Unban(ctx, "u1", "chan1", "appeal accepted"); !ok {
		t.Error("Unban reported failure")
	}
	if e.IsBanned(ctx, "u1", "chan1") {
		t.Error("expected ban cleared after Unban")
	}
	last := enforcer.calls[len(enforcer.calls)-1]
	if last.action != ActionUnban {
		t.Errorf("last enforcement call = %q, want unban", last.action)
	}
}

func TestEnforcementFailureReportedNotRaised(t *testing.T) {
	e, store, _, enforcer := newTestEngine()
	enforcer.err = errors.New("timeout applying timeout")

	action, ok := e.HandleViolation(context.Background(), "u1", "chan1", CheckResult{IsOffensive: true})
	if action != ActionWarning {
		t.Errorf("action = %q, want warning", action)
	}
	if ok {
		t.Error("expected enforcement failure to be reported")
	}
	// Bookkeeping still happens: record, event, and log all written.
	if len(store.records) != 1 || len(store.events) != 1 || len(store.logs) != 1 {
		t.Errorf("records/events/logs = %d/%d/%d, want 1/1/1",
			len(store.records), len(store.events), len(store.logs))
	}
	if store.logs[0].Success {
		t.Error("action log should capture enforcement failure")
	}
}

func TestViolationScopesIndependent(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ctx := context.Background()
	res := CheckResult{IsOffensive: true}

	e.HandleViolation(ctx, "u1", "chan1", res)
	action, _ := e.HandleViolation(ctx, "u1", "chan2", res)
	if action != ActionWarning {
		t.Errorf("first violation in a new scope = %q, want warning", action)
	}
}

func TestWarningDeliveredThroughScopeOwner(t *testing.T) {
	// A DM-style scope: the platform enforcer handles it but has no
	// timeout/ban primitives. Wrapped in the fan-out, the warning must
	// still reach that enforcer.
	store := newFakeStore()
	member := &fakeEnforcer{handles: true, canEnforce: false}
	e := &Engine{
		Store:      store,
		Classifier: &fakeClassifier{},
		Enforcer:   Enforcers{member},
		Defaults:   defaultPolicy(),
	}

	action, ok := e.HandleViolation(context.Background(), "u1", "discord-dm:chan", CheckResult{IsOffensive: true})
	if action != ActionWarning {
		t.Errorf("action = %q, want warning", action)
	}
	if !ok {
		t.Error("delivered warning should report success")
	}
	if len(member.calls) != 1 || member.calls[0].action != ActionWarning {
		t.Errorf("member calls = %+v, want one warning", member.calls)
	}
}

func TestHandleViolationWithoutEnforcer(t *testing.T) {
	store := newFakeStore()
	e := &Engine{
		Store:      store,
		Classifier: &fakeClassifier{},
		Defaults:   defaultPolicy(),
	}

	action, ok := e.HandleViolation(context.Background(), "u1", "chan1", CheckResult{IsOffensive: true})
	if action != ActionWarning {
		t.Errorf("action = %q, want warning", action)
	}
	if ok {
		t.Error("no enforcer configured, success must be false")
	}
	if len(store.logs) != 1 || store.logs[0].Success {
		t.Errorf("logs = %+v, want one failed entry", store.logs)
	}
}

func TestViolationPersistsMessageExcerpt(t *testing.T) {
	e, store, _, _ := newTestEngine()
	ctx := context.Background()

	msg := "you absolute slur, get out"
	res := e.CheckMessageContent(ctx, msg, "u1", "chan1")
	if !res.IsOffensive {
		t.Fatal("expected message flagged")
	}
	e.HandleViolation(ctx, "u1", "chan1", res)

	if got := store.events[0].MessageExcerpt; got != msg {
		t.Errorf("event excerpt = %q, want the offending message", got)
	}
	if got := store.logs[0].MessageExcerpt; got != msg {
		t.Errorf("log excerpt = %q, want the offending message", got)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	long := strings.Repeat("é", excerptLimit) // 2 bytes per rune
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"}, // cutting mid-rune backs off
		{long, excerptLimit, strings.Repeat("é", excerptLimit/2)},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
