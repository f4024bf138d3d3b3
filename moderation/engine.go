package moderation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/onnwee/chatwarden/cache"
	"github.com/onnwee/chatwarden/telemetry"
)

// excerptLimit bounds how much of the offending message is persisted.
const excerptLimit = 200

var errNoEnforcer = errors.New("no enforcer handles scope")

// Engine is the moderation decision engine. Checks fail open: a classifier or
// storage hiccup must never block normal chat processing. Enforcement
// failures are reported in the return value and logged, never retried here.
type Engine struct {
	Store      Store
	Classifier Classifier
	Enforcer   Enforcer
	// Defaults applies to scopes without a stored policy.
	Defaults Policy
	// PolicyCache, when set, fronts per-scope policy lookups.
	PolicyCache *cache.Cache[string, Policy]

	// one mutex per (subject, scope) so concurrent violations can't both
	// compute the escalation step from a stale count
	locks sync.Map
}

func (e *Engine) lockFor(subject, scope string) *sync.Mutex {
	key := subject + "\x00" + scope
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// policyFor resolves the effective policy for a scope. Storage failures fall
// back to defaults; moderation must not depend on a healthy database read.
func (e *Engine) policyFor(ctx context.Context, scope string) Policy {
	if e.PolicyCache != nil {
		if p, ok := e.PolicyCache.Get(scope); ok {
			return p
		}
	}
	if e.Store != nil {
		p, err := e.Store.GetPolicy(ctx, scope)
		if err != nil {
			slog.Warn("policy lookup failed, using defaults", slog.String("scope", scope), slog.Any("err", err))
			return e.Defaults
		}
		if p != nil {
			if e.PolicyCache != nil {
				e.PolicyCache.Set(scope, *p)
			}
			return *p
		}
	}
	if e.PolicyCache != nil {
		e.PolicyCache.Set(scope, e.Defaults)
	}
	return e.Defaults
}

// CheckMessageContent runs the content check on an inbound chat message.
// When moderation is disabled for the scope the classifier is not called.
// On classifier failure the check fails open: the message is processed and
// the reason notes the failed check.
func (e *Engine) CheckMessageContent(ctx context.Context, text, subject, scope string) CheckResult {
	policy := e.policyFor(ctx, scope)
	if !policy.Enabled {
		return CheckResult{ShouldProcess: true, Reason: "moderation disabled for scope"}
	}
	res := e.classify(ctx, text, scope)
	res.Message = text
	return res
}

// CheckAIResponse runs the content check on text the system itself generated.
// A positive hit is logged for review and the caller substitutes SafeFallback;
// the subject's violation count is never touched, since the subject did not
// author the content.
func (e *Engine) CheckAIResponse(ctx context.Context, text, subject, scope string) CheckResult {
	policy := e.policyFor(ctx, scope)
	if !policy.Enabled || !policy.CheckAIResponses {
		return CheckResult{ShouldProcess: true, Reason: "ai response check disabled for scope"}
	}
	res := e.classify(ctx, text, scope)
	res.Message = text
	if !res.IsOffensive {
		return res
	}
	res.ShouldProcess = false
	res.Reason = "ai response flagged, substituting fallback"
	if e.Store != nil {
		entry := ActionLog{
			CreatedAt:      time.Now().UTC(),
			Scope:          scope,
			Subject:        subject,
			ViolationType:  ViolationAIInappropriate,
			OffendingTerms: res.OffendingTerms,
			MessageExcerpt: truncate(text, excerptLimit),
			Action:         ActionNone,
			Reason:         "ai-generated response replaced with fallback",
			Success:        true,
		}
		if err := e.Store.WriteActionLog(ctx, entry); err != nil {
			slog.Warn("failed to log flagged ai response", slog.String("scope", scope), slog.Any("err", err))
		}
	}
	return res
}

func (e *Engine) classify(ctx context.Context, text, scope string) CheckResult {
	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	var verdict Verdict
	var err error
	telemetry.TimeFunc(telemetry.ClassifierDuration, func() {
		verdict, err = e.Classifier.Classify(ctx, text, corr)
	})
	if err != nil {
		if telemetry.ClassifierErrors != nil {
			telemetry.ClassifierErrors.Inc()
		}
		telemetry.LoggerWithCorr(ctx).Warn("content check failed, failing open",
			slog.String("scope", scope), slog.Any("err", err))
		return CheckResult{ShouldProcess: true, Reason: "content check failed: " + err.Error()}
	}
	if verdict.IsOffensive {
		return CheckResult{
			IsOffensive:    true,
			OffendingTerms: verdict.OffendingTerms,
			Reason:         "offensive content: " + strings.Join(verdict.OffendingTerms, ", "),
		}
	}
	return CheckResult{ShouldProcess: true}
}

// HandleViolation records a new violation and executes the escalated
// enforcement action. It returns the action taken and whether the enforcement
// call itself succeeded. Ledger and audit-log failures are swallowed after
// logging: bookkeeping problems must not raise to the caller.
//
// Handling is serialized per (subject, scope) so two concurrent violations
// cannot both escalate from the same prior count.
func (e *Engine) HandleViolation(ctx context.Context, subject, scope string, res CheckResult) (Action, bool) {
	policy := e.policyFor(ctx, scope)
	excerpt := truncate(res.Message, excerptLimit)

	// Scopes without timeout/ban primitives (e.g., direct messages) get a
	// warning at most, delivered through whichever enforcer handles the
	// scope's platform.
	if e.Enforcer == nil || !e.Enforcer.CanEnforce(scope) {
		err := errNoEnforcer
		if e.Enforcer != nil && e.Enforcer.Handles(scope) {
			err = e.warn(ctx, subject, scope)
		}
		e.logAction(ctx, policy, ActionLog{
			CreatedAt:      time.Now().UTC(),
			Scope:          scope,
			Subject:        subject,
			ViolationType:  ViolationOffensiveContent,
			OffendingTerms: res.OffendingTerms,
			MessageExcerpt: excerpt,
			Action:         ActionWarning,
			Reason:         "scope has no enforcement capability",
			ViolationCount: 1,
			Success:        err == nil,
			ErrorMessage:   errString(err),
		})
		return ActionWarning, err == nil
	}

	mu := e.lockFor(subject, scope)
	mu.Lock()
	defer mu.Unlock()

	rec, err := e.Store.GetRecord(ctx, subject, scope)
	if err != nil {
		slog.Error("violation record lookup failed", slog.String("subject", subject), slog.String("scope", scope), slog.Any("err", err))
		rec = nil
	}
	if rec == nil {
		rec = &ViolationRecord{Subject: subject, Scope: scope, CreatedAt: time.Now().UTC()}
	}
	if rec.IsBanned {
		// Terminal state: no further enforcement against this pair.
		return ActionNone, true
	}

	totalViolations := rec.WarningCount + 1
	action, durationSeconds := resolveAction(policy, totalViolations)

	var enforceErr error
	telemetry.TimeFunc(telemetry.EnforcementDuration, func() {
		switch action {
		case ActionWarning:
			enforceErr = e.warn(ctx, subject, scope)
		case ActionTimeout:
			enforceErr = e.Enforcer.Timeout(ctx, subject, scope,
				time.Duration(durationSeconds)*time.Second,
				"repeated content violations")
		case ActionBan:
			enforceErr = e.Enforcer.Ban(ctx, subject, scope, "exceeded violation limit")
		}
	})
	if enforceErr != nil {
		slog.Warn("enforcement call failed",
			slog.String("subject", subject),
			slog.String("scope", scope),
			slog.String("action", string(action)),
			slog.Any("err", enforceErr))
	}
	telemetry.RecordModerationAction(string(action))

	now := time.Now().UTC()
	rec.WarningCount = totalViolations
	rec.UpdatedAt = now
	switch action {
	case ActionTimeout:
		rec.TimeoutCount++
		rec.LastTimeoutAt = now
		rec.LastTimeoutSeconds = durationSeconds
	case ActionBan:
		rec.IsBanned = true
		rec.BannedAt = now
	}
	ev := ViolationEvent{
		OffendingTerms:  res.OffendingTerms,
		MessageExcerpt:  excerpt,
		Action:          action,
		DurationSeconds: durationSeconds,
		Success:         enforceErr == nil,
		CreatedAt:       now,
	}
	if err := e.Store.SaveViolation(ctx, rec, ev); err != nil {
		slog.Error("failed to persist violation",
			slog.String("subject", subject), slog.String("scope", scope), slog.Any("err", err))
	}

	e.logAction(ctx, policy, ActionLog{
		CreatedAt:       now,
		Scope:           scope,
		Subject:         subject,
		ViolationType:   ViolationOffensiveContent,
		OffendingTerms:  res.OffendingTerms,
		MessageExcerpt:  excerpt,
		Action:          action,
		DurationSeconds: durationSeconds,
		Reason:          res.Reason,
		ViolationCount:  totalViolations,
		Success:         enforceErr == nil,
		ErrorMessage:    errString(enforceErr),
	})

	return action, enforceErr == nil
}

// resolveAction maps a violation count onto the escalation ladder. Violation
// one is a warning unless the ladder configures a non-zero first-offense
// timeout; counts past the fourth rung repeat the longest timeout until the
// ban threshold.
func resolveAction(policy Policy, totalViolations int) (Action, int) {
	if policy.MaxViolationsBeforeBan > 0 && totalViolations >= policy.MaxViolationsBeforeBan {
		return ActionBan, 0
	}
	switch {
	case totalViolations <= 1:
		if policy.TimeoutLadderSeconds[0] > 0 {
			return ActionTimeout, policy.TimeoutLadderSeconds[0]
		}
		return ActionWarning, 0
	case totalViolations <= 4:
		return ActionTimeout, policy.TimeoutLadderSeconds[totalViolations-1]
	default:
		return ActionTimeout, policy.TimeoutLadderSeconds[3]
	}
}

// IsBanned consults the ledger. On storage failure it fails open and reports
// not banned; a lookup failure must never block message processing.
func (e *Engine) IsBanned(ctx context.Context, subject, scope string) bool {
	rec, err := e.Store.GetRecord(ctx, subject, scope)
	if err != nil {
		slog.Warn("ban status lookup failed, failing open",
			slog.String("subject", subject), slog.String("scope", scope), slog.Any("err", err))
		return false
	}
	return rec != nil && rec.IsBanned
}

// Unban lifts a ban: the enforcement channel unban call plus a ledger reset,
// both audited. Returns whether the enforcement call succeeded.
func (e *Engine) Unban(ctx context.Context, subject, scope, reason string) bool {
	mu := e.lockFor(subject, scope)
	mu.Lock()
	defer mu.Unlock()

	var enforceErr error
	if e.Enforcer != nil && e.Enforcer.CanEnforce(scope) {
		enforceErr = e.Enforcer.Unban(ctx, subject, scope)
	}
	if err := e.Store.ClearBan(ctx, subject, scope); err != nil {
		slog.Error("failed to clear ban in ledger",
			slog.String("subject", subject), slog.String("scope", scope), slog.Any("err", err))
	}
	telemetry.RecordModerationAction(string(ActionUnban))
	policy := e.policyFor(ctx, scope)
	e.logAction(ctx, policy, ActionLog{
		CreatedAt:     time.Now().UTC(),
		Scope:         scope,
		Subject:       subject,
		ViolationType: ViolationOther,
		Action:        ActionUnban,
		Reason:        reason,
		Success:       enforceErr == nil,
		ErrorMessage:  errString(enforceErr),
	})
	return enforceErr == nil
}

func (e *Engine) warn(ctx context.Context, subject, scope string) error {
	return e.Enforcer.Warn(ctx, subject, scope,
		"@"+subject+" please keep chat respectful. Continued violations lead to timeouts.")
}

// logAction writes the audit entry when scope-level logging is enabled.
// Failures only surface in logs.
func (e *Engine) logAction(ctx context.Context, policy Policy, entry ActionLog) {
	if !policy.LogAllActions || e.Store == nil {
		return
	}
	if err := e.Store.WriteActionLog(ctx, entry); err != nil {
		slog.Warn("failed to write moderation action log",
			slog.String("scope", entry.Scope), slog.Any("err", err))
	}
}

// truncate cuts s to at most n bytes without splitting a rune; an invalid
// UTF-8 tail would be rejected by Postgres TEXT columns.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
