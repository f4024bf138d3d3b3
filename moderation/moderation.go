// Package moderation implements the progressive-violation decision engine:
// content checks that fail open, a per-(subject, scope) violation ledger, and
// an escalation ladder from warning through timeouts to a permanent ban.
package moderation

import (
	"context"
	"time"
)

// Action is an enforcement action taken against a subject in a scope.
type Action string

const (
	ActionNone    Action = ""
	ActionWarning Action = "warning"
	ActionTimeout Action = "timeout"
	ActionBan     Action = "ban"
	ActionKick    Action = "kick"
	ActionUnban   Action = "unban"
)

// ViolationType categorizes what triggered a moderation decision.
type ViolationType string

const (
	ViolationOffensiveContent ViolationType = "offensive_content"
	ViolationAIInappropriate  ViolationType = "ai_inappropriate"
	ViolationOther            ViolationType = "other"
)

// SafeFallback replaces an AI-generated response that failed the content
// check. The subject never authored it, so no violation is recorded.
const SafeFallback = "I'd rather not say that. Let's talk about something else!"

// Policy is the per-scope moderation configuration. A scope without a stored
// policy uses the engine defaults.
type Policy struct {
	Enabled          bool
	CheckAIResponses bool
	// TimeoutLadderSeconds holds the 1st through 4th violation timeout
	// durations. A zero first entry means the first violation is a warning.
	TimeoutLadderSeconds   [4]int
	MaxViolationsBeforeBan int
	LogAllActions          bool
}

// ViolationEvent is one entry in a subject's violation history.
type ViolationEvent struct {
	OffendingTerms  []string
	MessageExcerpt  string
	Action          Action
	DurationSeconds int
	Success         bool
	CreatedAt       time.Time
}

// ViolationRecord is the per-(subject, scope) escalation state. Once IsBanned
// is set the record is read-only except for an explicit unban.
type ViolationRecord struct {
	Subject            string
	Scope              string
	WarningCount       int
	TimeoutCount       int
	IsBanned           bool
	BannedAt           time.Time
	LastTimeoutAt      time.Time
	LastTimeoutSeconds int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ActionLog is an immutable audit record of a moderation decision.
type ActionLog struct {
	CreatedAt       time.Time
	Scope           string
	Subject         string
	ViolationType   ViolationType
	OffendingTerms  []string
	MessageExcerpt  string
	Action          Action
	DurationSeconds int
	Reason          string
	ViolationCount  int
	Success         bool
	ErrorMessage    string
}

// CheckResult is the outcome of a content check.
type CheckResult struct {
	IsOffensive    bool
	OffendingTerms []string
	ShouldProcess  bool
	Reason         string
	// Message is the checked text, carried so violation bookkeeping can
	// persist an excerpt of what was actually said.
	Message string
}

// Verdict is the raw classifier output for a piece of text.
type Verdict struct {
	IsOffensive    bool
	OffendingTerms []string
}

// Classifier decides whether text is offensive. correlationID must be unique
// per call so the classifier's own idempotency tracking never collides.
type Classifier interface {
	Classify(ctx context.Context, text, correlationID string) (Verdict, error)
}

// Enforcer executes moderation actions against a chat platform. Handles
// reports scope ownership: the enforcer can at least deliver a chat warning
// there. CanEnforce additionally requires timeout/ban primitives; a DM scope
// is handled but not enforceable, and the engine falls back to warning-only.
type Enforcer interface {
	Handles(scope string) bool
	CanEnforce(scope string) bool
	Warn(ctx context.Context, subject, scope, message string) error
	Timeout(ctx context.Context, subject, scope string, duration time.Duration, reason string) error
	Ban(ctx context.Context, subject, scope, reason string) error
	Unban(ctx context.Context, subject, scope string) error
}

// Store is the durable ledger behind the engine. Implementations must make
// SaveViolation atomic per (subject, scope); the engine additionally
// serializes violation handling per key in-process.
type Store interface {
	// GetPolicy returns the stored policy for scope, or nil when none exists.
	GetPolicy(ctx context.Context, scope string) (*Policy, error)
	// GetRecord returns the violation record, or nil when the pair is clean.
	GetRecord(ctx context.Context, subject, scope string) (*ViolationRecord, error)
	// SaveViolation upserts the record and appends the event to its history.
	SaveViolation(ctx context.Context, rec *ViolationRecord, ev ViolationEvent) error
	// WriteActionLog appends an immutable audit entry.
	WriteActionLog(ctx context.Context, entry ActionLog) error
	// ClearBan resets the banned flag on an existing record.
	ClearBan(ctx context.Context, subject, scope string) error
}
