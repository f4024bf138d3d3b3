package moderation

import (
	"context"
	"fmt"
	"time"
)

// Enforcers routes each action to the first member able to act on the scope.
// Scope prefixes are disjoint across platforms, so at most one member claims
// any given scope.
type Enforcers []Enforcer

var _ Enforcer = (Enforcers)(nil)

// Handles reports whether any member owns the scope's platform.
func (e Enforcers) Handles(scope string) bool {
	return e.owner(scope) != nil
}

// CanEnforce reports whether any member can apply timeouts/bans on scope.
func (e Enforcers) CanEnforce(scope string) bool {
	return e.pick(scope) != nil
}

// owner selects by platform ownership; a DM scope has an owner even though
// nothing can enforce there.
func (e Enforcers) owner(scope string) Enforcer {
	for _, enf := range e {
		if enf.Handles(scope) {
			return enf
		}
	}
	return nil
}

func (e Enforcers) pick(scope string) Enforcer {
	for _, enf := range e {
		if enf.CanEnforce(scope) {
			return enf
		}
	}
	return nil
}

// Warn routes by ownership so warning-only scopes still get their warning.
func (e Enforcers) Warn(ctx context.Context, subject, scope, message string) error {
	enf := e.owner(scope)
	if enf == nil {
		return fmt.Errorf("no enforcer for scope %q", scope)
	}
	return enf.Warn(ctx, subject, scope, message)
}

func (e Enforcers) Timeout(ctx context.Context, subject, scope string, duration time.Duration, reason string) error {
	enf := e.pick(scope)
	if enf == nil {
		return fmt.Errorf("no enforcer for scope %q", scope)
	}
	return enf.Timeout(ctx, subject, scope, duration, reason)
}

func (e Enforcers) Ban(ctx context.Context, subject, scope, reason string) error {
	enf := e.pick(scope)
	if enf == nil {
		return fmt.Errorf("no enforcer for scope %q", scope)
	}
	return enf.Ban(ctx, subject, scope, reason)
}

func (e Enforcers) Unban(ctx context.Context, subject, scope string) error {
	enf := e.pick(scope)
	if enf == nil {
		return fmt.Errorf("no enforcer for scope %q", scope)
	}
	return enf.Unban(ctx, subject, scope)
}
