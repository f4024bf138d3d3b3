package engagement

import (
	"context"
	"fmt"
	"strings"
)

// ScopeRouter dispatches Send by the scope's platform prefix (the text before
// the first colon), so one tracker or pipeline can answer on several
// platforms at once.
type ScopeRouter map[string]Responder

var _ Responder = (ScopeRouter)(nil)

// Send forwards to the responder registered for the scope's platform.
func (r ScopeRouter) Send(ctx context.Context, scope, text string) error {
	platform, _, _ := strings.Cut(scope, ":")
	resp, ok := r[platform]
	if !ok {
		return fmt.Errorf("no responder for scope %q", scope)
	}
	return resp.Send(ctx, scope, text)
}
