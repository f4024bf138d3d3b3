package twitch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chatwarden/moderation"
)

// ScopePrefix marks scopes this transport owns, e.g. "twitch:somechannel".
const ScopePrefix = "twitch:"

// ScopeFor builds the scope identifier for a channel login.
func ScopeFor(channel string) string {
	return ScopePrefix + strings.ToLower(channel)
}

// ChannelOf extracts the channel login from a twitch scope, or "" for scopes
// owned by other transports.
func ChannelOf(scope string) string {
	if !strings.HasPrefix(scope, ScopePrefix) {
		return ""
	}
	return strings.TrimPrefix(scope, ScopePrefix)
}

// Enforcer applies moderation actions in Twitch channels: warnings as chat
// messages, timeouts and bans through Helix. Subjects are user login names as
// IRC delivers them; Helix ids are resolved (and cached) on demand.
type Enforcer struct {
	Helix *Helix
	// ModeratorID is the bot's own Helix user id the calls act as.
	ModeratorID string
	// Chat posts warning messages. Optional; without it warnings fail.
	Chat *Chat
}

var _ moderation.Enforcer = (*Enforcer)(nil)

// Handles reports whether the scope is a Twitch channel.
func (e *Enforcer) Handles(scope string) bool {
	return ChannelOf(scope) != ""
}

// CanEnforce matches Handles: Helix has timeout/ban primitives for every
// channel scope.
func (e *Enforcer) CanEnforce(scope string) bool {
	return e.Handles(scope)
}

func (e *Enforcer) Warn(ctx context.Context, subject, scope, message string) error {
	if e.Chat == nil {
		return fmt.Errorf("no chat connection for scope %s", scope)
	}
	return e.Chat.Send(ctx, scope, message)
}

func (e *Enforcer) Timeout(ctx context.Context, subject, scope string, duration time.Duration, reason string) error {
	broadcasterID, userID, err := e.resolve(ctx, subject, scope)
	if err != nil {
		return err
	}
	return e.Helix.BanUser(ctx, broadcasterID, e.ModeratorID, userID, int(duration.Seconds()), reason)
}

func (e *Enforcer) Ban(ctx context.Context, subject, scope, reason string) error {
	broadcasterID, userID, err := e.resolve(ctx, subject, scope)
	if err != nil {
		return err
	}
	return e.Helix.BanUser(ctx, broadcasterID, e.ModeratorID, userID, 0, reason)
}

func (e *Enforcer) Unban(ctx context.Context, subject, scope string) error {
	broadcasterID, userID, err := e.resolve(ctx, subject, scope)
	if err != nil {
		return err
	}
	return e.Helix.UnbanUser(ctx, broadcasterID, e.ModeratorID, userID)
}

func (e *Enforcer) resolve(ctx context.Context, subject, scope string) (broadcasterID, userID string, err error) {
	channel := ChannelOf(scope)
	if channel == "" {
		return "", "", fmt.Errorf("not a twitch scope: %s", scope)
	}
	broadcasterID, err = e.Helix.GetUserID(ctx, channel)
	if err != nil {
		return "", "", fmt.Errorf("resolve broadcaster %s: %w", channel, err)
	}
	userID, err = e.Helix.GetUserID(ctx, subject)
	if err != nil {
		return "", "", fmt.Errorf("resolve subject %s: %w", subject, err)
	}
	return broadcasterID, userID, nil
}
