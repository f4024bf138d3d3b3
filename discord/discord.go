// Package discord contains the Discord transport: a gateway session feeding
// the message pipeline and an enforcer backed by guild moderation endpoints.
// Direct-message scopes have no timeout/ban primitives and report no
// enforcement capability, so the decision engine falls back to warning-only.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/chatwarden/engagement"
	"github.com/onnwee/chatwarden/moderation"
	"github.com/onnwee/chatwarden/pipeline"
)

const (
	// GuildScopePrefix marks guild channel scopes: "discord:<guild>:<channel>".
	GuildScopePrefix = "discord:"
	// DMScopePrefix marks direct-message scopes: "discord-dm:<channel>".
	DMScopePrefix = "discord-dm:"
)

// ScopeFor builds the scope identifier for a message's origin.
func ScopeFor(guildID, channelID string) string {
	if guildID == "" {
		return DMScopePrefix + channelID
	}
	return GuildScopePrefix + guildID + ":" + channelID
}

// splitScope returns (guildID, channelID). guildID is empty for DM scopes and
// both are empty for scopes owned by other transports.
func splitScope(scope string) (string, string) {
	if rest, ok := strings.CutPrefix(scope, DMScopePrefix); ok {
		return "", rest
	}
	if rest, ok := strings.CutPrefix(scope, GuildScopePrefix); ok {
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
	}
	return "", ""
}

// channelOf returns the channel id for any discord scope.
func channelOf(scope string) string {
	_, ch := splitScope(scope)
	return ch
}

// Bot owns the gateway session and routes events into the pipeline.
type Bot struct {
	Token    string
	Pipeline *pipeline.Pipeline
	Tracker  *engagement.Tracker

	session *discordgo.Session
}

var _ engagement.Responder = (*Bot)(nil)

// Run opens the gateway session and blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	if b.Token == "" {
		slog.Info("discord token not set; skipping discord connection")
		<-ctx.Done()
		return nil
	}
	session, err := discordgo.New("Bot " + b.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		go b.Pipeline.HandleMessage(ctx, toMessage(m, s.State.User.ID))
	})
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.session = session
	slog.Info("discord gateway connected")

	<-ctx.Done()
	if err := session.Close(); err != nil {
		slog.Warn("discord close error", slog.Any("err", err))
	}
	return nil
}

// toMessage converts a gateway event into the pipeline's message shape.
func toMessage(m *discordgo.MessageCreate, selfID string) pipeline.Message {
	return pipeline.Message{
		Scope:       ScopeFor(m.GuildID, m.ChannelID),
		Subject:     m.Author.ID,
		DisplayName: m.Author.Username,
		Text:        m.Content,
		IsSelf:      m.Author.ID == selfID,
	}
}

// Send posts a message into the scope's channel.
func (b *Bot) Send(_ context.Context, scope, text string) error {
	channelID := channelOf(scope)
	if channelID == "" {
		return fmt.Errorf("not a discord scope: %s", scope)
	}
	if b.session == nil {
		return fmt.Errorf("discord session not open")
	}
	_, err := b.session.ChannelMessageSend(channelID, text)
	return err
}

// Session exposes the underlying session for the enforcer.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Enforcer returns an enforcer backed by the bot's session. The session opens
// asynchronously in Run; actions attempted before then fail cleanly.
func (b *Bot) Enforcer() *Enforcer { return &Enforcer{API: botAPI{b}} }

// botAPI defers session resolution to call time.
type botAPI struct{ bot *Bot }

func (a botAPI) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s := a.bot.session
	if s == nil {
		return nil, fmt.Errorf("discord session not open")
	}
	return s.ChannelMessageSend(channelID, content, options...)
}

func (a botAPI) GuildMemberTimeout(guildID string, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	s := a.bot.session
	if s == nil {
		return fmt.Errorf("discord session not open")
	}
	return s.GuildMemberTimeout(guildID, userID, until, options...)
}

func (a botAPI) GuildBanCreateWithReason(guildID string, userID string, reason string, days int, options ...discordgo.RequestOption) error {
	s := a.bot.session
	if s == nil {
		return fmt.Errorf("discord session not open")
	}
	return s.GuildBanCreateWithReason(guildID, userID, reason, days, options...)
}

func (a botAPI) GuildBanDelete(guildID string, userID string, options ...discordgo.RequestOption) error {
	s := a.bot.session
	if s == nil {
		return fmt.Errorf("discord session not open")
	}
	return s.GuildBanDelete(guildID, userID, options...)
}

// guildAPI is the slice of discordgo the enforcer uses, separated so tests
// can substitute it.
type guildAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberTimeout(guildID string, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID string, userID string, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID string, userID string, options ...discordgo.RequestOption) error
}

// Enforcer applies moderation actions through Discord guild endpoints.
type Enforcer struct {
	API guildAPI
}

var _ moderation.Enforcer = (*Enforcer)(nil)

// NewEnforcer wraps an open session.
func NewEnforcer(session *discordgo.Session) *Enforcer {
	return &Enforcer{API: session}
}

// Handles reports whether the scope is any Discord channel, DMs included.
func (e *Enforcer) Handles(scope string) bool {
	return channelOf(scope) != ""
}

// CanEnforce reports whether the scope is a guild channel. DMs have no
// timeout or ban primitive, only warnings.
func (e *Enforcer) CanEnforce(scope string) bool {
	guildID, _ := splitScope(scope)
	return guildID != ""
}

func (e *Enforcer) Warn(_ context.Context, subject, scope, message string) error {
	channelID := channelOf(scope)
	if channelID == "" {
		return fmt.Errorf("not a discord scope: %s", scope)
	}
	_, err := e.API.ChannelMessageSend(channelID, fmt.Sprintf("<@%s> %s", subject, message))
	return err
}

func (e *Enforcer) Timeout(_ context.Context, subject, scope string, duration time.Duration, reason string) error {
	guildID, _ := splitScope(scope)
	if guildID == "" {
		return fmt.Errorf("scope has no timeout primitive: %s", scope)
	}
	until := time.Now().Add(duration)
	return e.API.GuildMemberTimeout(guildID, subject, &until)
}

func (e *Enforcer) Ban(_ context.Context, subject, scope, reason string) error {
	guildID, _ := splitScope(scope)
	if guildID == "" {
		return fmt.Errorf("scope has no ban primitive: %s", scope)
	}
	return e.API.GuildBanCreateWithReason(guildID, subject, reason, 0)
}

func (e *Enforcer) Unban(_ context.Context, subject, scope string) error {
	guildID, _ := splitScope(scope)
	if guildID == "" {
		return fmt.Errorf("scope has no ban primitive: %s", scope)
	}
	return e.API.GuildBanDelete(guildID, subject)
}
