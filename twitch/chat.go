package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatwarden/engagement"
	"github.com/onnwee/chatwarden/pipeline"
)

// Chat is the IRC connection: it feeds inbound messages to the pipeline,
// routes subscription/raid/cheer notices to the engagement tracker, and posts
// outbound responses.
type Chat struct {
	Channels []string
	Username string
	// OAuth is the bot user token with chat scopes, "oauth:" prefixed.
	OAuth string

	Pipeline *pipeline.Pipeline
	Tracker  *engagement.Tracker

	client *irc.Client
}

var _ engagement.Responder = (*Chat)(nil)

// Run connects to IRC and blocks until ctx is canceled or the connection
// fails. Handlers dispatch each event on its own goroutine so a slow
// classifier call cannot stall the read loop.
func (c *Chat) Run(ctx context.Context) error {
	if c.Username == "" || c.OAuth == "" || len(c.Channels) == 0 {
		slog.Info("twitch creds not set; skipping chat connection")
		<-ctx.Done()
		return nil
	}
	c.client = irc.NewClient(c.Username, c.OAuth)

	c.client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		go c.handlePrivateMessage(ctx, msg)
	})
	c.client.OnUserNoticeMessage(func(msg irc.UserNoticeMessage) {
		go c.handleUserNotice(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := c.client.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect error", slog.Any("err", err))
		}
		close(done)
	}()

	for _, channel := range c.Channels {
		c.client.Join(channel)
	}
	slog.Info("twitch chat connecting", slog.Int("channels", len(c.Channels)))
	if err := c.client.Connect(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	<-done
	return nil
}

func (c *Chat) handlePrivateMessage(ctx context.Context, msg irc.PrivateMessage) {
	scope := ScopeFor(msg.Channel)
	if msg.Bits > 0 && c.Tracker != nil {
		c.Tracker.HandleCheer(ctx, scope, msg.Bits)
	}
	c.Pipeline.HandleMessage(ctx, pipeline.Message{
		Scope:       scope,
		Subject:     strings.ToLower(msg.User.Name),
		DisplayName: msg.User.DisplayName,
		Text:        msg.Message,
		IsSelf:      strings.EqualFold(msg.User.Name, c.Username),
	})
}

// handleUserNotice maps Twitch USERNOTICE events (subs, gifts, raids) onto
// engagement tracker events.
func (c *Chat) handleUserNotice(ctx context.Context, msg irc.UserNoticeMessage) {
	if c.Tracker == nil {
		return
	}
	scope := ScopeFor(msg.Channel)
	switch msg.MsgID {
	case "sub", "resub":
		months := paramInt(msg.MsgParams, "msg-param-cumulative-months")
		if months == 0 {
			months = 1
		}
		c.Tracker.HandleSubscription(ctx, scope, msg.MsgParams["msg-param-sub-plan"], months)
	case "subgift", "submysterygift":
		count := paramInt(msg.MsgParams, "msg-param-mass-gift-count")
		if count == 0 {
			count = 1
		}
		c.Tracker.HandleGiftSubscription(ctx, scope, count)
	case "raid":
		c.Tracker.HandleRaid(ctx, scope, paramInt(msg.MsgParams, "msg-param-viewerCount"))
	}
}

// Send posts a chat message into the scope's channel.
func (c *Chat) Send(_ context.Context, scope, text string) error {
	channel := ChannelOf(scope)
	if channel == "" {
		return fmt.Errorf("not a twitch scope: %s", scope)
	}
	if c.client == nil {
		return fmt.Errorf("chat not connected")
	}
	c.client.Say(channel, text)
	return nil
}

func paramInt(params map[string]string, key string) int {
	n, err := strconv.Atoi(params[key])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
