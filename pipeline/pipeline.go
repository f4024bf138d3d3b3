// Package pipeline wires the per-message flow: observe the message for
// engagement, judge it against moderation, act (enforce or respond), and
// summarize the outcome as a raw analytics event plus performance samples.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chatwarden/analytics"
	"github.com/onnwee/chatwarden/classifier"
	"github.com/onnwee/chatwarden/engagement"
	"github.com/onnwee/chatwarden/moderation"
	"github.com/onnwee/chatwarden/perfmon"
	"github.com/onnwee/chatwarden/telemetry"
)

// Message is one inbound chat message from a transport.
type Message struct {
	Scope       string
	Subject     string
	DisplayName string
	Text        string
	IsSelf      bool
}

// Outcome reports what the pipeline did with a message.
type Outcome struct {
	Dropped  bool
	Rejected bool
	Action   moderation.Action
	Response string
}

// RawEventWriter persists completed message-processing records.
type RawEventWriter interface {
	InsertRawEvent(ctx context.Context, ev *analytics.RawEvent) error
}

// AIResponder generates a chat reply for an accepted message.
type AIResponder interface {
	Respond(ctx context.Context, scope, subject, text string) (string, error)
}

// Pipeline orchestrates one message end to end. All collaborators except
// Engine and Tracker are optional; absent ones skip their stage.
type Pipeline struct {
	Engine    *moderation.Engine
	Tracker   *engagement.Tracker
	Events    RawEventWriter
	Monitor   *perfmon.Monitor
	Responder engagement.Responder
	AI        AIResponder

	now func() time.Time
}

// New builds a pipeline over the given collaborators.
func New(engine *moderation.Engine, tracker *engagement.Tracker) *Pipeline {
	return &Pipeline{Engine: engine, Tracker: tracker, now: time.Now}
}

// HandleMessage runs the full observe-judge-act-summarize flow for one
// inbound message. Failures in any one stage degrade that stage only; the
// pipeline never returns an error to the transport.
func (p *Pipeline) HandleMessage(ctx context.Context, msg Message) Outcome {
	if msg.IsSelf {
		return Outcome{Dropped: true}
	}
	start := p.now()
	if telemetry.MessagesProcessed != nil {
		telemetry.MessagesProcessed.Inc()
	}

	// Observe: velocity bookkeeping and hype detection.
	p.Tracker.RecordMessage(ctx, msg.Scope, false)

	// Banned subjects are ignored outright; the ledger is read-only for them.
	if p.Engine.IsBanned(ctx, msg.Subject, msg.Scope) {
		return Outcome{Dropped: true}
	}

	ev := analytics.RawEvent{
		Scope:         msg.Scope,
		Subject:       msg.Subject,
		MessageType:   classifyMessageType(msg.Text),
		Command:       commandOf(msg.Text),
		MessageLength: len(msg.Text),
		Success:       true,
		CreatedAt:     start.UTC(),
	}

	// Judge: content check with the cache-hit flag threaded through.
	var cacheHit bool
	checkCtx := classifier.WithHitFlag(ctx, &cacheHit)
	checkStart := p.now()
	res := p.Engine.CheckMessageContent(checkCtx, msg.Text, msg.Subject, msg.Scope)
	ev.ProcessingMS = float64(p.now().Sub(checkStart).Milliseconds())
	ev.CacheHit = cacheHit

	out := Outcome{}
	if res.IsOffensive {
		// Act: escalate.
		action, ok := p.Engine.HandleViolation(ctx, msg.Subject, msg.Scope, res)
		if telemetry.MessagesRejected != nil {
			telemetry.MessagesRejected.Inc()
		}
		ev.ModerationFlagged = true
		ev.Success = ok
		out.Rejected = true
		out.Action = action
	} else if p.AI != nil {
		out.Response = p.generateResponse(ctx, msg, &ev)
	}

	ev.TotalMS = float64(p.now().Sub(start).Milliseconds())
	p.summarize(ctx, &ev)
	return out
}

// generateResponse runs the AI stage: generate, re-check the generated text,
// substitute the safe fallback on a hit, send.
func (p *Pipeline) generateResponse(ctx context.Context, msg Message, ev *analytics.RawEvent) string {
	aiStart := p.now()
	reply, err := p.AI.Respond(ctx, msg.Scope, msg.Subject, msg.Text)
	ev.AIResponseMS = float64(p.now().Sub(aiStart).Milliseconds())
	if err != nil {
		ev.Success = false
		ev.ErrorType = moderation.ErrorSubtype(err)
		ev.ErrorMessage = err.Error()
		slog.Warn("ai response failed",
			slog.String("scope", msg.Scope), slog.Any("err", err))
		return ""
	}
	if reply == "" {
		return ""
	}

	check := p.Engine.CheckAIResponse(ctx, reply, msg.Subject, msg.Scope)
	if check.IsOffensive {
		reply = moderation.SafeFallback
	}
	ev.ResponseLength = len(reply)

	if p.Responder != nil {
		if err := p.Responder.Send(ctx, msg.Scope, reply); err != nil {
			ev.Success = false
			ev.ErrorType = moderation.ErrorSubtype(err)
			ev.ErrorMessage = err.Error()
			slog.Warn("failed to send chat response",
				slog.String("scope", msg.Scope), slog.Any("err", err))
			return ""
		}
	}
	return reply
}

// summarize persists the raw event and feeds the performance monitor.
func (p *Pipeline) summarize(ctx context.Context, ev *analytics.RawEvent) {
	if p.Events != nil {
		if err := p.Events.InsertRawEvent(ctx, ev); err != nil {
			slog.Error("failed to persist raw analytics event",
				slog.String("scope", ev.Scope), slog.Any("err", err))
		}
	}
	if p.Monitor == nil {
		return
	}
	p.Monitor.RecordMetric(ctx, "handle_message", perfmon.MetricResponseTime, ev.TotalMS, ev.Scope, ev.Success)
	if ev.AIResponseMS > 0 {
		p.Monitor.RecordMetric(ctx, "ai_response", perfmon.MetricAIResponseTime, ev.AIResponseMS, ev.Scope, ev.Success)
	}
}

func classifyMessageType(text string) string {
	switch {
	case strings.HasPrefix(text, "!"):
		return "command"
	case strings.HasSuffix(strings.TrimSpace(text), "?"):
		return "question"
	default:
		return "other"
	}
}

// commandOf extracts the leading command token, e.g. "!song" from
// "!song current", or "" for non-commands.
func commandOf(text string) string {
	if !strings.HasPrefix(text, "!") {
		return ""
	}
	if i := strings.IndexByte(text, ' '); i > 0 {
		return text[:i]
	}
	return text
}
