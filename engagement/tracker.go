// Package engagement observes chat activity per scope: a sliding window of
// message timestamps drives velocity and hype-moment detection, while
// discrete platform events (subs, raids, cheers) are scored immediately.
// Detected events can trigger a delayed, rate-limited contextual response.
package engagement

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/onnwee/chatwarden/telemetry"
)

// EventType identifies what kind of engagement event occurred.
type EventType string

const (
	EventSubscription EventType = "subscription"
	EventGiftSub      EventType = "gift_subscription"
	EventRaid         EventType = "raid"
	EventFollow       EventType = "follow"
	EventCheer        EventType = "cheer"
	EventHypeMoment   EventType = "hype_moment"
)

// Event is one detected engagement event. Created once on detection and
// updated once if a contextual response goes out.
type Event struct {
	ID              string
	Scope           string
	Type            EventType
	OccurredAt      time.Time
	Months          int
	Tier            string
	GiftCount       int
	RaidViewers     int
	Bits            int
	MessageVelocity float64
	ChatActivity    float64
	EngagementScore float64
	Responded       bool
	ResponseText    string
	ResponseDelay   time.Duration
}

// Stats summarizes engagement events over a date range.
type Stats struct {
	TotalEvents   int
	CountsByType  map[EventType]int
	MeanScore     float64
	PeakScore     float64
	ResponseShare float64
}

// Responder posts contextual reactions back to chat.
type Responder interface {
	Send(ctx context.Context, scope, text string) error
}

// EventStore persists engagement events and serves range statistics.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *Event) error
	MarkResponded(ctx context.Context, id, text string, delay time.Duration) error
	StatsRange(ctx context.Context, scope string, from, to time.Time) (Stats, error)
}

// Tracker maintains per-scope sliding windows and cooldowns. Methods are safe
// for concurrent use; violation of the hype cooldown is impossible because
// the detect-and-reset step runs under the tracker lock.
type Tracker struct {
	// Window is the sliding velocity window (default 60s).
	Window time.Duration
	// HypeThreshold is messages-per-minute needed for a hype moment.
	HypeThreshold float64
	// HypeCooldown suppresses repeat hype moments per scope (default 5m).
	HypeCooldown time.Duration
	// AutoRespond enables contextual responses.
	AutoRespond bool
	// ResponseDelay postpones the response so the bot doesn't look like it
	// fires the instant something happens (default 2s).
	ResponseDelay time.Duration
	// CleanupInterval drives the stale-history sweep (default 10m).
	CleanupInterval time.Duration

	Responder Responder
	Store     EventStore
	// Limiter throttles outbound responses across all scopes.
	Limiter *rate.Limiter

	mu       sync.Mutex
	history  map[string][]time.Time
	lastHype map[string]time.Time

	now func() time.Time
}

// NewTracker applies defaults for any zero-valued knob.
func NewTracker() *Tracker {
	return &Tracker{
		Window:          time.Minute,
		HypeThreshold:   20,
		HypeCooldown:    5 * time.Minute,
		AutoRespond:     true,
		ResponseDelay:   2 * time.Second,
		CleanupInterval: 10 * time.Minute,
		Limiter:         rate.NewLimiter(rate.Every(10*time.Second), 3),
		history:         make(map[string][]time.Time),
		lastHype:        make(map[string]time.Time),
		now:             time.Now,
	}
}

// RecordMessage appends one message timestamp for the scope, prunes the
// window, and emits a hype moment when velocity crosses the threshold outside
// the cooldown. Messages sent by the bot itself are ignored.
func (t *Tracker) RecordMessage(ctx context.Context, scope string, isSelf bool) {
	if isSelf {
		return
	}
	now := t.now()

	t.mu.Lock()
	t.history[scope] = prune(append(t.history[scope], now), now.Add(-t.Window))
	velocity := t.velocityLocked(scope)
	hype := velocity >= t.HypeThreshold && now.Sub(t.lastHype[scope]) >= t.HypeCooldown
	if hype {
		t.lastHype[scope] = now
	}
	t.mu.Unlock()

	if !hype {
		return
	}
	ev := &Event{
		ID:              uuid.NewString(),
		Scope:           scope,
		Type:            EventHypeMoment,
		OccurredAt:      now,
		MessageVelocity: velocity,
		ChatActivity:    velocity,
		EngagementScore: clampScore(velocity * 2),
	}
	if telemetry.HypeMoments != nil {
		telemetry.HypeMoments.Inc()
	}
	t.emit(ctx, ev)
}

// Velocity returns the scope's messages-per-minute over the sliding window,
// rounded to two decimals.
func (t *Tracker) Velocity(scope string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[scope] = prune(t.history[scope], t.now().Add(-t.Window))
	return t.velocityLocked(scope)
}

func (t *Tracker) velocityLocked(scope string) float64 {
	n := len(t.history[scope])
	if n == 0 {
		return 0
	}
	perMinute := float64(n) / t.Window.Minutes()
	return math.Round(perMinute*100) / 100
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// HandleSubscription scores a (re)subscription event.
func (t *Tracker) HandleSubscription(ctx context.Context, scope, tier string, months int) {
	score := 30 + float64(months)*2
	switch tier {
	case "2000", "2":
		score *= 1.5
	case "3000", "3":
		score *= 2
	}
	t.emitDiscrete(ctx, &Event{
		Scope: scope, Type: EventSubscription, Months: months, Tier: tier,
		EngagementScore: clampScore(score),
	})
}

// HandleGiftSubscription scores a gifted-subs event.
func (t *Tracker) HandleGiftSubscription(ctx context.Context, scope string, count int) {
	t.emitDiscrete(ctx, &Event{
		Scope: scope, Type: EventGiftSub, GiftCount: count,
		EngagementScore: clampScore(40 + float64(count)*5),
	})
}

// HandleRaid scores an incoming raid.
func (t *Tracker) HandleRaid(ctx context.Context, scope string, viewers int) {
	t.emitDiscrete(ctx, &Event{
		Scope: scope, Type: EventRaid, RaidViewers: viewers,
		EngagementScore: clampScore(35 + float64(viewers)*0.5),
	})
}

// HandleCheer scores a bits cheer.
func (t *Tracker) HandleCheer(ctx context.Context, scope string, bits int) {
	t.emitDiscrete(ctx, &Event{
		Scope: scope, Type: EventCheer, Bits: bits,
		EngagementScore: clampScore(20 + float64(bits)/100*5),
	})
}

// HandleFollow scores a new follow.
func (t *Tracker) HandleFollow(ctx context.Context, scope string) {
	t.emitDiscrete(ctx, &Event{
		Scope: scope, Type: EventFollow,
		EngagementScore: 10,
	})
}

func clampScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return math.Round(s*100) / 100
}

func (t *Tracker) emitDiscrete(ctx context.Context, ev *Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = t.now()
	ev.ChatActivity = t.Velocity(ev.Scope)
	t.emit(ctx, ev)
}

// emit persists the event and schedules the contextual response. Persistence
// failures only log; a storage hiccup must not drop the response.
func (t *Tracker) emit(ctx context.Context, ev *Event) {
	telemetry.RecordEngagementEvent(string(ev.Type))
	if t.Store != nil {
		if err := t.Store.InsertEvent(ctx, ev); err != nil {
			slog.Error("failed to persist engagement event",
				slog.String("scope", ev.Scope), slog.String("type", string(ev.Type)), slog.Any("err", err))
		}
	}
	if !t.AutoRespond || t.Responder == nil {
		return
	}
	go t.respond(ctx, ev)
}

// respond waits the configured delay, passes the rate limiter, sends the
// templated reaction, and marks the stored event as responded.
func (t *Tracker) respond(ctx context.Context, ev *Event) {
	start := t.now()
	if t.ResponseDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.ResponseDelay):
		}
	}
	if t.Limiter != nil && !t.Limiter.Allow() {
		slog.Debug("engagement response suppressed by rate limit",
			slog.String("scope", ev.Scope), slog.String("type", string(ev.Type)))
		return
	}
	text := responseFor(ev)
	if text == "" {
		return
	}
	if err := t.Responder.Send(ctx, ev.Scope, text); err != nil {
		slog.Warn("failed to send engagement response",
			slog.String("scope", ev.Scope), slog.Any("err", err))
		return
	}
	if telemetry.AutoResponses != nil {
		telemetry.AutoResponses.Inc()
	}
	delay := t.now().Sub(start)
	if t.Store != nil {
		if err := t.Store.MarkResponded(ctx, ev.ID, text, delay); err != nil {
			slog.Warn("failed to mark engagement event responded",
				slog.String("id", ev.ID), slog.Any("err", err))
		}
	}
}

// TrackedScopes returns how many scopes currently hold window history.
func (t *Tracker) TrackedScopes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// StartCleanupJob periodically discards timestamps older than twice the
// window and drops scopes with no remaining history, bounding memory for
// scopes that go quiet. Runs until ctx is canceled.
func (t *Tracker) StartCleanupJob(ctx context.Context) {
	every := t.CleanupInterval
	if every <= 0 {
		every = 10 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	slog.Info("engagement cleanup job started", slog.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CleanupStale()
		}
	}
}

// CleanupStale performs one sweep; exposed for the cleanup job and tests.
func (t *Tracker) CleanupStale() {
	cutoff := t.now().Add(-2 * t.Window)
	t.mu.Lock()
	for scope, ts := range t.history {
		ts = prune(ts, cutoff)
		if len(ts) == 0 {
			delete(t.history, scope)
			delete(t.lastHype, scope)
			continue
		}
		t.history[scope] = ts
	}
	n := len(t.history)
	t.mu.Unlock()
	telemetry.SetTrackedScopes(n)
}

// StatsRange returns engagement statistics for a scope over [from, to).
func (t *Tracker) StatsRange(ctx context.Context, scope string, from, to time.Time) (Stats, error) {
	return t.Store.StatsRange(ctx, scope, from, to)
}
