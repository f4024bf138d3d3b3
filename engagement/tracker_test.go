package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type fakeStore struct {
	mu        sync.Mutex
	inserted  []Event
	responded map[string]string
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{responded: make(map[string]string)}
}

func (s *fakeStore) InsertEvent(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, *ev)
	return nil
}

func (s *fakeStore) MarkResponded(_ context.Context, id, text string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responded[id] = text
	return nil
}

func (s *fakeStore) StatsRange(context.Context, string, time.Time, time.Time) (Stats, error) {
	return Stats{}, nil
}

func (s *fakeStore) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.inserted))
	copy(out, s.inserted)
	return out
}

type fakeResponder struct {
	mu    sync.Mutex
	sent  []string
	errOn bool
}

func (r *fakeResponder) Send(_ context.Context, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errOn {
		return errors.New("send failed")
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *fakeResponder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func newTestTracker() (*Tracker, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.AutoRespond = false
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestVelocityOverWindow(t *testing.T) {
	tr, now := newTestTracker()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		tr.RecordMessage(ctx, "twitch:chan", false)
		*now = now.Add(time.Second)
	}
	if v := tr.Velocity("twitch:chan"); v != 12 {
		t.Fatalf("velocity = %v, want 12", v)
	}
}

func TestVelocityPrunesOldTimestamps(t *testing.T) {
	tr, now := newTestTracker()
	ctx := context.Background()

	tr.RecordMessage(ctx, "s", false)
	tr.RecordMessage(ctx, "s", false)
	*now = now.Add(2 * time.Minute)
	tr.RecordMessage(ctx, "s", false)
	if v := tr.Velocity("s"); v != 1 {
		t.Fatalf("velocity = %v, want 1 after pruning", v)
	}
}

func TestVelocityEmptyScope(t *testing.T) {
	tr, _ := newTestTracker()
	if v := tr.Velocity("never-seen"); v != 0 {
		t.Fatalf("velocity = %v, want 0", v)
	}
}

func TestSelfMessagesIgnored(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.RecordMessage(ctx, "s", true)
	tr.RecordMessage(ctx, "s", true)
	if v := tr.Velocity("s"); v != 0 {
		t.Fatalf("velocity = %v, want 0 for self-only traffic", v)
	}
}

func TestHypeMomentDetection(t *testing.T) {
	tr, now := newTestTracker()
	store := newFakeStore()
	tr.Store = store
	tr.HypeThreshold = 20
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		tr.RecordMessage(ctx, "s", false)
		*now = now.Add(time.Second)
	}

	evs := store.events()
	if len(evs) != 1 {
		t.Fatalf("got %d hype events, want exactly 1 (cooldown active)", len(evs))
	}
	if evs[0].Type != EventHypeMoment {
		t.Fatalf("event type = %s, want %s", evs[0].Type, EventHypeMoment)
	}
	if evs[0].MessageVelocity < 20 {
		t.Fatalf("hype velocity = %v, want >= 20", evs[0].MessageVelocity)
	}
}

func TestHypeCooldownThenRefire(t *testing.T) {
	tr, now := newTestTracker()
	store := newFakeStore()
	tr.Store = store
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		tr.RecordMessage(ctx, "s", false)
	}
	if got := len(store.events()); got != 1 {
		t.Fatalf("got %d events before cooldown expiry, want 1", got)
	}

	*now = now.Add(tr.HypeCooldown + time.Second)
	for i := 0; i < 25; i++ {
		tr.RecordMessage(ctx, "s", false)
	}
	if got := len(store.events()); got != 2 {
		t.Fatalf("got %d events after cooldown expiry, want 2", got)
	}
}

func TestDiscreteEventScoring(t *testing.T) {
	cases := []struct {
		name string
		fire func(tr *Tracker, ctx context.Context)
		typ  EventType
		want float64
	}{
		{"first sub tier1", func(tr *Tracker, ctx context.Context) { tr.HandleSubscription(ctx, "s", "1000", 1) }, EventSubscription, 32},
		{"resub tier2", func(tr *Tracker, ctx context.Context) { tr.HandleSubscription(ctx, "s", "2000", 6) }, EventSubscription, 63},
		{"long resub capped", func(tr *Tracker, ctx context.Context) { tr.HandleSubscription(ctx, "s", "3000", 40) }, EventSubscription, 100},
		{"single gift", func(tr *Tracker, ctx context.Context) { tr.HandleGiftSubscription(ctx, "s", 1) }, EventGiftSub, 45},
		{"gift bomb capped", func(tr *Tracker, ctx context.Context) { tr.HandleGiftSubscription(ctx, "s", 50) }, EventGiftSub, 100},
		{"small raid", func(tr *Tracker, ctx context.Context) { tr.HandleRaid(ctx, "s", 10) }, EventRaid, 40},
		{"big raid capped", func(tr *Tracker, ctx context.Context) { tr.HandleRaid(ctx, "s", 500) }, EventRaid, 100},
		{"cheer 500", func(tr *Tracker, ctx context.Context) { tr.HandleCheer(ctx, "s", 500) }, EventCheer, 45},
		{"follow", func(tr *Tracker, ctx context.Context) { tr.HandleFollow(ctx, "s") }, EventFollow, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := newTestTracker()
			store := newFakeStore()
			tr.Store = store
			tc.fire(tr, context.Background())
			evs := store.events()
			if len(evs) != 1 {
				t.Fatalf("got %d events, want 1", len(evs))
			}
			if evs[0].Type != tc.typ {
				t.Fatalf("type = %s, want %s", evs[0].Type, tc.typ)
			}
			if evs[0].EngagementScore != tc.want {
				t.Fatalf("score = %v, want %v", evs[0].EngagementScore, tc.want)
			}
		})
	}
}

func TestStoreFailureDoesNotPanic(t *testing.T) {
	tr, _ := newTestTracker()
	store := newFakeStore()
	store.insertErr = errors.New("db down")
	tr.Store = store
	tr.HandleFollow(context.Background(), "s")
}

func TestRespondSendsAndMarks(t *testing.T) {
	tr, _ := newTestTracker()
	store := newFakeStore()
	resp := &fakeResponder{}
	tr.Store = store
	tr.Responder = resp
	tr.ResponseDelay = 0
	tr.Limiter = rate.NewLimiter(rate.Inf, 1)

	ev := &Event{ID: "e1", Scope: "s", Type: EventRaid, RaidViewers: 150}
	tr.respond(context.Background(), ev)

	msgs := resp.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d responses, want 1", len(msgs))
	}
	if msgs[0] != "A 150-strong raid?! Welcome everyone, make yourselves at home!" {
		t.Fatalf("unexpected response text: %q", msgs[0])
	}
	store.mu.Lock()
	text, ok := store.responded["e1"]
	store.mu.Unlock()
	if !ok || text != msgs[0] {
		t.Fatalf("event not marked responded with sent text")
	}
}

func TestRespondRateLimited(t *testing.T) {
	tr, _ := newTestTracker()
	store := newFakeStore()
	resp := &fakeResponder{}
	tr.Store = store
	tr.Responder = resp
	tr.ResponseDelay = 0
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	lim.Allow() // drain the burst
	tr.Limiter = lim

	tr.respond(context.Background(), &Event{ID: "e1", Scope: "s", Type: EventFollow})
	if len(resp.messages()) != 0 {
		t.Fatal("rate-limited response should be suppressed")
	}
}

func TestRespondSendFailureNotMarked(t *testing.T) {
	tr, _ := newTestTracker()
	store := newFakeStore()
	resp := &fakeResponder{errOn: true}
	tr.Store = store
	tr.Responder = resp
	tr.ResponseDelay = 0
	tr.Limiter = rate.NewLimiter(rate.Inf, 1)

	tr.respond(context.Background(), &Event{ID: "e1", Scope: "s", Type: EventFollow})
	store.mu.Lock()
	_, ok := store.responded["e1"]
	store.mu.Unlock()
	if ok {
		t.Fatal("failed send must not mark the event responded")
	}
}

func TestResponseTemplatesByMagnitude(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Type: EventSubscription, Months: 1}, "Welcome to the community, thanks for subscribing!"},
		{Event{Type: EventSubscription, Months: 5}, "Welcome back for month 5, thanks for the resub!"},
		{Event{Type: EventSubscription, Months: 24}, "24 months?! Absolute legend, thank you for the resub!"},
		{Event{Type: EventGiftSub, GiftCount: 1}, "Thank you for the gifted sub!"},
		{Event{Type: EventGiftSub, GiftCount: 5}, "Thank you for gifting 5 subs!"},
		{Event{Type: EventGiftSub, GiftCount: 25}, "25 gifted subs?! Incredibly generous, thank you so much!"},
		{Event{Type: EventRaid, RaidViewers: 3}, "Welcome raiders!"},
		{Event{Type: EventRaid, RaidViewers: 40}, "Welcome raiders, all 40 of you!"},
		{Event{Type: EventCheer, Bits: 50}, "Thanks for the bits!"},
		{Event{Type: EventCheer, Bits: 250}, "Thanks for the 250 bits!"},
		{Event{Type: EventCheer, Bits: 5000}, "5000 bits?! You're amazing, thank you!"},
		{Event{Type: EventFollow}, "Thanks for the follow!"},
		{Event{Type: EventHypeMoment}, "Chat is going wild right now!"},
	}
	for _, tc := range cases {
		if got := responseFor(&tc.ev); got != tc.want {
			t.Errorf("responseFor(%s) = %q, want %q", tc.ev.Type, got, tc.want)
		}
	}
}

func TestCleanupStaleDropsQuietScopes(t *testing.T) {
	tr, now := newTestTracker()
	ctx := context.Background()

	tr.RecordMessage(ctx, "quiet", false)
	*now = now.Add(3 * tr.Window)
	tr.RecordMessage(ctx, "active", false)

	tr.CleanupStale()
	if n := tr.TrackedScopes(); n != 1 {
		t.Fatalf("tracked scopes = %d, want 1 after cleanup", n)
	}
	if v := tr.Velocity("active"); v != 1 {
		t.Fatalf("active scope velocity = %v, want 1", v)
	}
}

func TestCleanupJobStopsOnCancel(t *testing.T) {
	tr, _ := newTestTracker()
	tr.CleanupInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.StartCleanupJob(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup job did not stop after cancel")
	}
}
