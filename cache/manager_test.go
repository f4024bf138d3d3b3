package cache

import (
	"context"
	"testing"
	"time"
)

func TestManagerStats(t *testing.T) {
	m := NewManager()
	a := New[string, int]("alpha", 5, time.Minute)
	b := New[string, string]("beta", 3, time.Minute)
	m.Register(a)
	m.Register(b)

	a.Set("k", 1)
	a.Get("k")
	b.Get("missing")

	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats tracked %d caches, want 2", len(stats))
	}
	if stats["alpha"].Hits != 1 {
		t.Errorf("alpha hits = %d, want 1", stats["alpha"].Hits)
	}
	if stats["beta"].Misses != 1 {
		t.Errorf("beta misses = %d, want 1", stats["beta"].Misses)
	}
}

func TestManagerCleanupAll(t *testing.T) {
	now := time.Now()
	m := NewManager()
	a := New[string, int]("alpha", 5, time.Minute)
	a.now = func() time.Time { return now }
	b := New[string, int]("beta", 5, time.Minute)
	b.now = func() time.Time { return now }
	m.Register(a)
	m.Register(b)

	a.SetTTL("x", 1, time.Millisecond)
	b.SetTTL("y", 2, time.Millisecond)
	b.SetTTL("z", 3, time.Hour)

	now = now.Add(time.Second)
	if removed := m.CleanupAll(); removed != 2 {
		t.Errorf("CleanupAll = %d, want 2", removed)
	}
	if b.Len() != 1 {
		t.Errorf("beta len = %d, want 1", b.Len())
	}
}

func TestManagerRegisterReplaces(t *testing.T) {
	m := NewManager()
	m.Register(New[string, int]("alpha", 5, time.Minute))
	m.Register(New[string, int]("alpha", 9, time.Minute))
	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("Stats tracked %d caches, want 1", len(stats))
	}
	if stats["alpha"].MaxSize != 9 {
		t.Errorf("alpha max size = %d, want replacement's 9", stats["alpha"].MaxSize)
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	m := NewManager()
	m.SweepInterval = time.Millisecond
	m.SummaryInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
