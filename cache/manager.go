package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSummaryInterval is how often the Manager logs a consolidated
// metrics summary across registered caches.
const DefaultSummaryInterval = 15 * time.Minute

// Instance is the type-erased view the Manager holds of a registered cache.
// Cache[K, V] satisfies it for any K, V.
type Instance interface {
	Name() string
	Len() int
	Metrics() Metrics
	RemoveExpired() int
}

// Manager is an explicitly constructed registry of named caches. It owns the
// background expiry sweep and the periodic metrics summary for every cache
// registered with it, so a host process gets exactly one set of timers that
// stop when the context passed to Run is canceled.
type Manager struct {
	// SweepInterval controls the proactive expiry sweep (default 5m).
	SweepInterval time.Duration
	// SummaryInterval controls the consolidated metrics log (default 15m).
	SummaryInterval time.Duration

	mu     sync.Mutex
	caches map[string]Instance
}

// NewManager returns an empty registry with default intervals.
func NewManager() *Manager {
	return &Manager{
		SweepInterval:   DefaultSweepInterval,
		SummaryInterval: DefaultSummaryInterval,
		caches:          make(map[string]Instance),
	}
}

// Register adds a cache under its name. Re-registering a name replaces the
// previous instance.
func (m *Manager) Register(c Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[c.Name()] = c
}

// Stats returns a metrics snapshot per registered cache name.
func (m *Manager) Stats() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metrics, len(m.caches))
	for name, c := range m.caches {
		out[name] = c.Metrics()
	}
	return out
}

// CleanupAll sweeps expired entries from every registered cache on demand and
// returns the total number of entries removed.
func (m *Manager) CleanupAll() int {
	m.mu.Lock()
	caches := make([]Instance, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.mu.Unlock()
	total := 0
	for _, c := range caches {
		total += c.RemoveExpired()
	}
	return total
}

// Run drives the background sweep and summary tickers until ctx is canceled.
// Intended to be started with `go manager.Run(ctx)` by the host process.
func (m *Manager) Run(ctx context.Context) {
	sweepEvery := m.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	summaryEvery := m.SummaryInterval
	if summaryEvery <= 0 {
		summaryEvery = DefaultSummaryInterval
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()
	summary := time.NewTicker(summaryEvery)
	defer summary.Stop()
	slog.Info("cache manager started",
		slog.Duration("sweep_interval", sweepEvery),
		slog.Duration("summary_interval", summaryEvery))
	for {
		select {
		case <-ctx.Done():
			slog.Info("cache manager stopped")
			return
		case <-sweep.C:
			if removed := m.CleanupAll(); removed > 0 {
				slog.Debug("cache sweep removed expired entries", slog.Int("removed", removed))
			}
		case <-summary.C:
			m.logSummary()
		}
	}
}

// logSummary emits one consolidated line across all caches plus a rough
// utilization estimate (entries used vs configured capacity).
func (m *Manager) logSummary() {
	stats := m.Stats()
	var totalEntries, totalCapacity int
	var totalHits, totalMisses uint64
	for name, s := range stats {
		totalEntries += s.Size
		totalCapacity += s.MaxSize
		totalHits += s.Hits
		totalMisses += s.Misses
		slog.Info("cache metrics",
			slog.String("cache", name),
			slog.Uint64("hits", s.Hits),
			slog.Uint64("misses", s.Misses),
			slog.Uint64("evictions", s.Evictions),
			slog.Uint64("expirations", s.Expirations),
			slog.Int("size", s.Size),
			slog.Int("max_size", s.MaxSize),
			slog.String("hit_rate", s.HitRate))
	}
	utilization := 0.0
	if totalCapacity > 0 {
		utilization = float64(totalEntries) / float64(totalCapacity) * 100
	}
	slog.Info("cache summary",
		slog.Int("caches", len(stats)),
		slog.Int("entries", totalEntries),
		slog.Int("capacity", totalCapacity),
		slog.Uint64("hits", totalHits),
		slog.Uint64("misses", totalMisses),
		slog.Float64("utilization_pct", utilization))
}
