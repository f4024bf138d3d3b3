package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chatwarden/telemetry"
)

// Store is the persistence surface the aggregator reads raw events from and
// writes rollups to.
type Store interface {
	ScopesWithEvents(ctx context.Context, from, to time.Time) ([]string, error)
	EventsInRange(ctx context.Context, scope string, from, to time.Time) ([]RawEvent, error)
	PriorSubjects(ctx context.Context, scope string, before time.Time, subjects []string) (map[string]bool, error)
	UpsertRollup(ctx context.Context, r *Rollup) (created bool, err error)
}

// Result reports how a batch aggregation run went. A failure on one scope
// does not abort the others; its error lands in Errors and the run continues.
type Result struct {
	ScopesProcessed int
	Created         int
	Updated         int
	Errors          []error
}

func (r *Result) merge(other Result) {
	r.ScopesProcessed += other.ScopesProcessed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Errors = append(r.Errors, other.Errors...)
}

// Aggregator turns raw analytics events into hourly and daily rollups. It is
// stateless between runs beyond what it reads and writes through Store.
type Aggregator struct {
	Store Store

	now func() time.Time
}

// NewAggregator builds an aggregator over the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store, now: time.Now}
}

// AggregateHour recomputes the hourly rollup containing t for every scope
// with events in that hour.
func (a *Aggregator) AggregateHour(ctx context.Context, t time.Time) Result {
	return a.aggregateBucket(ctx, AlignBucket(t, GranularityHour), GranularityHour)
}

// AggregateDay recomputes the daily rollup containing t for every scope with
// events in that day.
func (a *Aggregator) AggregateDay(ctx context.Context, t time.Time) Result {
	return a.aggregateBucket(ctx, AlignBucket(t, GranularityDay), GranularityDay)
}

// AggregateRange decomposes [from, to) into buckets of the given granularity
// and aggregates each, combining the per-bucket results.
func (a *Aggregator) AggregateRange(ctx context.Context, from, to time.Time, g Granularity) Result {
	var total Result
	for _, bucket := range BucketsBetween(from, to, g) {
		total.merge(a.aggregateBucket(ctx, bucket, g))
	}
	return total
}

func (a *Aggregator) aggregateBucket(ctx context.Context, bucketStart time.Time, g Granularity) Result {
	var res Result
	bucketEnd := bucketStart.Add(g.Duration())

	scopes, err := a.Store.ScopesWithEvents(ctx, bucketStart, bucketEnd)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list scopes for bucket %s: %w", bucketStart.Format(time.RFC3339), err))
		return res
	}
	for _, scope := range scopes {
		created, err := a.aggregateScope(ctx, scope, bucketStart, bucketEnd, g)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("scope %s bucket %s: %w", scope, bucketStart.Format(time.RFC3339), err))
			if telemetry.RollupErrors != nil {
				telemetry.RollupErrors.Inc()
			}
			continue
		}
		res.ScopesProcessed++
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res
}

func (a *Aggregator) aggregateScope(ctx context.Context, scope string, bucketStart, bucketEnd time.Time, g Granularity) (bool, error) {
	events, err := a.Store.EventsInRange(ctx, scope, bucketStart, bucketEnd)
	if err != nil {
		return false, fmt.Errorf("load events: %w", err)
	}
	subjects := distinctSubjects(events)
	seenBefore, err := a.Store.PriorSubjects(ctx, scope, bucketStart, subjects)
	if err != nil {
		return false, fmt.Errorf("load prior subjects: %w", err)
	}
	rollup := ComputeRollup(scope, bucketStart, g, events, seenBefore)
	rollup.ComputedAt = a.now().UTC()
	created, err := a.Store.UpsertRollup(ctx, rollup)
	if err != nil {
		return false, fmt.Errorf("upsert rollup: %w", err)
	}
	return created, nil
}

func distinctSubjects(events []RawEvent) []string {
	seen := make(map[string]bool, len(events))
	var out []string
	for _, ev := range events {
		if !seen[ev.Subject] {
			seen[ev.Subject] = true
			out = append(out, ev.Subject)
		}
	}
	return out
}

// StartRollupJob runs the scheduled aggregation cadence until ctx is
// canceled: at five past each hour it rolls up the previous hour, and at
// 00:05 UTC it additionally rolls up the previous day.
func (a *Aggregator) StartRollupJob(ctx context.Context) {
	slog.Info("analytics rollup job started")
	for {
		next := nextRun(a.now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(a.now())):
		}
		a.runScheduled(ctx, next)
	}
}

func (a *Aggregator) runScheduled(ctx context.Context, at time.Time) {
	if telemetry.RollupRuns != nil {
		telemetry.RollupRuns.Inc()
	}
	prevHour := at.Add(-time.Hour)
	res := a.AggregateHour(ctx, prevHour)
	if at.UTC().Hour() == 0 {
		res.merge(a.AggregateDay(ctx, at.Add(-24*time.Hour)))
	}
	for _, err := range res.Errors {
		slog.Error("rollup aggregation error", slog.Any("err", err))
	}
	slog.Info("rollup run complete",
		slog.Int("scopes", res.ScopesProcessed),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("errors", len(res.Errors)))
}

// nextRun returns the next :05 past the hour strictly after now, in UTC.
func nextRun(now time.Time) time.Time {
	u := now.UTC()
	run := time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 5, 0, 0, time.UTC)
	if !run.After(u) {
		run = run.Add(time.Hour)
	}
	return run
}
