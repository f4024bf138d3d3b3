// Package analytics reduces raw per-message processing records into
// time-bucketed rollups. Rollups are derived data: recomputing a bucket
// overwrites the previous materialization, so reruns and retries are safe.
package analytics

import (
	"math"
	"time"
)

// Granularity selects the bucket width of a rollup.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	if g == GranularityDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// RawEvent is one completed message-processing record, immutable once
// written. It is the sole input to aggregation.
type RawEvent struct {
	Scope             string
	Subject           string
	MessageType       string
	Command           string
	MessageLength     int
	ResponseLength    int
	ProcessingMS      float64
	AIResponseMS      float64
	TotalMS           float64
	CacheHit          bool
	Success           bool
	ErrorType         string
	ErrorMessage      string
	ModerationFlagged bool
	CreatedAt         time.Time
}

// Rollup is the materialized aggregate for one scope and bucket.
type Rollup struct {
	Scope              string
	BucketStart        time.Time
	Granularity        Granularity
	TotalMessages      int
	SuccessfulMessages int
	FailedMessages     int
	UniqueUsers        int
	CommandCounts      map[string]int
	AvgProcessingMS    float64
	AvgAIResponseMS    float64
	CacheHitRate       float64
	RateLimitErrors    int
	APIErrors          int
	ModerationActions  int
	NewUsers           int
	ReturningUsers     int
	ComputedAt         time.Time
}

// AlignBucket truncates t to the containing bucket's start in UTC.
func AlignBucket(t time.Time, g Granularity) time.Time {
	u := t.UTC()
	if g == GranularityDay {
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	}
	return u.Truncate(time.Hour)
}

// BucketsBetween decomposes [from, to) into aligned bucket starts. The first
// bucket may begin before from; events are still selected per bucket bounds.
func BucketsBetween(from, to time.Time, g Granularity) []time.Time {
	var out []time.Time
	width := g.Duration()
	for b := AlignBucket(from, g); b.Before(to.UTC()); b = b.Add(width) {
		out = append(out, b)
	}
	return out
}

// ComputeRollup reduces the bucket's events into a Rollup. seenBefore
// reports whether the subject appears in the scope strictly before the
// bucket start, driving the new-vs-returning split. Averages ignore
// non-positive timing samples.
func ComputeRollup(scope string, bucketStart time.Time, g Granularity, events []RawEvent, seenBefore map[string]bool) *Rollup {
	r := &Rollup{
		Scope:         scope,
		BucketStart:   bucketStart,
		Granularity:   g,
		CommandCounts: make(map[string]int),
	}
	subjects := make(map[string]bool)
	var procSum, procN, aiSum, aiN float64
	hits := 0
	for _, ev := range events {
		r.TotalMessages++
		if ev.Success {
			r.SuccessfulMessages++
		} else {
			r.FailedMessages++
		}
		subjects[ev.Subject] = true
		if ev.Command != "" {
			r.CommandCounts[ev.Command]++
		}
		if ev.ProcessingMS > 0 {
			procSum += ev.ProcessingMS
			procN++
		}
		if ev.AIResponseMS > 0 {
			aiSum += ev.AIResponseMS
			aiN++
		}
		if ev.CacheHit {
			hits++
		}
		switch ev.ErrorType {
		case "rate_limit":
			r.RateLimitErrors++
		case "api_error":
			r.APIErrors++
		}
		if ev.ModerationFlagged {
			r.ModerationActions++
		}
	}
	r.UniqueUsers = len(subjects)
	if procN > 0 {
		r.AvgProcessingMS = round2(procSum / procN)
	}
	if aiN > 0 {
		r.AvgAIResponseMS = round2(aiSum / aiN)
	}
	if r.TotalMessages > 0 {
		r.CacheHitRate = round2(float64(hits) / float64(r.TotalMessages))
	}
	for s := range subjects {
		if seenBefore[s] {
			r.ReturningUsers++
		} else {
			r.NewUsers++
		}
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
