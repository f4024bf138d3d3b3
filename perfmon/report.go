package perfmon

import (
	"fmt"
	"math"
	"time"
)

// Report summarizes performance over a scope and time range. LiveReport and
// HistoricalReport both produce this shape, from the in-memory ring and the
// persisted raw events respectively.
type Report struct {
	Scope           string
	From            time.Time
	To              time.Time
	TotalOperations int
	ErrorRate       float64
	AvgResponseMS   float64
	MaxResponseMS   float64
	AvgAIResponseMS float64
	CacheHitRate    float64
}

// LiveReport reduces the in-memory sample ring for a scope and range. An
// empty scope matches all samples. Bounded by the ring size, so suitable for
// live dashboards only.
func (m *Monitor) LiveReport(scope string, from, to time.Time) Report {
	r := Report{Scope: scope, From: from, To: to}

	m.mu.Lock()
	defer m.mu.Unlock()

	var respSum, respN, aiSum, aiN, hitSum, hitN float64
	failures := 0
	for _, s := range m.samples {
		if scope != "" && s.Scope != scope {
			continue
		}
		if s.At.Before(from) || !s.At.Before(to) {
			continue
		}
		r.TotalOperations++
		if !s.Success {
			failures++
		}
		switch s.Type {
		case MetricResponseTime:
			respSum += s.Value
			respN++
			if s.Value > r.MaxResponseMS {
				r.MaxResponseMS = s.Value
			}
		case MetricAIResponseTime:
			aiSum += s.Value
			aiN++
		case MetricCacheHitRate:
			hitSum += s.Value
			hitN++
		}
	}
	if r.TotalOperations > 0 {
		r.ErrorRate = round2(float64(failures) / float64(r.TotalOperations))
	}
	if respN > 0 {
		r.AvgResponseMS = round2(respSum / respN)
	}
	if aiN > 0 {
		r.AvgAIResponseMS = round2(aiSum / aiN)
	}
	if hitN > 0 {
		r.CacheHitRate = round2(hitSum / hitN)
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func alertMessage(typ MetricType, sev Severity, value, threshold float64) string {
	if typ == MetricCacheHitRate {
		return fmt.Sprintf("%s %s: %.2f below floor %.2f", typ, sev, value, threshold)
	}
	if typ == MetricErrorRate {
		return fmt.Sprintf("%s %s: %.2f exceeds %.2f", typ, sev, value, threshold)
	}
	return fmt.Sprintf("%s %s: %.0fms exceeds %.0fms", typ, sev, value, threshold)
}
