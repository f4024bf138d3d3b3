package server

import (
	"net/http"
	"time"
)

// HandleStatus summarizes component state for dashboards: uptime, cache
// metrics, tracked engagement scopes, and recent alerts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}
	if h.Caches != nil {
		status["caches"] = h.Caches.Stats()
	}
	if h.Tracker != nil {
		status["tracked_scopes"] = h.Tracker.TrackedScopes()
	}
	if h.Monitor != nil {
		alerts := h.Monitor.Alerts()
		unacked := 0
		for _, a := range alerts {
			if !a.Acknowledged {
				unacked++
			}
		}
		status["alerts_retained"] = len(alerts)
		status["alerts_unacknowledged"] = unacked
	}
	writeJSON(w, http.StatusOK, status)
}
