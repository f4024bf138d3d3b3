package server

import (
	"net/http"
)

// HandlePerformanceReport serves live (in-memory) or historical (persisted)
// performance summaries. Query params: scope, from, to (RFC 3339), and
// source=live|historical (default live).
func (h *Handlers) HandlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	switch r.URL.Query().Get("source") {
	case "historical":
		if h.PerfStore == nil {
			http.Error(w, "historical reports unavailable", http.StatusServiceUnavailable)
			return
		}
		report, err := h.PerfStore.HistoricalReport(r.Context(), scope, from, to)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		if h.Monitor == nil {
			http.Error(w, "live reports unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, h.Monitor.LiveReport(scope, from, to))
	}
}

// HandleEngagementReport serves engagement statistics for a scope and range.
func (h *Handlers) HandleEngagementReport(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil || h.Tracker.Store == nil {
		http.Error(w, "engagement reports unavailable", http.StatusServiceUnavailable)
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope required", http.StatusBadRequest)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := h.Tracker.StatsRange(r.Context(), scope, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
