package server

import (
	"net/http"
	"strconv"
)

// HandleAlerts lists recent alerts. With a persisted store it returns the
// durable history; otherwise the in-memory ring.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if h.PerfStore != nil {
		alerts, err := h.PerfStore.RecentAlerts(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
		return
	}
	if h.Monitor == nil {
		http.Error(w, "alerts unavailable", http.StatusServiceUnavailable)
		return
	}
	alerts := h.Monitor.Alerts()
	if len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleAlertAck acknowledges one alert by id.
func (h *Handlers) HandleAlertAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if h.Monitor == nil {
		http.Error(w, "alerts unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.Monitor.Acknowledge(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "id": id})
}
