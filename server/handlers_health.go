package server

import (
	"encoding/json"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking database
// connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	if err := h.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.DB.PingContext(r.Context()) }},
		{"schema", func() error {
			var n int
			return h.DB.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM moderation_configs").Scan(&n)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
