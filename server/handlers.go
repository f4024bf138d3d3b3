package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatwarden/cache"
	"github.com/onnwee/chatwarden/engagement"
	"github.com/onnwee/chatwarden/perfmon"
)

// Handlers holds dependencies for all HTTP handlers. Any nil collaborator
// disables its endpoints with a 503 rather than panicking.
type Handlers struct {
	DB        *sql.DB
	Caches    *cache.Manager
	Tracker   *engagement.Tracker
	Monitor   *perfmon.Monitor
	PerfStore *perfmon.PGStore

	startedAt time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB) *Handlers {
	return &Handlers{DB: db, startedAt: time.Now()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

// parseRange reads from/to query params (RFC 3339), defaulting to the last
// 24 hours.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	return from, to, nil
}
