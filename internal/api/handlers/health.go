// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Healthy(r.Context()) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: status, DBConnected: dbConnected})
	}
}

// StatusResponse represents the sync system status.
type StatusResponse struct {
	Version          string     `json:"version"`
	SourcesCount     int        `json:"sources_count"`
	EnabledSources   int        `json:"enabled_sources"`
	FailingSources   int        `json:"failing_sources"`
	RunningSyncs     int        `json:"running_syncs"`
	WebSocketClients int        `json:"websocket_clients"`
	LastSweepAt      *time.Time `json:"last_sweep_at,omitempty"`
	NextSweepAt      *time.Time `json:"next_sweep_at,omitempty"`
}

// Status returns a handler that provides system status information.
func Status(db *storage.DB, hub *websocket.Hub, scheduler *calendar.Scheduler, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{Version: version}

		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calendar_sources").Scan(&resp.SourcesCount)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calendar_sources WHERE enabled = 1").Scan(&resp.EnabledSources)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calendar_sources WHERE enabled = 1 AND last_sync_status = 'error'").Scan(&resp.FailingSources)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs WHERE finished_at IS NULL").Scan(&resp.RunningSyncs)

		if hub != nil {
			resp.WebSocketClients = hub.ClientCount()
		}
		if scheduler != nil {
			if last := scheduler.LastSweep(); !last.IsZero() {
				resp.LastSweepAt = &last
			}
			resp.NextSweepAt = scheduler.NextSweep()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
