// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/clusterpj/cluster-estate-sub001/internal/api/handlers"
	"github.com/clusterpj/cluster-estate-sub001/internal/api/middleware"
	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/websocket"
)

// Services are the dependencies the routes are built from.
type Services struct {
	DB           *storage.DB
	Sources      *storage.SourceRepository
	Runs         *storage.SyncRunRepository
	Availability *storage.AvailabilityRepository
	Blocks       *storage.BlockRepository
	Properties   calendar.PropertyStore

	Orchestrator *calendar.Orchestrator
	Publisher    *calendar.Publisher
	Scheduler    *calendar.Scheduler // optional

	Hub         *websocket.Hub              // optional
	Broadcaster *websocket.EventBroadcaster // optional

	AllowedOrigins    []string
	FeedRatePerMinute int
	FeedBurst         int
	Metrics           bool
	Version           string
}

// NewRouter creates the HTTP handler with all API routes, the public feed
// and, when enabled, the Prometheus endpoint.
func NewRouter(s Services) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(s.DB, s.Hub, s.Scheduler, s.Version)).Methods("GET")
	if s.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.AllowedOrigins)).Methods("GET")
	}

	// Calendar sources
	api.HandleFunc("/properties/{propertyID}/sources", handlers.ListSources(s.Sources)).Methods("GET")
	api.HandleFunc("/properties/{propertyID}/sources", handlers.CreateSource(s.Sources, s.Properties)).Methods("POST")
	api.HandleFunc("/sources/{id}", handlers.GetSource(s.Sources)).Methods("GET")
	api.HandleFunc("/sources/{id}", handlers.UpdateSource(s.Sources, s.Orchestrator)).Methods("PUT")
	api.HandleFunc("/sources/{id}", handlers.DeleteSource(s.Sources, s.Orchestrator)).Methods("DELETE")
	api.HandleFunc("/sources/{id}/disable", handlers.DisableSource(s.Sources, s.Orchestrator)).Methods("POST")
	api.HandleFunc("/sources/{id}/sync", handlers.SyncSource(s.Orchestrator)).Methods("POST")
	api.HandleFunc("/sources/{id}/runs", handlers.ListRuns(s.Runs)).Methods("GET")
	api.HandleFunc("/runs/{id}", handlers.GetRun(s.Runs)).Methods("GET")

	// Availability and manual blocks
	api.HandleFunc("/properties/{propertyID}/availability", handlers.GetAvailability(s.Availability)).Methods("GET")
	api.HandleFunc("/properties/{propertyID}/bookings/changed", handlers.BookingsChanged(s.Orchestrator, s.Publisher, s.Broadcaster)).Methods("POST")
	api.HandleFunc("/properties/{propertyID}/blocks", handlers.ListBlocks(s.Blocks)).Methods("GET")
	api.HandleFunc("/properties/{propertyID}/blocks", handlers.CreateBlock(s.Blocks, s.Orchestrator, s.Publisher)).Methods("POST")
	api.HandleFunc("/properties/{propertyID}/blocks/{id}", handlers.DeleteBlock(s.Blocks, s.Orchestrator, s.Publisher)).Methods("DELETE")

	// Public busy/free feed
	limiter := middleware.NewRateLimiter(s.FeedRatePerMinute, s.FeedBurst)
	r.Handle("/feeds/{propertyID}.ics", limiter.Limit(handlers.Feed(s.Publisher))).Methods("GET", "HEAD")

	if s.Metrics {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
}
