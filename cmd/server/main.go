// Package main is the entry point for the calendar sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/clusterpj/cluster-estate-sub001/internal/api"
	"github.com/clusterpj/cluster-estate-sub001/internal/cache"
	"github.com/clusterpj/cluster-estate-sub001/internal/calendar"
	"github.com/clusterpj/cluster-estate-sub001/internal/config"
	"github.com/clusterpj/cluster-estate-sub001/internal/metrics"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	addr := flag.String("addr", "", "HTTP server address (overrides server.listen)")
	dataDir := flag.String("data", "", "Data directory for the SQLite database (overrides server.data_dir)")
	once := flag.Bool("once", false, "Run one sync sweep and exit")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Listen = *addr
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Listen); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Printf("Starting calendar sync server (version: %s)...", version)

	db, err := storage.Open(filepath.Join(cfg.Server.DataDir, "calendar-sync.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Println("Database migrations complete")

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	feedCache := newFeedCache(cfg)

	sourceRepo := storage.NewSourceRepository(db)
	runRepo := storage.NewSyncRunRepository(db)
	availabilityRepo := storage.NewAvailabilityRepository(db)
	bookingRepo := storage.NewBookingRepository(db)
	propertyRepo := storage.NewPropertyRepository(db)
	blockRepo := storage.NewBlockRepository(db)

	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	orchestrator := calendar.NewOrchestrator(calendar.Dependencies{
		Sources:      sourceRepo,
		Events:       storage.NewEventRepository(db),
		Runs:         runRepo,
		Availability: availabilityRepo,
		Bookings:     bookingRepo,
		Properties:   propertyRepo,
		Blocks:       blockRepo,
		Fetcher:      calendar.NewFetcher(cfg.Sync.FetchTimeout),
		Cache:        feedCache,
		Notifier:     broadcaster,
	}, calendar.Options{
		MaxAttempts:  cfg.Sync.MaxAttempts,
		SourceBudget: cfg.Sync.SourceBudget,
		Workers:      cfg.Sync.Workers,
		HorizonDays:  cfg.Sync.HorizonDays,
	})

	scheduler := calendar.NewScheduler(orchestrator, sourceRepo, cfg.Sync.SweepCron, cfg.Sync.RollCron)

	if *once {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		runs := scheduler.RunSweep(ctx)
		log.Printf("Sweep complete: %d runs", len(runs))
		hub.Stop()
		return
	}

	publisher := calendar.NewPublisher(propertyRepo, bookingRepo, blockRepo, feedCache, cfg.Feed.UIDDomain, cfg.Feed.ProductID)

	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start calendar scheduler: %v", err)
	}
	// Catch up immediately instead of waiting for the first tick.
	scheduler.RunNow()

	router := api.NewRouter(api.Services{
		DB:                db,
		Sources:           sourceRepo,
		Runs:              runRepo,
		Availability:      availabilityRepo,
		Blocks:            blockRepo,
		Properties:        propertyRepo,
		Orchestrator:      orchestrator,
		Publisher:         publisher,
		Scheduler:         scheduler,
		Hub:               hub,
		Broadcaster:       broadcaster,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		FeedRatePerMinute: cfg.Feed.RatePerMinute,
		FeedBurst:         cfg.Feed.Burst,
		Metrics:           cfg.Monitoring.PrometheusEnabled,
		Version:           version,
	})

	// WriteTimeout leaves room for a manual sync that runs to its budget.
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Sync.SourceBudget + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(hub.Stop)

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Listen)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// newFeedCache uses Redis when configured and reachable, otherwise memory.
func newFeedCache(cfg *config.Config) cache.FeedCache {
	if cfg.Redis.Address == "" {
		return cache.NewMemory(cfg.Feed.CacheTTL)
	}

	client := cache.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx, client); err != nil {
		log.Printf("Warning: Redis unavailable, using in-memory feed cache: %v", err)
		client.Close()
		return cache.NewMemory(cfg.Feed.CacheTTL)
	}

	log.Printf("Using Redis feed cache at %s", cfg.Redis.Address)
	return cache.NewRedis(client, cfg.Feed.CacheTTL)
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
