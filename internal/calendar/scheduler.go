package calendar

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

const (
	// DefaultSweepSpec checks for due sources every five minutes.
	DefaultSweepSpec = "@every 5m"

	// DefaultRollSpec re-materializes every property shortly after UTC midnight
	// so the horizon moves forward even when nothing is synced.
	DefaultRollSpec = "15 0 * * *"
)

// Scheduler drives periodic sweeps of due sources and the daily horizon roll.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	sourceRepo   *storage.SourceRepository

	sweepSpec string
	rollSpec  string
	sweepID   cron.EntryID

	// ctx is cancelled on Stop so in-flight runs abort.
	ctx    context.Context
	cancel context.CancelFunc

	// sweeping is held for the whole of a sweep, whoever started it.
	sweeping sync.Mutex
	// background tracks sweeps started by RunNow.
	background sync.WaitGroup

	mu        sync.RWMutex
	lastSweep time.Time
}

// NewScheduler creates a scheduler. Empty specs take the defaults.
func NewScheduler(orchestrator *Orchestrator, sourceRepo *storage.SourceRepository, sweepSpec, rollSpec string) *Scheduler {
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSpec
	}
	if rollSpec == "" {
		rollSpec = DefaultRollSpec
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		orchestrator: orchestrator,
		sourceRepo:   sourceRepo,
		sweepSpec:    sweepSpec,
		rollSpec:     rollSpec,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	log.Println("Starting calendar sync scheduler...")

	id, err := s.cron.AddFunc(s.sweepSpec, func() {
		s.RunSweep(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", s.sweepSpec, err)
	}
	s.sweepID = id

	if _, err := s.cron.AddFunc(s.rollSpec, func() {
		s.RollHorizons(s.ctx)
	}); err != nil {
		return fmt.Errorf("scheduling horizon roll %q: %w", s.rollSpec, err)
	}

	s.cron.Start()
	log.Printf("Calendar scheduler started (sweep %s, roll %s)", s.sweepSpec, s.rollSpec)

	return nil
}

// Stop cancels in-flight runs and waits for running jobs, including sweeps
// started by RunNow, to return.
func (s *Scheduler) Stop() {
	log.Println("Stopping calendar sync scheduler...")
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.background.Wait()
	log.Println("Calendar scheduler stopped")
}

// RunNow starts a sweep in the background under the scheduler's lifetime.
// Stop cancels it and waits for it.
func (s *Scheduler) RunNow() {
	if s.ctx.Err() != nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.RunSweep(s.ctx)
	}()
}

// RunSweep syncs every due source once. It returns nil without syncing when
// another sweep is still running.
func (s *Scheduler) RunSweep(ctx context.Context) []models.SyncRun {
	if !s.sweeping.TryLock() {
		log.Println("Sync sweep already running, skipping")
		return nil
	}
	defer s.sweeping.Unlock()

	s.mu.Lock()
	s.lastSweep = time.Now().UTC()
	s.mu.Unlock()

	runs, err := s.orchestrator.SyncDueSources(ctx)
	if err != nil {
		log.Printf("Sync sweep failed: %v", err)
		return nil
	}

	failed := 0
	for _, run := range runs {
		if run.Outcome == models.OutcomeError {
			failed++
		}
	}
	if len(runs) > 0 {
		log.Printf("Sync sweep finished: %d runs, %d failed", len(runs), failed)
	}
	return runs
}

// RollHorizons refreshes availability for every property that has sources.
func (s *Scheduler) RollHorizons(ctx context.Context) {
	ids, err := s.sourceRepo.ListPropertyIDs(ctx)
	if err != nil {
		log.Printf("Failed to list properties for horizon roll: %v", err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.orchestrator.RefreshProperty(ctx, id); err != nil {
			log.Printf("Horizon roll failed for property %s: %v", id, err)
		}
	}
	log.Printf("Rolled availability horizon for %d properties", len(ids))
}

// LastSweep returns when the most recent sweep started, or zero.
func (s *Scheduler) LastSweep() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSweep
}

// NextSweep returns the next scheduled sweep time.
func (s *Scheduler) NextSweep() *time.Time {
	entry := s.cron.Entry(s.sweepID)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}
