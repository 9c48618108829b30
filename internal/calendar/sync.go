package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clusterpj/cluster-estate-sub001/internal/availability"
	"github.com/clusterpj/cluster-estate-sub001/internal/cache"
	"github.com/clusterpj/cluster-estate-sub001/internal/ics"
	"github.com/clusterpj/cluster-estate-sub001/internal/metrics"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage"
	"github.com/clusterpj/cluster-estate-sub001/internal/storage/models"
)

// State is a step of a source's sync lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateParsing     State = "parsing"
	StateReconciling State = "reconciling"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// BookingStore is the read-only view of the booking flow's reservations.
type BookingStore interface {
	ListBookings(ctx context.Context, propertyID string, from, to time.Time) ([]models.Booking, error)
}

// PropertyStore is the read-only view of listings.
type PropertyStore interface {
	GetProperty(ctx context.Context, propertyID string) (*models.Property, error)
}

// BlockStore lists owner-entered blocks.
type BlockStore interface {
	ListByProperty(ctx context.Context, propertyID string, from, to time.Time) ([]models.ManualBlock, error)
}

// FeedFetcher retrieves raw feed text. *Fetcher implements it.
type FeedFetcher interface {
	Fetch(ctx context.Context, address string) ([]byte, error)
}

// Notifier receives sync lifecycle events. Implementations must not block.
type Notifier interface {
	SyncStateChanged(sourceID, propertyID, runID, state string)
	SyncFinished(source models.CalendarSource, run models.SyncRun)
}

// Options tunes the orchestrator. Zero values take the defaults.
type Options struct {
	MaxAttempts  int           // fetch attempts per run, default 3
	BaseBackoff  time.Duration // first retry delay, default 2s
	MaxBackoff   time.Duration // retry delay cap, default 30s
	SourceBudget time.Duration // wall-clock limit per run, default 2m
	Workers      int           // concurrent runs in a sweep, default 4
	HorizonDays  int           // horizon length when a property has no end date, default 365
	Now          func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.SourceBudget <= 0 {
		o.SourceBudget = 2 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = 365
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Dependencies are the stores and collaborators the orchestrator drives.
type Dependencies struct {
	Sources      *storage.SourceRepository
	Events       *storage.EventRepository
	Runs         *storage.SyncRunRepository
	Availability *storage.AvailabilityRepository
	Bookings     BookingStore
	Properties   PropertyStore
	Blocks       BlockStore
	Fetcher      FeedFetcher
	Cache        cache.FeedCache // optional
	Notifier     Notifier        // optional
}

// Orchestrator runs fetch, parse, reconcile and persist for calendar sources.
// Reconciliation and persistence are serialized per property; everything
// else runs concurrently.
type Orchestrator struct {
	deps  Dependencies
	opts  Options
	slots *propertySlots
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		slots: newPropertySlots(),
	}
}

// SyncSource runs one manual sync. The interval check is bypassed but a
// disabled source is refused with ErrSourceDisabled. Failures of the run
// itself are reported through the returned SyncRun, not the error.
func (o *Orchestrator) SyncSource(ctx context.Context, sourceID string) (*models.SyncRun, error) {
	src, err := o.deps.Sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, &PersistenceError{Op: "loading source", Err: err}
	}
	if src == nil {
		return nil, ErrSourceNotFound
	}
	if !src.Enabled {
		return nil, ErrSourceDisabled
	}

	return o.run(ctx, src, models.TriggerManual)
}

// SyncDueSources runs every enabled source whose interval has elapsed on a
// bounded worker pool. One source failing never stops the others; the
// returned error only reports that the due list could not be loaded.
func (o *Orchestrator) SyncDueSources(ctx context.Context) ([]models.SyncRun, error) {
	enabled, err := o.deps.Sources.ListEnabled(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "listing sources", Err: err}
	}

	now := o.opts.Now()
	var due []models.CalendarSource
	for _, src := range enabled {
		if src.IsDue(now) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	log.Printf("Sync sweep: %d of %d enabled sources due", len(due), len(enabled))

	runs := make([]models.SyncRun, len(due))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i := range due {
		i := i
		g.Go(func() error {
			src := due[i]
			run, err := o.run(ctx, &src, models.TriggerScheduled)
			if err != nil {
				log.Printf("Sync of source %s could not start: %v", src.ID, err)
				msg := err.Error()
				runs[i] = models.SyncRun{SourceID: src.ID, Trigger: models.TriggerScheduled, StartedAt: now, Outcome: models.OutcomeError, ErrorMessage: &msg}
				return nil
			}
			runs[i] = *run
			return nil
		})
	}
	g.Wait()

	return runs, nil
}

// RefreshProperty re-materializes a property's availability from stored
// events, bookings and blocks without fetching anything.
func (o *Orchestrator) RefreshProperty(ctx context.Context, propertyID string) (*availability.Result, error) {
	release, err := o.slots.acquire(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("waiting for property slot: %w", err)
	}
	defer release()

	commit, res, _, err := o.reconcile(ctx, propertyID, "", nil, false)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Availability.Commit(ctx, commit); err != nil {
		return nil, &PersistenceError{Op: "availability", Err: err}
	}
	o.invalidate(ctx, propertyID)

	return res, nil
}

// run executes and finalizes one SyncRun.
func (o *Orchestrator) run(ctx context.Context, src *models.CalendarSource, trigger models.SyncTrigger) (*models.SyncRun, error) {
	run := &models.SyncRun{
		SourceID:  src.ID,
		Trigger:   trigger,
		StartedAt: o.opts.Now(),
	}
	if err := o.deps.Runs.Create(ctx, run); err != nil {
		return nil, &PersistenceError{Op: "sync run", Err: err}
	}

	log.Printf("Syncing calendar source %s (%s, %s) run %s", src.ID, src.Name, src.Kind, run.ID)

	budgetCtx, cancel := context.WithTimeout(ctx, o.opts.SourceBudget)
	err := o.execute(budgetCtx, src, run)
	if err != nil && errors.Is(budgetCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("sync exceeded budget of %s: %w", o.opts.SourceBudget, err)
	}
	cancel()

	// The caller's context may already be done; the outcome is still recorded.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer finishCancel()
	o.finish(finishCtx, src, run, err)

	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, src *models.CalendarSource, run *models.SyncRun) error {
	var incoming []models.CalendarEvent
	remote := src.FetchesRemote()

	if remote {
		o.transition(src, run, StateFetching)
		body, err := o.fetchWithRetry(ctx, src)
		if err != nil {
			return err
		}

		o.transition(src, run, StateParsing)
		incoming, err = ics.Parse(body)
		if err != nil {
			return err
		}
		for i := range incoming {
			incoming[i].SourceID = src.ID
		}
	}

	release, err := o.slots.acquire(ctx, src.PropertyID)
	if err != nil {
		return fmt.Errorf("waiting for property slot: %w", err)
	}
	defer release()

	o.transition(src, run, StateReconciling)
	commit, res, processed, err := o.reconcile(ctx, src.PropertyID, src.ID, incoming, remote)
	if err != nil {
		return err
	}
	run.EventsProcessed = processed
	if remote {
		run.Conflicts = availability.ConflictsInvolving(res.Conflicts, src.ID)
	} else {
		run.Conflicts = res.Conflicts
	}
	if cerr := (availability.Result{Conflicts: run.Conflicts}).Err(); cerr != nil {
		log.Printf("Source %s: %v", src.ID, cerr)
	}

	o.transition(src, run, StatePersisting)
	if err := o.deps.Availability.Commit(ctx, commit); err != nil {
		return &PersistenceError{Op: "availability", Err: err}
	}
	o.invalidate(ctx, src.PropertyID)

	return nil
}

// reconcile loads the property's state, folds in incoming events for
// sourceID when merge is set, and computes the new timeline.
func (o *Orchestrator) reconcile(ctx context.Context, propertyID, sourceID string, incoming []models.CalendarEvent, merge bool) (*storage.SyncCommit, *availability.Result, int, error) {
	property, err := o.deps.Properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, nil, 0, &PersistenceError{Op: "loading property", Err: err}
	}
	if property == nil {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID)
	}
	horizon := availability.HorizonFor(property, o.opts.Now(), o.opts.HorizonDays)

	live, err := o.deps.Events.ListLiveByProperty(ctx, propertyID)
	if err != nil {
		return nil, nil, 0, &PersistenceError{Op: "loading events", Err: err}
	}

	var merged []models.CalendarEvent
	processed := 0
	if merge {
		existing, err := o.deps.Events.ListBySource(ctx, sourceID)
		if err != nil {
			return nil, nil, 0, &PersistenceError{Op: "loading source events", Err: err}
		}
		var stats availability.MergeStats
		merged, stats = availability.MergeEvents(existing, incoming, o.opts.Now())
		processed = stats.Processed()
		log.Printf("Source %s merge: %d added, %d updated, %d unchanged, %d stale, %d removed, %d restored",
			sourceID, stats.Added, stats.Updated, stats.Unchanged, stats.Stale, stats.Removed, stats.Restored)

		live = withSourceEvents(live, sourceID, merged)
	}

	sources, err := o.deps.Sources.ListByProperty(ctx, propertyID)
	if err != nil {
		return nil, nil, 0, &PersistenceError{Op: "loading sources", Err: err}
	}
	enabled := sources[:0]
	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	bookings, err := o.deps.Bookings.ListBookings(ctx, propertyID, horizon.From, horizon.To)
	if err != nil {
		return nil, nil, 0, &PersistenceError{Op: "loading bookings", Err: err}
	}
	blocks, err := o.deps.Blocks.ListByProperty(ctx, propertyID, horizon.From, horizon.To)
	if err != nil {
		return nil, nil, 0, &PersistenceError{Op: "loading blocks", Err: err}
	}

	res := availability.Reconcile(availability.Input{
		PropertyID: propertyID,
		Horizon:    horizon,
		Sources:    enabled,
		Events:     live,
		Bookings:   bookings,
		Blocks:     blocks,
	})
	if !merge {
		processed = len(live) + len(bookings) + len(blocks)
	}

	commit := &storage.SyncCommit{
		PropertyID: propertyID,
		Events:     merged,
		Intervals:  res.Intervals,
	}
	return commit, &res, processed, nil
}

// withSourceEvents replaces sourceID's stored live events with its merged set.
func withSourceEvents(live []models.CalendarEvent, sourceID string, merged []models.CalendarEvent) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(live)+len(merged))
	for _, ev := range live {
		if ev.SourceID != sourceID {
			out = append(out, ev)
		}
	}
	for _, ev := range merged {
		if ev.Live() {
			out = append(out, ev)
		}
	}
	return out
}

// fetchWithRetry retries transient failures with exponential backoff.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, src *models.CalendarSource) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempts < o.opts.MaxAttempts {
		attempts++
		body, err := o.deps.Fetcher.Fetch(ctx, src.Address)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) || attempts == o.opts.MaxAttempts {
			break
		}

		delay := o.backoff(attempts)
		log.Printf("Fetch attempt %d/%d for source %s failed: %v; retrying in %s",
			attempts, o.opts.MaxAttempts, src.ID, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry aborted after %d attempt(s): %w", attempts, lastErr)
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempt(s): %w", attempts, lastErr)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.BaseBackoff << (attempt - 1)
	if d <= 0 || d > o.opts.MaxBackoff {
		d = o.opts.MaxBackoff
	}
	return d
}

// finish finalizes the run and records the outcome on the source.
func (o *Orchestrator) finish(ctx context.Context, src *models.CalendarSource, run *models.SyncRun, err error) {
	finished := o.opts.Now()
	run.FinishedAt = &finished

	switch {
	case err != nil:
		run.Outcome = models.OutcomeError
		msg := err.Error()
		run.ErrorMessage = &msg
	case len(run.Conflicts) > 0:
		run.Outcome = models.OutcomePartial
	default:
		run.Outcome = models.OutcomeSuccess
	}

	if ferr := o.deps.Runs.Finalize(ctx, run); ferr != nil {
		log.Printf("Failed to finalize sync run %s: %v", run.ID, ferr)
	}

	if err != nil {
		if serr := o.deps.Sources.UpdateSyncStatus(ctx, src.ID, models.SyncStatusError, nil, run.ErrorMessage); serr != nil {
			log.Printf("Failed to update sync status: %v", serr)
		}
		o.transition(src, run, StateFailed)
		log.Printf("Calendar sync failed for %s (%s): %v", src.ID, errorKind(err), err)
	} else {
		// StartedAt, not finish time, so long runs do not push the schedule back.
		lastSyncAt := run.StartedAt
		if serr := o.deps.Sources.UpdateSyncStatus(ctx, src.ID, models.SyncStatusSuccess, &lastSyncAt, nil); serr != nil {
			log.Printf("Failed to update sync status: %v", serr)
		}
		o.transition(src, run, StateDone)
		log.Printf("Calendar sync completed for %s: %s, %d events, %d conflicts",
			src.ID, run.Outcome, run.EventsProcessed, len(run.Conflicts))
	}

	metrics.ObserveRun(string(src.Kind), string(run.Outcome), finished.Sub(run.StartedAt))
	metrics.AddConflicts(len(run.Conflicts))

	if o.deps.Notifier != nil {
		o.deps.Notifier.SyncFinished(*src, *run)
	}
}

func (o *Orchestrator) transition(src *models.CalendarSource, run *models.SyncRun, state State) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.SyncStateChanged(src.ID, src.PropertyID, run.ID, string(state))
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, propertyID string) {
	if o.deps.Cache != nil {
		o.deps.Cache.Invalidate(ctx, propertyID)
	}
}

// errorKind names the taxonomy bucket of err for logs.
func errorKind(err error) string {
	var (
		invalid   *InvalidSourceError
		transient *TransientError
		permanent *PermanentError
		parse     *ics.ParseError
		persist   *PersistenceError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid_source"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &permanent):
		return "permanent"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &persist):
		return "persistence"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// propertySlots allows one reconcile+persist per property at a time.
type propertySlots struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newPropertySlots() *propertySlots {
	return &propertySlots{slots: make(map[string]chan struct{})}
}

func (p *propertySlots) acquire(ctx context.Context, propertyID string) (func(), error) {
	p.mu.Lock()
	slot, ok := p.slots[propertyID]
	if !ok {
		slot = make(chan struct{}, 1)
		p.slots[propertyID] = slot
	}
	p.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
