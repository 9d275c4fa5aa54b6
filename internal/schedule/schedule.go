// Package schedule is the schedule engine (SPEC_FULL §4.I): it wraps
// robfig/cron, pinned to the configured timezone, to fire recordings on a
// 5-field cron expression per camera. Grounded on the teacher pack's
// internal/nvr.Scheduler for the background-loop-owned-by-a-Service shape,
// generalized from a fixed daily ticker to per-schedule cron entries.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/camdeck/core/internal/corerr"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/store"
	"github.com/camdeck/core/internal/stream"
)

// Engine owns the cron scheduler and the schedule-ID -> cron-entry mapping.
type Engine struct {
	log         *zap.Logger
	store       *store.Store
	rec         *recording.Manager
	loc         *time.Location
	parser      cron.Parser
	soapTimeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[int64]cron.EntryID
	started bool
}

// New builds an Engine pinned to tz (SPEC_FULL default Asia/Tokyo, via
// internal/config.ScheduleTZ). soapTimeout (config.Config.SOAPTimeout)
// bounds resolving an ONVIF camera's source URL when a tick fires.
func New(st *store.Store, rec *recording.Manager, tz string, soapTimeout time.Duration, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, corerr.New(corerr.InvalidInput, "schedule.New", fmt.Errorf("loading timezone %q: %w", tz, err))
	}
	return &Engine{
		log:         log,
		store:       st,
		rec:         rec,
		loc:         loc,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		soapTimeout: soapTimeout,
		entries:     make(map[int64]cron.EntryID),
	}, nil
}

// Start loads every enabled schedule from the store and registers it, then
// starts the underlying cron scheduler (SPEC_FULL §4.I). A second call
// while started is a no-op; use Reload after Start to pick up store
// mutations.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	e.cron = cron.New(cron.WithLocation(e.loc), cron.WithParser(e.parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger)))

	scheds, err := e.store.Schedules.ListEnabled(ctx)
	if err != nil {
		return corerr.New(corerr.Internal, "schedule.Start", err)
	}
	for _, s := range scheds {
		if err := e.registerLocked(s); err != nil {
			e.log.Warn("schedule: failed to register schedule on start",
				zap.Int64("schedule_id", s.ID), zap.Error(err))
		}
	}

	e.cron.Start()
	e.started = true
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight fire callback to
// return.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.cron
	e.started = false
	e.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
	}
}

// registerLocked adds a cron entry for s and records its next run time.
// Callers must hold e.mu.
func (e *Engine) registerLocked(s *store.Schedule) error {
	sched, err := e.parser.Parse(s.CronExpr)
	if err != nil {
		return corerr.New(corerr.InvalidInput, "schedule.registerLocked", fmt.Errorf("parsing cron expr %q: %w", s.CronExpr, err))
	}

	scheduleID := s.ID
	entryID := e.cron.Schedule(sched, cron.FuncJob(func() { e.fire(scheduleID) }))
	e.entries[scheduleID] = entryID

	next := sched.Next(time.Now().In(e.loc))
	if err := e.store.Schedules.SetNextRun(context.Background(), scheduleID, next); err != nil {
		e.log.Warn("schedule: failed to write back next_run_at", zap.Int64("schedule_id", scheduleID), zap.Error(err))
	}
	return nil
}

// fire is the cron callback. It re-resolves the schedule and its camera
// against the store immediately before calling the recording manager, so a
// tick racing a concurrent schedule/camera delete is dropped rather than
// acted on against stale data (SPEC_FULL "Open questions": dropped-tick
// resolution). A camera already recording also drops the tick rather than
// erroring, since a double-booked schedule is not an operator mistake worth
// surfacing as a failure.
func (e *Engine) fire(scheduleID int64) {
	ctx := context.Background()

	s, err := e.store.Schedules.GetByID(ctx, scheduleID)
	if err != nil || !s.Enabled {
		e.log.Info("schedule: dropping tick for deleted or disabled schedule", zap.Int64("schedule_id", scheduleID))
		return
	}

	cam, err := e.store.Cameras.GetByID(ctx, s.CameraID)
	if err != nil {
		e.log.Info("schedule: dropping tick, camera no longer exists",
			zap.Int64("schedule_id", scheduleID), zap.Int64("camera_id", s.CameraID))
		return
	}

	if e.rec.IsRecording(cam.ID) {
		e.log.Info("schedule: dropping tick, camera already recording",
			zap.Int64("schedule_id", scheduleID), zap.Int64("camera_id", cam.ID))
		return
	}

	sourceURL, err := stream.ResolveSourceURL(ctx, cam, e.soapTimeout)
	if err != nil {
		e.log.Warn("schedule: failed to resolve source url",
			zap.Int64("schedule_id", scheduleID), zap.Int64("camera_id", cam.ID), zap.Error(err))
		return
	}

	opts := recording.StartOptions{FPSOverride: s.FPSOverride}
	if s.DurationMinutes > 0 {
		opts.Duration = time.Duration(s.DurationMinutes) * time.Minute
	}

	if err := e.rec.Start(ctx, cam.ID, sourceURL, cam.FPS, opts); err != nil {
		e.log.Warn("schedule: scheduled recording failed to start",
			zap.Int64("schedule_id", scheduleID), zap.Int64("camera_id", cam.ID), zap.Error(err))
	}

	e.mu.Lock()
	entryID, ok := e.entries[scheduleID]
	e.mu.Unlock()
	if ok {
		e.writeNextRun(scheduleID, entryID)
	}
}

func (e *Engine) writeNextRun(scheduleID int64, entryID cron.EntryID) {
	e.mu.Lock()
	c := e.cron
	e.mu.Unlock()
	if c == nil {
		return
	}
	next := c.Entry(entryID).Next
	if err := e.store.Schedules.SetNextRun(context.Background(), scheduleID, next); err != nil {
		e.log.Warn("schedule: failed to write back next_run_at after fire", zap.Int64("schedule_id", scheduleID), zap.Error(err))
	}
}

// Reload tears down every registered cron entry and re-registers from the
// store's current enabled schedules. Every schedule mutation (create,
// update, delete, enable/disable) calls this rather than patching a single
// entry, keeping the entries map trivially consistent with the store
// (SPEC_FULL §4.I).
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron == nil {
		return nil
	}

	for _, entryID := range e.entries {
		e.cron.Remove(entryID)
	}
	e.entries = make(map[int64]cron.EntryID)

	scheds, err := e.store.Schedules.ListEnabled(ctx)
	if err != nil {
		return corerr.New(corerr.Internal, "schedule.Reload", err)
	}
	for _, s := range scheds {
		if err := e.registerLocked(s); err != nil {
			e.log.Warn("schedule: failed to register schedule on reload",
				zap.Int64("schedule_id", s.ID), zap.Error(err))
		}
	}
	return nil
}

// Create inserts s and reloads the engine so the new schedule takes effect
// immediately.
func (e *Engine) Create(ctx context.Context, s *store.Schedule) error {
	if _, err := e.parser.Parse(s.CronExpr); err != nil {
		return corerr.New(corerr.InvalidInput, "schedule.Create", fmt.Errorf("parsing cron expr %q: %w", s.CronExpr, err))
	}
	if err := e.store.Schedules.Create(ctx, s); err != nil {
		return corerr.New(corerr.Internal, "schedule.Create", err)
	}
	if err := e.Reload(ctx); err != nil {
		return err
	}
	// Reload wrote next_run_at to the row; hand the stored row back.
	if got, err := e.store.Schedules.GetByID(ctx, s.ID); err == nil {
		*s = *got
	}
	return nil
}

// Update replaces s's fields in the store and reloads the engine.
func (e *Engine) Update(ctx context.Context, s *store.Schedule) error {
	if _, err := e.parser.Parse(s.CronExpr); err != nil {
		return corerr.New(corerr.InvalidInput, "schedule.Update", fmt.Errorf("parsing cron expr %q: %w", s.CronExpr, err))
	}
	if err := e.store.Schedules.Update(ctx, s); err != nil {
		if err == store.ErrNotFound {
			return corerr.New(corerr.NotFound, "schedule.Update", err)
		}
		return corerr.New(corerr.Internal, "schedule.Update", err)
	}
	return e.Reload(ctx)
}

// Toggle flips a schedule's enabled flag and reloads the engine.
func (e *Engine) Toggle(ctx context.Context, scheduleID int64, enabled bool) error {
	if err := e.store.Schedules.SetEnabled(ctx, scheduleID, enabled); err != nil {
		if err == store.ErrNotFound {
			return corerr.New(corerr.NotFound, "schedule.Toggle", err)
		}
		return corerr.New(corerr.Internal, "schedule.Toggle", err)
	}
	return e.Reload(ctx)
}

// Delete removes a schedule and reloads the engine.
func (e *Engine) Delete(ctx context.Context, scheduleID int64) error {
	if err := e.store.Schedules.Delete(ctx, scheduleID); err != nil {
		if err == store.ErrNotFound {
			return corerr.New(corerr.NotFound, "schedule.Delete", err)
		}
		return corerr.New(corerr.Internal, "schedule.Delete", err)
	}
	return e.Reload(ctx)
}

// List returns every schedule from the store.
func (e *Engine) List(ctx context.Context) ([]*store.Schedule, error) {
	return e.store.Schedules.List(ctx)
}
