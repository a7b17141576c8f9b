// Package registry owns the lifecycle of slot runs: idempotent
// creation, stale-run reconciliation and the manual-trigger guard.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
)

// ErrRunInProgress is returned by CheckManualAllowed while another run
// is still executing.
var ErrRunInProgress = eris.New("registry: a run is already in progress")


// Registry coordinates run records for (date, slot) pairs.
type Registry struct {
	store        store.Store
	staleTimeout time.Duration
	now          func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleTimeout overrides how long a run may stay in the running
// state before reconciliation fails it.
func WithStaleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.staleTimeout = d
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry with a 30 minute stale timeout by default.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:        st,
		staleTimeout: 30 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreateRun returns the run for (date, slot), creating it in the
// running state when absent. The boolean reports whether this call
// created the run; callers that did not create it must not execute the
// slot again. Losing an insert race behaves exactly like finding the
// run already present.
func (r *Registry) GetOrCreateRun(ctx context.Context, date, slot string, windowStart, windowEnd time.Time) (*model.Run, bool, error) {
	existing, err := r.store.GetRun(ctx, date, slot)
	if err != nil {
		return nil, false, eris.Wrap(err, "registry: get run")
	}
	if existing != nil {
		return existing, false, nil
	}

	run := &model.Run{
		Date:        date,
		Slot:        slot,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      model.RunStatusRunning,
		StartedAt:   r.now().UTC(),
	}
	created, err := r.store.CreateRun(ctx, run)
	if err != nil {
		return nil, false, eris.Wrap(err, "registry: create run")
	}
	if created {
		zap.L().Info("run created",
			zap.String("run_id", run.ID),
			zap.String("date", date),
			zap.String("slot", slot))
		return run, true, nil
	}

	// Lost the race; the winner's row is now visible.
	existing, err = r.store.GetRun(ctx, date, slot)
	if err != nil {
		return nil, false, eris.Wrap(err, "registry: get run after conflict")
	}
	if existing == nil {
		return nil, false, eris.Errorf("registry: run vanished for %s %s", date, slot)
	}
	return existing, false, nil
}

// ReconcileStale fails every run that has been in the running state
// longer than the stale timeout. It runs before each slot so crashed
// runs cannot block the schedule forever.
func (r *Registry) ReconcileStale(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.staleTimeout)
	n, err := r.store.FailStaleRuns(ctx, cutoff, fmt.Sprintf("timed out after %s", r.staleTimeout))
	if err != nil {
		return 0, eris.Wrap(err, "registry: reconcile stale runs")
	}
	if n > 0 {
		zap.L().Warn("failed stale runs",
			zap.Int("count", n),
			zap.Duration("stale_timeout", r.staleTimeout))
	}
	return n, nil
}

// CheckManualAllowed rejects a manual trigger while any run is still
// executing. Stale runs are reconciled first so an abandoned run does
// not permanently block manual triggers.
func (r *Registry) CheckManualAllowed(ctx context.Context) error {
	if _, err := r.ReconcileStale(ctx); err != nil {
		return err
	}
	count, err := r.store.CountRunningRuns(ctx)
	if err != nil {
		return eris.Wrap(err, "registry: count running runs")
	}
	if count > 0 {
		return ErrRunInProgress
	}
	return nil
}
