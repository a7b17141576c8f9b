// Package orchestrator executes one slot of the radar pipeline:
// ingest, classify, alert and, on the day's last slot, the digest.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fundradar/radar/internal/classify"
	"github.com/fundradar/radar/internal/digest"
	"github.com/fundradar/radar/internal/ingest"
	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/notify"
	"github.com/fundradar/radar/internal/registry"
	"github.com/fundradar/radar/internal/store"
)

// Result reports what a trigger did. Executed is false when the slot's
// run already existed and nothing was re-run.
type Result struct {
	Run      *model.Run
	Executed bool
}

// Orchestrator wires the pipeline phases together.
type Orchestrator struct {
	store      store.Store
	registry   *registry.Registry
	ingestor   *ingest.Ingestor
	classifier *classify.Classifier
	notifier   *notify.Notifier
	digester   *digest.Generator
	workers    int
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the classification worker count.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator with two classification workers.
func New(st store.Store, reg *registry.Registry, in *ingest.Ingestor, cl *classify.Classifier, nt *notify.Notifier, dg *digest.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		registry:   reg,
		ingestor:   in,
		classifier: cl,
		notifier:   nt,
		digester:   dg,
		workers:    2,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteSlot runs the pipeline for slot on today's date. Manual
// triggers are rejected while another run is executing; scheduled
// triggers only reconcile stale runs first. A slot whose run already
// succeeded is a no-op returning the existing run; a run left in the
// running or failed state is taken over and executed again, so a
// crashed last slot still gets its digest on the next trigger.
func (o *Orchestrator) ExecuteSlot(ctx context.Context, slot string, manual bool) (*Result, error) {
	if manual {
		if err := o.registry.CheckManualAllowed(ctx); err != nil {
			return nil, err
		}
	} else if _, err := o.registry.ReconcileStale(ctx); err != nil {
		return nil, err
	}

	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load settings")
	}

	// The active prompt version carries its own alert threshold; when
	// set it wins over the settings default for this run.
	prompt, err := o.store.GetActivePromptConfig(ctx, model.PromptAnalyzer)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load prompt config")
	}
	if prompt != nil && prompt.Threshold > 0 {
		settings.ScoreThreshold = prompt.Threshold
	}

	now := o.now().UTC()
	date := model.DateOf(now)
	windowStart := now.AddDate(0, 0, -settings.WindowDays)

	run, created, err := o.registry.GetOrCreateRun(ctx, date, slot, windowStart, now)
	if err != nil {
		return nil, err
	}
	if !created {
		if run.Status == model.RunStatusSucceeded {
			zap.L().Info("slot already succeeded",
				zap.String("date", date),
				zap.String("slot", slot))
			return &Result{Run: run}, nil
		}
		zap.L().Warn("re-executing unfinished run",
			zap.String("run_id", run.ID),
			zap.String("date", date),
			zap.String("slot", slot),
			zap.String("status", string(run.Status)))
		if err := o.store.RestartRun(ctx, run.ID); err != nil {
			return nil, eris.Wrap(err, "orchestrator: restart run")
		}
		run.Status = model.RunStatusRunning
		run.Error = ""
	}

	stats, runErr := o.execute(ctx, run, settings, manual)
	status := model.RunStatusSucceeded
	errText := ""
	if runErr != nil {
		status = model.RunStatusFailed
		errText = runErr.Error()
	}
	if err := o.store.FinishRun(ctx, run.ID, status, stats, errText); err != nil {
		zap.L().Error("finish run", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = status
	run.Stats = stats
	run.Error = errText

	if runErr != nil {
		return &Result{Run: run, Executed: true}, eris.Wrapf(runErr, "orchestrator: run %s failed", run.ID)
	}
	zap.L().Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("slot", slot),
		zap.Int("items_new", stats.ItemsNew),
		zap.Int("items_analyzed", stats.ItemsAnalyzed),
		zap.Int("alerts_pushed", stats.AlertsPushed),
		zap.Bool("digest_sent", stats.DigestSent))
	return &Result{Run: run, Executed: true}, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *model.Run, settings model.Settings, manual bool) (model.RunStats, error) {
	var stats model.RunStats

	ingestStats, err := o.ingestor.Ingest(ctx, run.WindowStart, run.WindowEnd)
	stats.ItemsFetched = ingestStats.Fetched
	stats.ItemsNew = ingestStats.New
	stats.ItemsSkipped = ingestStats.Duplicates + ingestStats.Dropped
	if err != nil {
		return stats, err
	}

	// Items that stay empty after the re-fetch are skipped, never
	// classified from their titles alone.
	_, skipped, err := o.ingestor.RefreshContent(ctx, run.WindowStart)
	if err != nil {
		zap.L().Warn("content refresh incomplete", zap.Error(err))
	}
	stats.ItemsSkipped += skipped

	pending, err := o.store.ListPendingItems(ctx, run.WindowStart)
	if err != nil {
		return stats, err
	}
	o.checkpoint(ctx, run.ID, stats)

	verdicts := o.classifyAll(ctx, run.ID, pending, &stats)
	o.checkpoint(ctx, run.ID, stats)

	if err := o.pushAlerts(ctx, run, settings, verdicts, &stats); err != nil {
		return stats, err
	}

	switch {
	case settings.LastSlotOfDay(run.Slot):
		if err := o.sendDigest(ctx, run, &stats); err != nil {
			return stats, err
		}
	case manual && stats.AlertsPushed == 0:
		// A manual trigger with nothing to show still answers the
		// operator with one summary message.
		if err := o.notifier.SendRunSummary(ctx, run.Date, run.Slot, stats.ItemsAnalyzed, stats.OpportunitiesFound); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// classifyAll fans pending items across the worker pool. A failed item
// is counted and skipped; classification problems never abort the run.
func (o *Orchestrator) classifyAll(ctx context.Context, runID string, items []model.Item, stats *model.RunStats) []*model.Verdict {
	verdicts := make([]*model.Verdict, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range items {
		g.Go(func() error {
			item := items[i]
			verdict, err := o.classifier.Analyze(gctx, &item, runID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.ItemsFailed++
				zap.L().Warn("item analysis failed",
					zap.String("item_id", item.ID),
					zap.Error(err))
				return nil
			}
			verdicts[i] = verdict
			stats.ItemsAnalyzed++
			if verdict.HasOpportunity {
				stats.OpportunitiesFound++
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	out := make([]*model.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (o *Orchestrator) pushAlerts(ctx context.Context, run *model.Run, settings model.Settings, verdicts []*model.Verdict, stats *model.RunStats) error {
	for _, v := range verdicts {
		decision, err := o.notifier.ShouldSendOpportunity(ctx, run.Date, run.Slot, settings, v)
		if err != nil {
			return err
		}
		if !decision.Send {
			zap.L().Debug("alert suppressed",
				zap.String("item_id", v.ItemID),
				zap.String("reason", decision.Reason))
			continue
		}
		opps, err := verdictOpportunities(v)
		if err != nil {
			zap.L().Warn("decode verdict document", zap.String("verdict_id", v.ID), zap.Error(err))
		}
		if err := o.notifier.SendOpportunityAlert(ctx, run.Date, run.Slot, v, opps); err != nil {
			return err
		}
		stats.AlertsPushed++
	}
	return nil
}

func (o *Orchestrator) sendDigest(ctx context.Context, run *model.Run, stats *model.RunStats) error {
	d, err := o.digester.Generate(ctx, run.Date)
	if err != nil {
		return err
	}
	if err := o.notifier.SendDailyReport(ctx, run.Date, run.Slot, d.Markdown); err != nil {
		return err
	}
	stats.DigestSent = true
	return nil
}

// checkpoint persists intermediate stats so the dashboard sees
// progress on long runs. Failures are log-only.
func (o *Orchestrator) checkpoint(ctx context.Context, runID string, stats model.RunStats) {
	if err := o.store.UpdateRunStats(ctx, runID, stats); err != nil {
		zap.L().Warn("update run stats", zap.String("run_id", runID), zap.Error(err))
	}
}

// verdictOpportunities decodes the stored document back into
// opportunity records for rendering.
func verdictOpportunities(v *model.Verdict) ([]model.OpportunityRecord, error) {
	doc, _, err := classify.ParseVerdictDocument(string(v.Document))
	if err != nil {
		return nil, err
	}
	records := make([]model.OpportunityRecord, 0, len(doc.Opportunities))
	for i, opp := range doc.Opportunities {
		records = append(records, model.OpportunityRecord{
			Index:       i,
			Type:        opp.Type,
			Title:       opp.Title,
			Confidence:  opp.Confidence,
			WindowStart: opp.WindowStart,
			WindowEnd:   opp.WindowEnd,
			ActionSteps: opp.ActionSteps,
			Constraints: opp.Constraints,
			SearchHints: opp.SearchHints,
		})
	}
	return records, nil
}
