package worker

import (
	"context"
	"time"

	"github.com/fleetpulse/fleet-control/alerting"
	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/retention"
)

// staleCheckInterval is how often stuck actions are surfaced in the logs.
// They are reported, never auto-failed.
const staleCheckInterval = 5 * time.Minute

// Runner drives the periodic jobs: tiered rollups, daily prune, the offline
// sweep and the stale action report. Each job runs on its own ticker and a
// failed tick only logs; the next tick retries wholesale.
type Runner struct {
	infra     *infra.Infra
	evaluator *alerting.Evaluator
	orch      *remediation.Orchestrator
	retention *retention.Service
	cfg       config.MonitorConfig
}

func NewRunner(infra *infra.Infra, evaluator *alerting.Evaluator, orch *remediation.Orchestrator, ret *retention.Service, cfg config.MonitorConfig) *Runner {
	return &Runner{
		infra:     infra,
		evaluator: evaluator,
		orch:      orch,
		retention: ret,
		cfg:       cfg,
	}
}

// Start launches one goroutine per job and returns. The goroutines exit when
// ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx, "rollup", r.cfg.RollupInterval, r.runRollups)
	go r.loop(ctx, "prune", r.cfg.PruneInterval, r.runPrune)
	go r.loop(ctx, "offline-sweep", r.cfg.SweepInterval, r.runOfflineSweep)
	go r.loop(ctx, "stale-actions", staleCheckInterval, r.runStaleReport)
}

// loop runs the job once immediately, then on every tick.
func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	if err := job(ctx); err != nil {
		r.infra.Logger.ErrorWithContextf(ctx, err, "[Scheduler] Job %s failed", name)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.infra.Logger.InfoWithContextf(ctx, "[Scheduler] Job %s stopped", name)
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				r.infra.Logger.ErrorWithContextf(ctx, err, "[Scheduler] Job %s failed", name)
			}
		}
	}
}

func (r *Runner) runRollups(ctx context.Context) error {
	created, deleted, err := r.retention.RollupRawToHourly(ctx)
	if err != nil {
		return err
	}
	if created > 0 || deleted > 0 {
		r.infra.Logger.InfoWithContextf(ctx, "[Scheduler] Hourly rollup: buckets=%d raw_deleted=%d", created, deleted)
	}

	created, deleted, err = r.retention.RollupHourlyToDaily(ctx)
	if err != nil {
		return err
	}
	if created > 0 || deleted > 0 {
		r.infra.Logger.InfoWithContextf(ctx, "[Scheduler] Daily rollup: buckets=%d hourly_deleted=%d", created, deleted)
	}
	return nil
}

func (r *Runner) runPrune(ctx context.Context) error {
	deleted, err := r.retention.PruneDaily(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		r.infra.Logger.InfoWithContextf(ctx, "[Scheduler] Daily prune: deleted=%d", deleted)
	}
	return nil
}

func (r *Runner) runOfflineSweep(ctx context.Context) error {
	return r.evaluator.SweepOffline(ctx)
}

func (r *Runner) runStaleReport(ctx context.Context) error {
	stale, err := r.orch.StaleActions(ctx)
	if err != nil {
		return err
	}
	for _, action := range stale {
		r.infra.Logger.WarningWithContextf(ctx, "[Scheduler] Stale action: id=%s server=%s type=%s status=%s updated_at=%s",
			action.ID, action.ServerID, action.ActionType, action.Status, action.UpdatedAt)
	}
	return nil
}
