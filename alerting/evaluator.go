package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/infra/produce"
	"github.com/fleetpulse/fleet-control/repository"
)

// Notifier is the notify(event) contract. Publish failures never roll back
// the alert state change that produced the event.
type Notifier interface {
	Publish(ctx context.Context, event produce.NotificationEvent) error
}

// MetricSample carries the resource percentages of one heartbeat.
type MetricSample struct {
	CPUPct    float64
	MemoryPct float64
	DiskPct   float64
}

// AlertEvent reports one alert transition produced by an evaluation.
type AlertEvent struct {
	Kind  string
	Alert *entity.Alert
}

// Evaluator maintains per-(server, metric) breach counters and opens,
// escalates and resolves alerts. Counters are persisted so restarts neither
// reset sustain progress nor re-alert.
type Evaluator struct {
	repo   *repository.Repository
	notify Notifier
	cfg    config.MonitorConfig
	log    *infra.LoggerClient
	now    func() time.Time
}

func NewEvaluator(repo *repository.Repository, notify Notifier, cfg config.MonitorConfig, logger *infra.LoggerClient) *Evaluator {
	return &Evaluator{repo: repo, notify: notify, cfg: cfg, log: logger, now: time.Now}
}

// Evaluate runs the configured thresholds against one heartbeat. A failure on
// one metric kind is logged and skipped so the rest still evaluate.
func (e *Evaluator) Evaluate(ctx context.Context, serverID uuid.UUID, sample MetricSample) ([]AlertEvent, error) {
	var events []AlertEvent

	// A heartbeat proves the server is back; close any open offline alert.
	if ev, err := e.resolveActive(ctx, serverID, entity.AlertTypeOffline, 0); err != nil {
		e.log.ErrorWithContextf(ctx, err, "[Alerting] Failed to resolve offline alert for server %s: %v", serverID, err)
	} else if ev != nil {
		events = append(events, *ev)
	}

	for kind, value := range map[string]float64{
		entity.AlertTypeCPU:    sample.CPUPct,
		entity.AlertTypeMemory: sample.MemoryPct,
		entity.AlertTypeDisk:   sample.DiskPct,
	} {
		ev, err := e.evalKind(ctx, serverID, kind, value)
		if err != nil {
			e.log.ErrorWithContextf(ctx, err, "[Alerting] Evaluation failed for server %s metric %s: %v", serverID, kind, err)
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	return events, nil
}

func (e *Evaluator) evalKind(ctx context.Context, serverID uuid.UUID, kind string, value float64) (*AlertEvent, error) {
	tcfg, ok := e.cfg.Thresholds[kind]
	if !ok {
		return nil, nil
	}

	state, err := e.repo.BreachRepo.Find(serverID, kind)
	if err != nil {
		return nil, fmt.Errorf("load breach state: %w", err)
	}

	if value < tcfg.HighPercent {
		// Recovered. Reset counters and resolve the alert if one is active.
		var ev *AlertEvent
		if state.Level != entity.BreachLevelNone {
			ev, err = e.resolveActive(ctx, serverID, kind, value)
			if err != nil {
				return nil, err
			}
		}
		state.ConsecutiveHigh = 0
		state.ConsecutiveCritical = 0
		state.Level = entity.BreachLevelNone
		if err := e.repo.BreachRepo.Save(state); err != nil {
			return nil, fmt.Errorf("save breach state: %w", err)
		}
		return ev, nil
	}

	if value >= tcfg.CriticalPercent {
		// A critical breach also counts toward the high level.
		state.ConsecutiveCritical++
		state.ConsecutiveHigh++
	} else {
		state.ConsecutiveHigh++
		state.ConsecutiveCritical = 0
	}

	target := entity.BreachLevelNone
	switch {
	case tcfg.CriticalSustain > 0 && state.ConsecutiveCritical >= tcfg.CriticalSustain:
		target = entity.BreachLevelCritical
	case tcfg.HighSustain > 0 && state.ConsecutiveHigh >= tcfg.HighSustain:
		target = entity.BreachLevelHigh
	}

	var ev *AlertEvent
	switch {
	case target == entity.BreachLevelNone:
		// Still accumulating toward the sustain requirement.

	case state.Level == entity.BreachLevelNone:
		alert, err := e.openAlert(ctx, serverID, kind, value, target, tcfg)
		if err != nil {
			return nil, err
		}
		ev = &AlertEvent{Kind: produce.EventAlertOpened, Alert: alert}
		state.Level = target

	case target == entity.BreachLevelCritical && state.Level == entity.BreachLevelHigh:
		alert, err := e.escalateAlert(ctx, serverID, kind, value, tcfg)
		if err != nil {
			return nil, err
		}
		ev = &AlertEvent{Kind: produce.EventAlertEscalated, Alert: alert}
		state.Level = entity.BreachLevelCritical

	default:
		// Same active level: refresh the observed value, no notification.
		if err := e.refreshAlert(serverID, kind, value); err != nil {
			return nil, err
		}
	}

	if err := e.repo.BreachRepo.Save(state); err != nil {
		return nil, fmt.Errorf("save breach state: %w", err)
	}
	return ev, nil
}

func (e *Evaluator) openAlert(ctx context.Context, serverID uuid.UUID, kind string, value float64, level entity.BreachLevel, tcfg config.ThresholdConfig) (*entity.Alert, error) {
	severity := severityFor(level)
	threshold := tcfg.HighPercent
	if level == entity.BreachLevelCritical {
		threshold = tcfg.CriticalPercent
	}
	now := e.now().UTC()

	alert, err := e.repo.AlertRepo.FindActive(serverID, kind)
	switch {
	case err == gorm.ErrRecordNotFound:
		alert = &entity.Alert{
			ID:             uuid.New(),
			ServerID:       serverID,
			Type:           kind,
			Severity:       severity,
			Status:         entity.AlertStatusOpen,
			Message:        alertMessage(kind, value, threshold),
			MetricValue:    value,
			ThresholdValue: threshold,
			Details:        datatypes.JSONMap{"metric": kind},
		}
		if err := e.repo.AlertRepo.Create(alert); err != nil {
			return nil, fmt.Errorf("create alert: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find active alert: %w", err)
	default:
		// An active alert survived a restart or a counter reset; update it
		// in place instead of opening a second one.
		alert.Severity = severity
		alert.MetricValue = value
		alert.ThresholdValue = threshold
		alert.Message = alertMessage(kind, value, threshold)
		if err := e.repo.AlertRepo.Save(alert); err != nil {
			return nil, fmt.Errorf("update alert: %w", err)
		}
	}

	e.sendNotification(ctx, produce.EventAlertOpened, alert, now)
	return alert, nil
}

func (e *Evaluator) escalateAlert(ctx context.Context, serverID uuid.UUID, kind string, value float64, tcfg config.ThresholdConfig) (*entity.Alert, error) {
	alert, err := e.repo.AlertRepo.FindActive(serverID, kind)
	if err == gorm.ErrRecordNotFound {
		// The high-level alert disappeared (e.g. resolved by an operator);
		// reopen at critical rather than failing the evaluation.
		return e.openAlert(ctx, serverID, kind, value, entity.BreachLevelCritical, tcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}

	alert.Severity = entity.AlertSeverityCritical
	alert.MetricValue = value
	alert.ThresholdValue = tcfg.CriticalPercent
	alert.Message = alertMessage(kind, value, tcfg.CriticalPercent)
	if err := e.repo.AlertRepo.Save(alert); err != nil {
		return nil, fmt.Errorf("escalate alert: %w", err)
	}

	e.sendNotification(ctx, produce.EventAlertEscalated, alert, e.now().UTC())
	return alert, nil
}

func (e *Evaluator) refreshAlert(serverID uuid.UUID, kind string, value float64) error {
	alert, err := e.repo.AlertRepo.FindActive(serverID, kind)
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find active alert: %w", err)
	}
	alert.MetricValue = value
	return e.repo.AlertRepo.Save(alert)
}

func (e *Evaluator) resolveActive(ctx context.Context, serverID uuid.UUID, kind string, value float64) (*AlertEvent, error) {
	alert, err := e.repo.AlertRepo.FindActive(serverID, kind)
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}

	now := e.now().UTC()
	if _, err := e.repo.AlertRepo.Resolve(alert.ID, now); err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	alert.Status = entity.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.MetricValue = value

	// Recovery news bypasses the cooldown; it is recorded without a severity
	// so it never extends the raise-side window.
	e.record(ctx, produce.EventAlertResolved, alert, "", now)
	return &AlertEvent{Kind: produce.EventAlertResolved, Alert: alert}, nil
}

// SweepOffline marks servers whose last heartbeat is older than the offline
// threshold and raises their offline alerts. Runs from the scheduler since no
// heartbeat exists to trigger it. One bad server never halts the sweep.
func (e *Evaluator) SweepOffline(ctx context.Context) error {
	now := e.now().UTC()
	cutoff := now.Add(-e.cfg.OfflineThreshold())

	servers, err := e.repo.ServerRepo.FindStale(cutoff)
	if err != nil {
		return fmt.Errorf("find stale servers: %w", err)
	}

	for _, server := range servers {
		if err := e.markOffline(ctx, server, now); err != nil {
			e.log.ErrorWithContextf(ctx, err, "[Alerting] Offline sweep failed for server %s: %v", server.ID, err)
		}
	}
	return nil
}

func (e *Evaluator) markOffline(ctx context.Context, server entity.Server, now time.Time) error {
	if err := e.repo.ServerRepo.SetStatus(server.ID, entity.ServerStatusOffline); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}

	unseen := now.Sub(server.LastSeen).Seconds()
	alert, err := e.repo.AlertRepo.FindActive(server.ID, entity.AlertTypeOffline)
	switch {
	case err == gorm.ErrRecordNotFound:
		alert = &entity.Alert{
			ID:             uuid.New(),
			ServerID:       server.ID,
			Type:           entity.AlertTypeOffline,
			Severity:       entity.AlertSeverityCritical,
			Status:         entity.AlertStatusOpen,
			Message:        fmt.Sprintf("server %s offline, no heartbeat for %.0fs", server.Hostname, unseen),
			MetricValue:    unseen,
			ThresholdValue: float64(e.cfg.ServerOfflineSeconds),
			Details:        datatypes.JSONMap{"hostname": server.Hostname},
		}
		if err := e.repo.AlertRepo.Create(alert); err != nil {
			return fmt.Errorf("create offline alert: %w", err)
		}
		e.sendNotification(ctx, produce.EventAlertOpened, alert, now)
	case err != nil:
		return fmt.Errorf("find offline alert: %w", err)
	default:
		alert.MetricValue = unseen
		if err := e.repo.AlertRepo.Save(alert); err != nil {
			return fmt.Errorf("update offline alert: %w", err)
		}
	}
	return nil
}

// sendNotification publishes a cooldown-gated event and records the outcome.
// The alert state change already happened; a failure here is only logged.
func (e *Evaluator) sendNotification(ctx context.Context, kind string, alert *entity.Alert, now time.Time) {
	last, err := e.repo.NotificationRepo.LastSentAt(alert.ServerID, alert.Severity)
	if err != nil {
		e.log.ErrorWithContextf(ctx, err, "[Alerting] Cooldown lookup failed for server %s: %v", alert.ServerID, err)
		return
	}
	if last != nil && now.Sub(*last) < e.cfg.Cooldown(alert.Severity) {
		return
	}
	e.record(ctx, kind, alert, alert.Severity, now)
}

func (e *Evaluator) record(ctx context.Context, kind string, alert *entity.Alert, severity entity.AlertSeverity, now time.Time) {
	event := produce.NotificationEvent{
		Kind:     kind,
		ServerID: alert.ServerID.String(),
		Severity: string(severity),
		Payload: map[string]interface{}{
			"alert_id":     alert.ID.String(),
			"type":         alert.Type,
			"message":      alert.Message,
			"metric_value": alert.MetricValue,
			"threshold":    alert.ThresholdValue,
		},
		Timestamp: now.Unix(),
	}

	attempts := 0
	var pubErr error
	for attempts < 3 {
		attempts++
		pubErr = e.notify.Publish(ctx, event)
		if pubErr == nil {
			break
		}
	}

	row := &entity.NotificationEvent{
		ID:       uuid.New(),
		ServerID: alert.ServerID,
		AlertID:  &alert.ID,
		Kind:     kind,
		Severity: severity,
		Channel:  "amqp",
		Attempts: attempts,
	}
	if pubErr == nil {
		row.Status = "sent"
		row.SentAt = &now
	} else {
		row.Status = "failed"
		row.Error = pubErr.Error()
		e.log.WarningWithContextf(ctx, "[Alerting] notify failed for alert %s: %v", alert.ID, pubErr)
	}
	if err := e.repo.NotificationRepo.Insert(row); err != nil {
		e.log.ErrorWithContextf(ctx, err, "[Alerting] Failed to record notification event: %v", err)
	}
}

func severityFor(level entity.BreachLevel) entity.AlertSeverity {
	if level == entity.BreachLevelCritical {
		return entity.AlertSeverityCritical
	}
	return entity.AlertSeverityHigh
}

func alertMessage(kind string, value, threshold float64) string {
	return fmt.Sprintf("%s at %.1f%% (threshold %.1f%%)", kind, value, threshold)
}
