package remediation

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
	"github.com/fleetpulse/fleet-control/utils"
)

// Notifier is the notify(event) contract shared with the alerting package.
type Notifier interface {
	Publish(ctx context.Context, event produce.NotificationEvent) error
}

// Command is what an agent receives in its heartbeat response. The action ID
// doubles as the command_id the agent reports results against.
type Command struct {
	CommandID  uuid.UUID              `json:"command_id"`
	ActionType entity.ActionType      `json:"action_type"`
	Target     string                 `json:"target"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// CreateInput describes a remediation request, manual or alert-triggered.
type CreateInput struct {
	ServerID   uuid.UUID
	ActionType entity.ActionType
	Target     string
	AlertID    *uuid.UUID
	Parameters datatypes.JSONMap
	Actor      string
}

// validTransitions is the full state machine. Anything not listed fails with
// ErrInvalidTransition; terminal states have no outgoing edges.
var validTransitions = map[entity.ActionStatus][]entity.ActionStatus{
	entity.ActionStatusPending:   {entity.ActionStatusApproved, entity.ActionStatusRejected, entity.ActionStatusCancelled},
	entity.ActionStatusApproved:  {entity.ActionStatusExecuting, entity.ActionStatusCancelled},
	entity.ActionStatusExecuting: {entity.ActionStatusCompleted, entity.ActionStatusFailed},
}

func canTransition(from, to entity.ActionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var allowedActionTypes = map[entity.ActionType]bool{
	entity.ActionTypeRestartService: true,
	entity.ActionTypeClearLogs:      true,
	entity.ActionTypeApplyUpdates:   true,
	entity.ActionTypeCustom:         true,
}

// Orchestrator owns the remediation action state machine. It never builds or
// interprets shell commands; agents do the executing and report back.
type Orchestrator struct {
	repo   *repository.Repository
	notify Notifier
	cfg    config.MonitorConfig
	log    *infra.LoggerClient
	now    func() time.Time
}

func NewOrchestrator(repo *repository.Repository, notify Notifier, cfg config.MonitorConfig, logger *infra.LoggerClient) *Orchestrator {
	return &Orchestrator{repo: repo, notify: notify, cfg: cfg, log: logger, now: time.Now}
}

// Create registers an action. The auto-approve policy may place it directly
// in approved; a live duplicate for the same (server, type, target) is a
// conflict, not a second row.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (*entity.Action, error) {
	if !allowedActionTypes[in.ActionType] {
		return nil, fmt.Errorf("%w: action type %q not allowed", utils.ErrValidation, in.ActionType)
	}
	if in.Target == "" {
		return nil, fmt.Errorf("%w: target is required", utils.ErrValidation)
	}

	if _, err := o.repo.ServerRepo.FindByID(in.ServerID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: server %s", utils.ErrNotFound, in.ServerID)
		}
		return nil, fmt.Errorf("find server: %w", err)
	}

	if existing, err := o.repo.ActionRepo.FindNonTerminal(in.ServerID, in.ActionType, in.Target); err == nil {
		return nil, fmt.Errorf("%w: action %s already %s for this target", utils.ErrConflict, existing.ID, existing.Status)
	} else if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("check duplicate action: %w", err)
	}

	action := &entity.Action{
		ID:         uuid.New(),
		ServerID:   in.ServerID,
		ActionType: in.ActionType,
		Target:     in.Target,
		Status:     entity.ActionStatusPending,
		AlertID:    in.AlertID,
		Parameters: in.Parameters,
		CreatedBy:  in.Actor,
	}
	if o.cfg.AutoApproveActions[in.ActionType] {
		now := o.now().UTC()
		action.Status = entity.ActionStatusApproved
		action.AutoApproved = true
		action.ApprovedAt = &now
	}

	if err := o.repo.ActionRepo.Create(action); err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	o.audit(ctx, action.ID, "", action.Status, in.Actor, "")
	return action, nil
}

// Approve moves a pending action to approved. Valid only from pending.
func (o *Orchestrator) Approve(ctx context.Context, id uuid.UUID, actor string) (*entity.Action, error) {
	now := o.now().UTC()
	return o.transition(ctx, id, entity.ActionStatusApproved, actor, "", map[string]interface{}{
		"status":      entity.ActionStatusApproved,
		"approved_at": now,
	})
}

// Reject terminates a pending action. The pending-era data and the rejection
// reason stay on the row permanently.
func (o *Orchestrator) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*entity.Action, error) {
	action, err := o.transition(ctx, id, entity.ActionStatusRejected, actor, reason, map[string]interface{}{
		"status": entity.ActionStatusRejected,
		"reason": reason,
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, produce.EventActionRejected, action)
	return action, nil
}

// Cancel terminates a pending or approved action. It never interrupts a
// command already executing on the agent; it only prevents future dispatch.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, actor string) (*entity.Action, error) {
	return o.transition(ctx, id, entity.ActionStatusCancelled, actor, "", map[string]interface{}{
		"status": entity.ActionStatusCancelled,
	})
}

// DispatchPending hands all approved actions for a server to its polling
// agent, marking them executing. Each action is delivered exactly once: one
// that never reports back becomes a stale action, it is not re-sent.
func (o *Orchestrator) DispatchPending(ctx context.Context, serverID uuid.UUID) ([]Command, error) {
	actions, err := o.repo.ActionRepo.FindApprovedByServer(serverID)
	if err != nil {
		return nil, fmt.Errorf("find approved actions: %w", err)
	}

	now := o.now().UTC()
	var commands []Command
	for _, action := range actions {
		rows, err := o.repo.ActionRepo.UpdateGuarded(action.ID,
			[]entity.ActionStatus{entity.ActionStatusApproved},
			map[string]interface{}{
				"status":        entity.ActionStatusExecuting,
				"dispatched_at": now,
			})
		if err != nil {
			o.log.ErrorWithContextf(ctx, err, "[Remediation] Dispatch failed for action %s: %v", action.ID, err)
			continue
		}
		if rows == 0 {
			// Lost the race to a concurrent cancel or dispatch.
			continue
		}
		o.audit(ctx, action.ID, entity.ActionStatusApproved, entity.ActionStatusExecuting, "agent", "")
		commands = append(commands, Command{
			CommandID:  action.ID,
			ActionType: action.ActionType,
			Target:     action.Target,
			Parameters: action.Parameters,
		})
	}
	return commands, nil
}

// ReportResult ingests an agent's outcome for a dispatched command. Unknown
// ids fail with NotFound; duplicate reports against a terminal action are
// ignored so agent retries stay harmless.
func (o *Orchestrator) ReportResult(ctx context.Context, commandID uuid.UUID, success bool, output, errMsg string) (*entity.Action, error) {
	action, err := o.repo.ActionRepo.FindByID(commandID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: command %s", utils.ErrNotFound, commandID)
		}
		return nil, fmt.Errorf("find action: %w", err)
	}

	if action.Status.Terminal() {
		o.log.InfoWithContextf(ctx, "[Remediation] Duplicate result for terminal action %s ignored", action.ID)
		return action, nil
	}
	if action.Status != entity.ActionStatusExecuting {
		return nil, fmt.Errorf("%w: result for action %s in status %s", utils.ErrInvalidTransition, action.ID, action.Status)
	}

	to := entity.ActionStatusCompleted
	kind := produce.EventActionCompleted
	if !success {
		to = entity.ActionStatusFailed
		kind = produce.EventActionFailed
	}

	now := o.now().UTC()
	rows, err := o.repo.ActionRepo.UpdateGuarded(action.ID,
		[]entity.ActionStatus{entity.ActionStatusExecuting},
		map[string]interface{}{
			"status":      to,
			"output":      output,
			"error":       errMsg,
			"finished_at": now,
		})
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	if rows == 0 {
		// A concurrent report won; treat this one as the duplicate.
		return o.repo.ActionRepo.FindByID(commandID)
	}

	o.audit(ctx, action.ID, entity.ActionStatusExecuting, to, "agent", errMsg)
	action.Status = to
	action.Output = output
	action.Error = errMsg
	action.FinishedAt = &now
	o.publish(ctx, kind, action)
	return action, nil
}

// StaleActions surfaces approved/executing actions with no progress inside
// the watchdog window. They are left for an operator: auto-failing could mask
// a command still running on a slow agent.
func (o *Orchestrator) StaleActions(ctx context.Context) ([]entity.Action, error) {
	cutoff := o.now().UTC().Add(-o.cfg.StaleActionWindow)
	return o.repo.ActionRepo.FindStale(cutoff)
}

func (o *Orchestrator) transition(ctx context.Context, id uuid.UUID, to entity.ActionStatus, actor, reason string, updates map[string]interface{}) (*entity.Action, error) {
	action, err := o.repo.ActionRepo.FindByID(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: action %s", utils.ErrNotFound, id)
		}
		return nil, fmt.Errorf("find action: %w", err)
	}

	from := action.Status
	if !canTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", utils.ErrInvalidTransition, from, to)
	}

	rows, err := o.repo.ActionRepo.UpdateGuarded(id, []entity.ActionStatus{from}, updates)
	if err != nil {
		return nil, fmt.Errorf("update action: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: action %s changed concurrently", utils.ErrInvalidTransition, id)
	}

	o.audit(ctx, id, from, to, actor, reason)
	return o.repo.ActionRepo.FindByID(id)
}

func (o *Orchestrator) audit(ctx context.Context, actionID uuid.UUID, from, to entity.ActionStatus, actor, reason string) {
	record := &entity.ActionAudit{
		ID:         uuid.New(),
		ActionID:   actionID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
	}
	if err := o.repo.AuditRepo.Insert(record); err != nil {
		o.log.ErrorWithContextf(ctx, err, "[Remediation] Failed to write audit record for action %s: %v", actionID, err)
	}
}

// publish is fire-and-forget with bounded retry; a notify failure never rolls
// back the action transition it announces.
func (o *Orchestrator) publish(ctx context.Context, kind string, action *entity.Action) {
	event := produce.NotificationEvent{
		Kind:     kind,
		ServerID: action.ServerID.String(),
		Payload: map[string]interface{}{
			"action_id":   action.ID.String(),
			"action_type": string(action.ActionType),
			"target":      action.Target,
			"status":      string(action.Status),
			"output":      action.Output,
			"error":       action.Error,
			"reason":      action.Reason,
		},
		Timestamp: o.now().Unix(),
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = o.notify.Publish(ctx, event); err == nil {
			return
		}
	}
	o.log.WarningWithContextf(ctx, "[Remediation] notify failed for action %s: %v", action.ID, err)
}
