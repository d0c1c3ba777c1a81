package controller

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/http/controller/dto"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/utils"
)

func (ctrl *Controller) CreateAction(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateActionRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Action] Failed to bind CreateAction request: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	serverID, err := uuid.Parse(req.ServerID)
	if err != nil {
		utils.JSON400(c, "Invalid server_id format")
		return
	}

	actor, err := utils.GetUserIDFromContext(c)
	if err != nil {
		utils.JSON401(c, "Unauthorized: user_id not found")
		return
	}

	in := remediation.CreateInput{
		ServerID:   serverID,
		ActionType: entity.ActionType(req.ActionType),
		Target:     req.Target,
		Parameters: req.Parameters,
		Actor:      actor.String(),
	}
	if req.AlertID != "" {
		alertID, err := uuid.Parse(req.AlertID)
		if err != nil {
			utils.JSON400(c, "Invalid alert_id format")
			return
		}
		in.AlertID = &alertID
	}

	action, err := ctrl.Orchestrator.Create(ctx, in)
	if err != nil {
		if !errors.Is(err, utils.ErrValidation) && !errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrConflict) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Action] Create failed: server=%s type=%s", serverID, req.ActionType)
		}
		respondDomainError(c, err)
		return
	}

	utils.JSON201(c, action)
}

func (ctrl *Controller) ApproveAction(c *gin.Context) {
	ctrl.decideAction(c, func(ctx *gin.Context, id uuid.UUID, actor string) (*entity.Action, error) {
		return ctrl.Orchestrator.Approve(ctx.Request.Context(), id, actor)
	})
}

func (ctrl *Controller) RejectAction(c *gin.Context) {
	var req dto.RejectActionRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSON400(c, "Rejection reason is required")
		return
	}
	ctrl.decideAction(c, func(ctx *gin.Context, id uuid.UUID, actor string) (*entity.Action, error) {
		return ctrl.Orchestrator.Reject(ctx.Request.Context(), id, actor, req.Reason)
	})
}

func (ctrl *Controller) CancelAction(c *gin.Context) {
	ctrl.decideAction(c, func(ctx *gin.Context, id uuid.UUID, actor string) (*entity.Action, error) {
		return ctrl.Orchestrator.Cancel(ctx.Request.Context(), id, actor)
	})
}

func (ctrl *Controller) decideAction(c *gin.Context, apply func(*gin.Context, uuid.UUID, string) (*entity.Action, error)) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid action id format")
		return
	}

	actor, err := utils.GetUserIDFromContext(c)
	if err != nil {
		utils.JSON401(c, "Unauthorized: user_id not found")
		return
	}

	action, err := apply(c, id, actor.String())
	if err != nil {
		if !errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrInvalidTransition) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Action] Transition failed: id=%s", id)
		}
		respondDomainError(c, err)
		return
	}

	utils.JSON200(c, action)
}

func (ctrl *Controller) ListActions(c *gin.Context) {
	ctx := c.Request.Context()

	var serverID *uuid.UUID
	if raw := c.Query("server_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.JSON400(c, "Invalid server_id format")
			return
		}
		serverID = &id
	}

	var status *entity.ActionStatus
	if raw := c.Query("status"); raw != "" {
		s := entity.ActionStatus(raw)
		switch s {
		case entity.ActionStatusPending, entity.ActionStatusApproved, entity.ActionStatusExecuting,
			entity.ActionStatusCompleted, entity.ActionStatusFailed, entity.ActionStatusRejected,
			entity.ActionStatusCancelled:
			status = &s
		default:
			utils.JSON400(c, "Unknown action status: "+raw)
			return
		}
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			utils.JSON400(c, "Invalid limit")
			return
		}
		limit = n
	}

	actions, err := ctrl.Repository.ActionRepo.List(serverID, status, limit)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Action] Failed to list actions")
		utils.JSON500(c, "Failed to list actions")
		return
	}

	utils.JSON200(c, gin.H{"actions": actions})
}

func (ctrl *Controller) GetActionByID(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid action id format")
		return
	}

	action, err := ctrl.Repository.ActionRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Action not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Action] Failed to load action: id=%s", id)
		utils.JSON500(c, "Failed to load action")
		return
	}

	audits, err := ctrl.Repository.AuditRepo.ListByAction(id)
	if err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Action] Failed to load audit trail: id=%s err=%v", id, err)
	}

	utils.JSON200(c, gin.H{"action": action, "audit": audits})
}

// ListStaleActions surfaces dispatched actions that never reported a result.
// They are shown, never auto-failed; the remote command may still be running.
func (ctrl *Controller) ListStaleActions(c *gin.Context) {
	ctx := c.Request.Context()

	actions, err := ctrl.Orchestrator.StaleActions(ctx)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Action] Failed to list stale actions")
		utils.JSON500(c, "Failed to list stale actions")
		return
	}

	utils.JSON200(c, gin.H{"actions": actions, "window_minutes": int(ctrl.Config.Monitor.StaleActionWindow.Minutes())})
}
