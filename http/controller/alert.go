package controller

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/utils"
)

func (ctrl *Controller) ListAlerts(c *gin.Context) {
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

	var status *entity.AlertStatus
	if raw := c.Query("status"); raw != "" {
		s := entity.AlertStatus(raw)
		switch s {
		case entity.AlertStatusOpen, entity.AlertStatusAcknowledged, entity.AlertStatusResolved:
			status = &s
		default:
			utils.JSON400(c, "Unknown alert status: "+raw)
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

	alerts, err := ctrl.Repository.AlertRepo.List(serverID, status, limit)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Alert] Failed to list alerts")
		utils.JSON500(c, "Failed to list alerts")
		return
	}

	utils.JSON200(c, gin.H{"alerts": alerts})
}

func (ctrl *Controller) GetAlertByID(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid alert id format")
		return
	}

	alert, err := ctrl.Repository.AlertRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Alert not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Alert] Failed to load alert: id=%s", id)
		utils.JSON500(c, "Failed to load alert")
		return
	}

	notifications, err := ctrl.Repository.NotificationRepo.ListByAlert(id)
	if err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Alert] Failed to load notifications: id=%s err=%v", id, err)
	}

	utils.JSON200(c, gin.H{"alert": alert, "notifications": notifications})
}

// AcknowledgeAlert marks an open alert as seen by an operator. Acknowledging
// does not stop evaluation; only recovery resolves the alert.
func (ctrl *Controller) AcknowledgeAlert(c *gin.Context) {
	ctrl.updateAlertStatus(c, "acknowledge", ctrl.Repository.AlertRepo.Acknowledge)
}

// ResolveAlert force-resolves an alert from the dashboard. The evaluator will
// reopen it if the breach persists on the next heartbeat.
func (ctrl *Controller) ResolveAlert(c *gin.Context) {
	ctrl.updateAlertStatus(c, "resolve", ctrl.Repository.AlertRepo.Resolve)
}

func (ctrl *Controller) updateAlertStatus(c *gin.Context, verb string, apply func(uuid.UUID, time.Time) (int64, error)) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid alert id format")
		return
	}

	if _, err := ctrl.Repository.AlertRepo.FindByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Alert not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Alert] Failed to load alert: id=%s", id)
		utils.JSON500(c, "Failed to load alert")
		return
	}

	rows, err := apply(id, time.Now().UTC())
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Alert] Failed to %s alert: id=%s", verb, id)
		utils.JSON500(c, "Failed to "+verb+" alert")
		return
	}
	if rows == 0 {
		utils.JSON422(c, "Alert status does not allow "+verb)
		return
	}

	alert, err := ctrl.Repository.AlertRepo.FindByID(id)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Alert] Failed to reload alert: id=%s", id)
		utils.JSON500(c, "Failed to reload alert")
		return
	}

	utils.JSON200(c, alert)
}
