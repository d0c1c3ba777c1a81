package controller

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fleetpulse/fleet-control/http/controller/dto"
	"github.com/fleetpulse/fleet-control/ingest"
	"github.com/fleetpulse/fleet-control/utils"
)

func (ctrl *Controller) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()

	var req ingest.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Heartbeat] Failed to bind request: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}
	if req.IP == "" {
		req.IP = c.ClientIP()
	}

	resp, err := ctrl.Ingestor.Ingest(ctx, req)
	if err != nil {
		if !errors.Is(err, utils.ErrValidation) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Heartbeat] Ingest failed: host=%s", req.Hostname)
		}
		respondDomainError(c, err)
		return
	}

	utils.JSON200(c, resp)
}

func (ctrl *Controller) ReportCommandResult(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CommandResultRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[CommandResult] Failed to bind request: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		utils.JSON400(c, "Invalid command_id format")
		return
	}

	action, err := ctrl.Orchestrator.ReportResult(ctx, commandID, req.Success, req.Output, req.Error)
	if err != nil {
		if !errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrInvalidTransition) {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[CommandResult] Report failed: command=%s", commandID)
		}
		respondDomainError(c, err)
		return
	}

	utils.JSON200(c, action)
}
