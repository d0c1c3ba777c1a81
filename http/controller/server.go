package controller

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/utils"
)

func (ctrl *Controller) ListServers(c *gin.Context) {
	ctx := c.Request.Context()

	servers, err := ctrl.Repository.ServerRepo.List()
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Server] Failed to list servers")
		utils.JSON500(c, "Failed to list servers")
		return
	}

	utils.JSON200(c, gin.H{"servers": servers})
}

func (ctrl *Controller) GetServerByID(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid server id format")
		return
	}

	server, err := ctrl.Repository.ServerRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.JSON404(c, "Server not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Server] Failed to load server: id=%s", id)
		utils.JSON500(c, "Failed to load server")
		return
	}

	services, err := ctrl.Repository.ServerRepo.FindServiceStatuses(id)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Server] Failed to load service statuses: id=%s", id)
		utils.JSON500(c, "Failed to load service statuses")
		return
	}

	resp := gin.H{"server": server, "services": services}
	if latest, err := ctrl.Ingestor.LatestMetrics(ctx, id); err == nil {
		resp["latest_metrics"] = latest
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Server] Failed to load latest metrics: id=%s err=%v", id, err)
	}

	utils.JSON200(c, resp)
}
