package controller

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fleetpulse/fleet-control/http/controller/dto"
	"github.com/fleetpulse/fleet-control/utils"
)

// GetServerMetrics returns one retention tier over a time window. The tier
// defaults to raw; callers pick hourly or daily for wider windows.
func (ctrl *Controller) GetServerMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid server id format")
		return
	}

	var query dto.MetricRangeQueryDTO
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.JSON400(c, "Invalid query parameters")
		return
	}

	from, err := time.Parse(time.RFC3339, query.From)
	if err != nil {
		utils.JSON400(c, "Invalid 'from' timestamp, expected RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, query.To)
	if err != nil {
		utils.JSON400(c, "Invalid 'to' timestamp, expected RFC3339")
		return
	}
	if !to.After(from) {
		utils.JSON400(c, "'to' must be after 'from'")
		return
	}

	tier := query.Tier
	if tier == "" {
		tier = "raw"
	}

	var rows interface{}
	switch tier {
	case "raw":
		rows, err = ctrl.Repository.MetricRepo.RawRange(id, from, to)
	case "hourly":
		rows, err = ctrl.Repository.MetricRepo.HourlyRange(id, from, to)
	case "daily":
		rows, err = ctrl.Repository.MetricRepo.DailyRange(id, from, to)
	}
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Metric] Range query failed: server=%s tier=%s", id, tier)
		utils.JSON500(c, "Failed to query metrics")
		return
	}

	utils.JSON200(c, gin.H{"tier": tier, "from": from, "to": to, "metrics": rows})
}
