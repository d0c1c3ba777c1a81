package controller

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/fleetpulse/fleet-control/alerting"
	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/ingest"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/repository"
	"github.com/fleetpulse/fleet-control/utils"
)

type Controller struct {
	Config     *config.Config
	Infra      *infra.Infra
	Repository *repository.Repository

	Ingestor     *ingest.HeartbeatIngestor
	Evaluator    *alerting.Evaluator
	Orchestrator *remediation.Orchestrator
}

func NewController(config *config.Config, infra *infra.Infra, repo *repository.Repository) *Controller {
	if repo == nil {
		panic("Failed to initialize Repository")
	}

	evaluator := alerting.NewEvaluator(repo, infra.Produce.NotificationService, config.Monitor, infra.Logger)
	orchestrator := remediation.NewOrchestrator(repo, infra.Produce.NotificationService, config.Monitor, infra.Logger)
	ingestor := ingest.NewHeartbeatIngestor(repo, evaluator, orchestrator, infra.Redis, infra.Logger)

	return &Controller{
		Config:       config,
		Infra:        infra,
		Repository:   repo,
		Ingestor:     ingestor,
		Evaluator:    evaluator,
		Orchestrator: orchestrator,
	}
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrValidation):
		utils.JSON400(c, err.Error())
	case errors.Is(err, utils.ErrNotFound):
		utils.JSON404(c, err.Error())
	case errors.Is(err, utils.ErrConflict):
		utils.JSON409(c, err.Error())
	case errors.Is(err, utils.ErrInvalidTransition):
		utils.JSON422(c, err.Error())
	default:
		utils.JSON500(c, "Internal server error")
	}
}
