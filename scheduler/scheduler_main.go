package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fleetpulse/fleet-control/alerting"
	"github.com/fleetpulse/fleet-control/config"
	infraPkg "github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/repository"
	"github.com/fleetpulse/fleet-control/retention"
	"github.com/fleetpulse/fleet-control/scheduler/worker"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evaluator := alerting.NewEvaluator(repo, infra.Produce.NotificationService, cfg.Monitor, infra.Logger)
	orchestrator := remediation.NewOrchestrator(repo, infra.Produce.NotificationService, cfg.Monitor, infra.Logger)
	retentionSvc := retention.NewService(infra.Postgres.DB, cfg.Monitor)

	runner := worker.NewRunner(infra, evaluator, orchestrator, retentionSvc, cfg.Monitor)
	runner.Start(ctx)

	infra.Logger.InfoWithContextf(ctx, "Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down scheduler...")
	cancel()

	infra.Logger.InfoWithContextf(ctx, "Scheduler exited properly")
}
