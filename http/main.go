package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/http/controller"
	routes "github.com/fleetpulse/fleet-control/http/route"
	infraPkg "github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/repository"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	ctrl := controller.NewController(cfg, infra, repo)

	router := routes.SetupRouter(ctrl)

	log.Println("HTTP Server started on", cfg.EnvConfig.HTTPAddr)
	if err := router.Run(cfg.EnvConfig.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
