package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/fleetpulse/fleet-control/http/controller"
	middlewares "github.com/fleetpulse/fleet-control/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)

	apiRoutes := r.Group("/api/v1/fleet")
	{
		agentRoutes := apiRoutes.Group("/agent")
		{
			agentRoutes.Use(middles.AgentMiddleware)

			agentRoutes.POST("/heartbeat", ctrl.Heartbeat)
			agentRoutes.POST("/command-result", ctrl.ReportCommandResult)
		}

		dashboardRoutes := apiRoutes.Group("")
		{
			dashboardRoutes.Use(middles.AuthMiddleware)

			serverRoutes := dashboardRoutes.Group("/servers")
			{
				serverRoutes.GET("/", ctrl.ListServers)
				serverRoutes.GET("/:id", ctrl.GetServerByID)
				serverRoutes.GET("/:id/metrics", ctrl.GetServerMetrics)
			}

			alertRoutes := dashboardRoutes.Group("/alerts")
			{
				alertRoutes.GET("/", ctrl.ListAlerts)
				alertRoutes.GET("/:id", ctrl.GetAlertByID)
				alertRoutes.POST("/:id/acknowledge", ctrl.AcknowledgeAlert)
				alertRoutes.POST("/:id/resolve", ctrl.ResolveAlert)
			}

			actionRoutes := dashboardRoutes.Group("/actions")
			{
				actionRoutes.GET("/", ctrl.ListActions)
				actionRoutes.POST("/", ctrl.CreateAction)
				actionRoutes.GET("/stale", ctrl.ListStaleActions)
				actionRoutes.GET("/:id", ctrl.GetActionByID)
				actionRoutes.POST("/:id/approve", ctrl.ApproveAction)
				actionRoutes.POST("/:id/reject", ctrl.RejectAction)
				actionRoutes.POST("/:id/cancel", ctrl.CancelAction)
			}
		}
	}
	return r
}
