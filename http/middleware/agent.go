package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/utils"
)

// AgentAuthMiddleware guards the agent endpoints with the shared fleet token.
// Agents are machines, not users, so no claims are injected.
func AgentAuthMiddleware(cfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := utils.ExtractToken(c)
		if token == "" {
			token = c.GetHeader("X-Agent-Token")
		}

		if token == "" || cfg.Agent.Token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Agent.Token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid agent token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
