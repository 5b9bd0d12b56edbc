package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck liveness probe
// GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
