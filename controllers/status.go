// controllers/status.go
package controllers

import (
	"net/http"
	"time"

	"coffee-bot/services"

	"github.com/gin-gonic/gin"
)

type StatusController struct {
	Pool      *services.Pool
	Scheduler *services.Scheduler
	Coffee    *services.CoffeeService
	StartedAt time.Time
}

func (sc *StatusController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(sc.StartedAt).Round(time.Second).String(),
	})
}

// GetStatus reports the armed trigger and rotation progress
func (sc *StatusController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": sc.Scheduler.Status(),
		"queue": gin.H{
			"remaining": sc.Pool.Remaining(),
			"catalog":   sc.Pool.CatalogSize(),
		},
	})
}

// SendNow sends the next message immediately; the daily trigger is untouched
func (sc *StatusController) SendNow(c *gin.Context) {
	delivery := sc.Coffee.SendCoffeeMessage(c.Request.Context())

	status := http.StatusOK
	if len(delivery.Sent) == 0 && len(delivery.Failed) > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, delivery)
}
