package routes

import (
	"coffee-bot/config"
	"coffee-bot/controllers"
	"coffee-bot/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(cfg *config.Config, status *controllers.StatusController) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
		}))
	}

	r.Use(config.PerformanceLogger())

	r.GET("/healthz", status.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(utils.AuthMiddleware(cfg.JWTSecret))
	{
		api.GET("/status", status.GetStatus)
		api.POST("/send", status.SendNow)
	}

	return r
}
