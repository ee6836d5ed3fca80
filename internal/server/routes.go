package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bookforge-backend/internal/bootstrap"
	"bookforge-backend/internal/shared/metrics"
	"bookforge-backend/internal/shared/server/middleware"
	"bookforge-backend/internal/shared/server/respond"
)

func registerRoutes(r *gin.Engine, app *bootstrap.App) {
	r.GET("/healthz", func(c *gin.Context) {
		status := gin.H{"ok": true}
		if app.DB != nil {
			if err := app.DB.PingContext(c.Request.Context()); err != nil {
				respond.JSON(c, http.StatusServiceUnavailable, gin.H{"ok": false, "db": err.Error()})
				return
			}
			status["db"] = "up"
		}
		respond.JSON(c, http.StatusOK, status)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.Use(middleware.Owner())
	app.Handler.RegisterRoutes(api)
}
