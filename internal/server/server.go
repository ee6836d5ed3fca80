package server

import (
	"github.com/gin-gonic/gin"

	"bookforge-backend/internal/bootstrap"
	"bookforge-backend/internal/shared/config"
	"bookforge-backend/internal/shared/server/middleware"
)

// NewEngine builds the gin engine with middleware and routes registered.
func NewEngine(cfg config.Config, app *bootstrap.App) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	registerRoutes(engine, app)
	return engine
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
