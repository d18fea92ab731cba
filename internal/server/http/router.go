// Package http exposes the dispatch reconciler and token signer over a small
// JSON surface: GET/POST/DELETE /dispatch and GET /token.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"stagehand/internal/config"
	"stagehand/internal/dispatch"
	"stagehand/internal/logging"
)

// NewRouter builds the gin engine with all endpoints and middleware.
func NewRouter(cfg config.Config, reconciler *dispatch.Reconciler, logger logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger(logging.OrNop(logger)))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	dispatchHandler := NewDispatchHandler(cfg, reconciler, logger)
	tokenHandler := NewTokenHandler(cfg, logger)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})

	engine.GET("/dispatch", dispatchHandler.HandleStatus)
	engine.POST("/dispatch", dispatchHandler.HandleEnsure)
	engine.DELETE("/dispatch", dispatchHandler.HandleRelease)

	engine.GET("/token", tokenHandler.HandleToken)

	return engine
}
