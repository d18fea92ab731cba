package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/dispatch"
	"stagehand/internal/livekit"
	serverHTTP "stagehand/internal/server/http"
	"stagehand/internal/utils"
)

func main() {
	logger := utils.NewComponentLogger("Main")
	logger.Info("Starting stagehand server...")

	cfg := config.Load()
	if cfg.Verbose {
		utils.GetLogger().SetLevel(utils.DEBUG)
	}

	logger.Info("=== Server Configuration ===")
	logger.Info("LiveKit URL: %s", cfg.ServerURL)
	logger.Info("Agent name: %s", cfg.AgentName)
	logger.Info("Upstream timeout: %s", cfg.UpstreamTimeout)
	logger.Info("Port: %s", cfg.Port)
	logger.Info("============================")

	if err := cfg.Validate(); err != nil {
		// Startup proceeds anyway: configuration is validated per request so
		// the health and token endpoints keep working while credentials are
		// being rotated.
		logger.Warn("Configuration incomplete: %v", err)
	}

	client := livekit.NewClient(cfg.UpstreamTimeout, utils.NewComponentLogger("LiveKitClient"))
	reconciler := dispatch.NewReconciler(cfg, client, utils.NewComponentLogger("Reconciler"))
	router := serverHTTP.NewRouter(cfg, reconciler, utils.NewComponentLogger("HTTP"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
