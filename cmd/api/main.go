package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/hospital-intake-chat/cmd/mainconfig"
	"github.com/wolfman30/hospital-intake-chat/internal/api/router"
	"github.com/wolfman30/hospital-intake-chat/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
	"github.com/wolfman30/hospital-intake-chat/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hospital-intake-chat/internal/http/middleware"
	"github.com/wolfman30/hospital-intake-chat/internal/webchat"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hospital intake chat server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rt, err := bootstrap.BuildRuntime(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	sesClient, err := mainconfig.NewSESClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sender := bootstrap.BuildEmailSender(cfg, sesClient, logger)
	if deliverer := bootstrap.BuildDeliverer(rt.Pool, cfg, sender, rt.Metrics, logger); deliverer != nil {
		go deliverer.Start(ctx)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunEviction(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildHandler(cfg, rt, limiter, promhttp.Handler(), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildHandler assembles the HTTP surface from an already-built runtime.
func buildHandler(cfg *appconfig.Config, rt *bootstrap.Runtime, limiter *httpmiddleware.RateLimiter, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	routerCfg := &router.Config{
		Logger:             logger,
		TurnHandler:        conversation.NewHandler(rt.Service, logger),
		Webchat:            webchat.NewHandler(logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	}
	if rt.Store != nil {
		routerCfg.AdminSessions = handlers.NewAdminSessionsHandler(rt.Store, logger)
	}
	return router.New(routerCfg)
}
