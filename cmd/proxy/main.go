// Batching classification proxy.
//
// Accepts classification requests over HTTP, batches them under a
// pluggable scheduling strategy, and forwards each batch to a downstream
// classifier in a single call.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxywars.dev/internal/batching"
	"proxywars.dev/internal/classifier"
	"proxywars.dev/internal/common/health"
	"proxywars.dev/internal/common/lifecycle"
	"proxywars.dev/internal/config"
	"proxywars.dev/internal/ingress"
	"proxywars.dev/internal/warning"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("starting batching proxy", "version", version, "build_time", buildTime)

	ctx := context.Background()

	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config

	strategy, err := batching.ParseStrategy(cfg.Batching.InitialStrategy)
	if err != nil {
		slog.Error("invalid initial strategy", "error", err)
		os.Exit(1)
	}

	// ========================================
	// COMPONENT WIRING
	// ========================================

	queues := batching.NewQueueSet()
	register := batching.NewRegister(strategy)
	warnings := warning.NewInMemoryService()

	downstreamClient := classifier.NewClient(classifier.Config{
		URL:                       cfg.Downstream.URL,
		Timeout:                   cfg.Downstream.Timeout,
		CircuitBreakerRequests:    cfg.Downstream.CircuitBreakerRequests,
		CircuitBreakerInterval:    cfg.Downstream.CircuitBreakerInterval,
		CircuitBreakerTimeout:     cfg.Downstream.CircuitBreakerTimeout,
		CircuitBreakerMinRequests: cfg.Downstream.CircuitBreakerMinRequests,
		CircuitBreakerFailRatio:   cfg.Downstream.CircuitBreakerFailRatio,
	})

	dispatcher := batching.NewDispatcher(
		queues, register, downstreamClient, warnings,
		cfg.Batching.MaxBatch, cfg.Batching.BatchTimeout, cfg.Batching.IdleInterval,
	)

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.CircuitBreakerCheck(downstreamClient.OpenSince, cfg.Downstream.CircuitBreakerTimeout))

	ingressHandler := ingress.NewHandler(queues, register, cfg.Batching.MaxBatch)
	warningHandler := warning.NewHandler(warnings)

	httpRouter := setupHTTPRouter(cfg, healthChecker, ingressHandler, warningHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ========================================
	// SERVICE STARTUP
	// ========================================

	services := []lifecycle.Service{
		lifecycle.NewHTTPService("http-server", httpServer),
		dispatcher,
	}

	slog.Info("proxy ready",
		"port", cfg.HTTP.Port,
		"strategy", strategy,
		"max_batch", cfg.Batching.MaxBatch,
		"downstream_url", cfg.Downstream.URL)

	if err := lifecycle.Run(ctx, services...); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}

	slog.Info("batching proxy stopped")
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("PROXY_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func setupHTTPRouter(cfg *config.Config, healthChecker *health.Checker, ingressHandler *ingress.Handler, warningHandler *warning.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Customer-Id"},
	}))

	r.Post("/proxy_classify", ingressHandler.Classify)
	r.Post("/strategy", ingressHandler.SetStrategy)

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	r.Handle("/metrics", promhttp.Handler())

	warningHandler.RegisterRoutes(r)

	return r
}
