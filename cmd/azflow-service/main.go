// azflow-service hosts batch and blob connectors behind an HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"azflow/internal/api"
	"azflow/internal/config"
	"azflow/internal/connector"
	"azflow/internal/deployment"
	"azflow/internal/executor/docker"
	"azflow/internal/health"
	"azflow/internal/notify"
	"azflow/internal/observability"
	"azflow/internal/plugin"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	svcCfg := config.LoadServiceConfig()
	dockerCfg := docker.LoadConfigFromEnv()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	observers := connector.Observers{metrics}

	// Lifecycle notifications are optional
	var dispatcher *notify.MemoryDispatcher
	if svcCfg.CallbackURL != "" {
		dispatcher = notify.NewMemory(notify.LoadConfigFromEnv(), metrics)
		observers = append(observers, notify.NewObserver(dispatcher, svcCfg.CallbackURL, svcCfg.CallbackKey))
		slog.Info("Lifecycle notifications enabled", "signed", svcCfg.CallbackKey != "")
	}

	registry := plugin.Default(plugin.DefaultOptions{Docker: dockerCfg})
	deployments := deployment.NewService(registry,
		deployment.WithObserver(observers),
		deployment.WithActiveRecorder(metrics),
	)

	healthChecker := health.NewChecker(deployments)
	if svcCfg.DockerReadiness {
		probe, err := docker.New(dockerCfg)
		if err != nil {
			return err
		}
		defer probe.Close()
		healthChecker.AddCheck("docker", probe)
	}

	router := api.NewRouter(api.RouterConfig{
		Deployments:   deployments,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}
	slog.Info("Connector types registered", "types", registry.Kinds())

	// Setup and teardown block on remote calls, so the write timeout is generous.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Tear down and close remaining deployments
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer closeCancel()
	if err := deployments.Close(closeCtx); err != nil {
		slog.Warn("Deployment cleanup error", "error", err)
	}

	// Phase 4: Drain notifications, including the teardown checkpoints above
	if dispatcher != nil {
		slog.Info("Draining notify dispatcher")
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		if err := dispatcher.Close(notifyCtx); err != nil {
			slog.Warn("Notify dispatcher shutdown error", "error", err)
		}

		stats := dispatcher.Stats()
		slog.Info("Notify dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	slog.Info("Shutdown complete")
	return nil
}
