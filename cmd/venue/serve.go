package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"
	"venue/internal/adapters/builtin"
	"venue/internal/adapters/docker"
	"venue/internal/api"
	"venue/internal/catalog"
	"venue/internal/config"
	"venue/internal/dispatcher"
	"venue/internal/engine"
	"venue/internal/health"
	"venue/internal/observability"
	"venue/internal/orchestrate"
	"venue/internal/remote"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the venue HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.LoadServiceConfig())
		},
	}
}

func serve(ctx context.Context, svcCfg *config.ServiceConfig) error {
	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)

	cat := catalog.New()
	if svcCfg.CatalogFile != "" {
		if _, err := cat.LoadFile(svcCfg.CatalogFile); err != nil {
			return err
		}
	}

	eng := engine.New(engine.Config{
		Store:      cat,
		Dispatcher: eventDispatcher,
		Metrics:    metrics,
	})

	healthChecker := health.NewChecker()
	healthChecker.Register("engine", eng)

	closeAdapters, err := registerAdapters(ctx, svcCfg, eng, healthChecker, metrics)
	defer closeAdapters()
	if err != nil {
		return err
	}
	slog.Info("Adapters registered", "adapters", eng.Adapters())

	router := api.NewRouter(api.RouterConfig{
		Engine:          eng,
		Catalog:         cat,
		Metrics:         metrics,
		HealthChecker:   healthChecker,
		APIKey:          svcCfg.APIKey,
		CORSOrigins:     svcCfg.CORSOrigins,
		InvokeRateLimit: svcCfg.InvokeRateLimit,
		InvokeRateBurst: svcCfg.InvokeRateBurst,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(apiServer, "API") })
	g.Go(func() error { return listen(metricsServer, "metrics") })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("Received shutdown signal")
		}

		// Phase 1: Mark service as unhealthy for load balancer draining
		healthChecker.SetShuttingDown()
		if ctx.Err() != nil && svcCfg.ShutdownDrainWait > 0 {
			slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
			time.Sleep(svcCfg.ShutdownDrainWait)
		}

		// Phase 2: Stop accepting new connections, finish in-flight requests
		slog.Info("Starting graceful shutdown")
		shutdownServers(25*time.Second, apiServer, metricsServer)

		// Phase 3: Let running jobs finish, then cancel the rest
		engineCtx, engineCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer engineCancel()
		if err := eng.Close(engineCtx); err != nil {
			slog.Warn("Jobs cancelled at shutdown", "error", err)
		}

		// Phase 4: Drain callback dispatcher
		slog.Info("Draining callback dispatcher")
		dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dispatcherCancel()
		if err := eventDispatcher.Close(dispatcherCtx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}

		stats := eventDispatcher.Stats()
		slog.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

// registerAdapters installs every configured adapter. The returned
// function releases adapter resources and is safe to call on error.
func registerAdapters(ctx context.Context, svcCfg *config.ServiceConfig, eng *engine.Engine, hc *health.Checker, metrics *observability.Metrics) (func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if err := eng.RegisterAdapter(builtin.NewTestAdapter(svcCfg.AdapterConcurrency)); err != nil {
		return closeAll, err
	}
	orch := orchestrate.New(orchestrate.Config{
		Invoker:      eng,
		PollInterval: svcCfg.OrchestratorPollInterval,
		Metrics:      metrics,
	})
	if err := eng.RegisterAdapter(orch); err != nil {
		return closeAll, err
	}

	if svcCfg.DockerEnabled {
		da, err := docker.New(ctx, docker.LoadConfigFromEnv())
		if err != nil {
			return closeAll, err
		}
		closers = append(closers, da.Close)
		if err := eng.RegisterAdapter(da); err != nil {
			return closeAll, err
		}
		slog.Info("Connected to Docker daemon")
	}

	venues, err := remote.ParseVenues(svcCfg.RemoteVenues)
	if err != nil {
		return closeAll, err
	}
	names := make([]string, 0, len(venues))
	for name := range venues {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		client, err := remote.NewClient(remote.Config{
			URL:     venues[name],
			Name:    name,
			APIKey:  svcCfg.RemoteAPIKey,
			Metrics: metrics,
		})
		if err != nil {
			return closeAll, fmt.Errorf("remote venue %s: %w", name, err)
		}
		if err := eng.RegisterAdapter(remote.NewAdapter(client)); err != nil {
			return closeAll, err
		}
		hc.RegisterOptional("venue:"+name, health.ReadyFunc(client.Ping))
	}
	return closeAll, nil
}

func listen(srv *http.Server, name string) error {
	slog.Info("Starting "+name+" server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func shutdownServers(timeout time.Duration, servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server shutdown error", "addr", srv.Addr, "error", err)
		}
	}
}
