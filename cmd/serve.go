package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"expertgate/internal/agentclient"
	"expertgate/internal/api"
	"expertgate/internal/approval"
	"expertgate/internal/config"
	"expertgate/internal/database"
	"expertgate/internal/evaluation"
	"expertgate/internal/events"
	"expertgate/internal/logger"
	"expertgate/internal/monitoring"
	"expertgate/internal/sharing"
)

// services bundles the core built over one store.
type services struct {
	store       *database.Store
	metrics     *monitoring.Collector
	evaluations *evaluation.Service
	approvals   *approval.Service
	gate        *approval.Gate
	sharing     *sharing.Authority
}

func newServices(store *database.Store, executor *evaluation.Executor, publisher events.Publisher, metrics *monitoring.Collector, concurrency int, log *zerolog.Logger) *services {
	gate := approval.NewGate(store)
	return &services{
		store:   store,
		metrics: metrics,
		evaluations: evaluation.NewService(evaluation.ServiceConfig{
			Store:       store,
			Executor:    executor,
			Publisher:   publisher,
			Metrics:     metrics,
			Logger:      log,
			Concurrency: concurrency,
		}),
		approvals: approval.NewService(store, publisher, metrics, log),
		gate:      gate,
		sharing:   sharing.NewAuthority(store, gate, publisher, metrics, log),
	}
}

func openStore(cfg *config.Config) (*database.Store, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return database.NewStore(db), nil
}

// newInvoker selects how questions reach the agent under evaluation
func newInvoker(cfg *config.Config) evaluation.AgentInvoker {
	if cfg.Agent.Mode == "gateway" {
		return agentclient.NewGatewayInvoker(cfg.Agent.GatewayURL, os.Getenv("EXPERTGATE_AGENT_TOKEN"))
	}
	registry := agentclient.NewModelRegistry(cfg.Agent.Models)
	return agentclient.NewLLMInvoker(registry, cfg.Agent.Agents, cfg.Agent.DefaultModel)
}

// newPublisher connects to redis when configured; otherwise events are dropped
func newPublisher(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (events.Publisher, func()) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("Redis not configured, domain events disabled")
		return events.Nop{}, func() {}
	}

	client, err := events.Connect(ctx, events.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, domain events disabled")
		return events.Nop{}, func() {}
	}
	return events.NewRedisPublisher(client, cfg.Redis.Stream, cfg.Redis.MaxLen), func() { client.Close() }
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or EXPERTGATE_JWT_SECRET) is required to serve")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, closePublisher := newPublisher(ctx, cfg, &log)
	defer closePublisher()

	metrics := monitoring.NewCollector()
	executor := evaluation.NewExecutor(newInvoker(cfg), store, metrics, &log,
		evaluation.WithRateLimit(cfg.Executor.RatePerSecond, cfg.Executor.Burst),
		evaluation.WithTimeout(cfg.Agent.Timeout),
	)
	svc := newServices(store, executor, publisher, metrics, cfg.Executor.Concurrency, &log)

	hub := api.NewProgressHub(cfg.Server.CORSOrigins, &log)
	svc.evaluations.SetProgressSink(hub)

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.NewServer(api.Deps{
		Evaluations: svc.evaluations,
		Approvals:   svc.approvals,
		Gate:        svc.gate,
		Sharing:     svc.sharing,
		Users:       store,
		Health:      store,
		Progress:    hub,
		JWTSecret:   cfg.Auth.JWTSecret,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      &log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsServer := newMetricsServer(cfg.Server.MetricsPort, metrics)

	go func() {
		log.Info().Int("port", cfg.Server.MetricsPort).Msg("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("agent_mode", cfg.Agent.Mode).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown error")
	}
	log.Info().Dur("uptime", metrics.Uptime()).Msg("Servers stopped")
	return nil
}

func newMetricsServer(port int, metrics *monitoring.Collector) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
}
