package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arguslabs/argus/internal/cache"
	"github.com/arguslabs/argus/internal/config"
	"github.com/arguslabs/argus/internal/events"
	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
	"github.com/arguslabs/argus/internal/health"
	"github.com/arguslabs/argus/internal/httpapi"
	"github.com/arguslabs/argus/internal/orchestrator"
	"github.com/arguslabs/argus/internal/pipeline"
	"github.com/arguslabs/argus/internal/provider"
	"github.com/arguslabs/argus/internal/ratecontrol"
	"github.com/arguslabs/argus/internal/router"
	"github.com/arguslabs/argus/internal/routing"
	"github.com/arguslabs/argus/internal/session"
	"github.com/arguslabs/argus/internal/store"
	"github.com/arguslabs/argus/internal/tracing"
)

const eventBusCapacity = 256

func main() {
	cfg := config.Load()

	features, featErr := config.LoadFeatures()
	if featErr == nil {
		config.ApplyFeatures(cfg, features)
	}
	cfg.Service.AdminPort = config.MetricsPort(cfg.Service.AdminPort)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if featErr != nil {
		logger.Info("Feature file not loaded, using configuration defaults", zap.Error(featErr))
	}

	logger.Info("Starting argusd",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Service.Port),
		zap.Int("admin_port", cfg.Service.AdminPort),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingShutdown, err := tracing.Initialize(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
		tracingShutdown = func(context.Context) error { return nil }
	}

	// Admin surface comes up first so orchestration platforms get
	// liveness answers while the heavier dependencies connect.
	hm := health.NewManager(logger, health.Options{
		CheckInterval: cfg.Health.CheckInterval,
		GlobalTimeout: cfg.Health.Timeout,
	})
	adminMux := http.NewServeMux()
	health.NewHandler(hm, logger).RegisterRoutes(adminMux)
	if cfg.Metrics.Enabled {
		adminMux.Handle("/metrics", promhttp.Handler())
	}
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler: adminMux,
	}
	go func() {
		logger.Info("Admin server listening", zap.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	st, err := store.Open(store.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Store unavailable", zap.Error(err))
	}

	sessions, err := session.NewManager(session.Config{
		Addr:      cfg.Redis.Addr(),
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		TTL:       cfg.Session.TTL,
		MaxCached: cfg.Session.CacheSize,
	}, logger)
	if err != nil {
		logger.Fatal("Session manager unavailable", zap.Error(err))
	}

	var cacheSvc *cache.Service
	if cfg.Cache.Enabled {
		cacheSvc = cache.New(cache.Options{
			TTL:           cfg.Cache.TTL,
			SweepInterval: cfg.Cache.SweepInterval,
			Logger:        logger,
		})
		cacheSvc.Start()
	}

	table := guard.DefaultTable()
	seqPath := filepath.Join(cfg.ConfigDir, "sequence.yaml")
	if loaded, lerr := guard.LoadTable(seqPath); lerr == nil {
		table = loaded
		logger.Info("Loaded pipeline sequence", zap.String("path", seqPath))
	} else if !errors.Is(lerr, os.ErrNotExist) {
		logger.Warn("Sequence file unreadable, using built-in order",
			zap.String("path", seqPath), zap.Error(lerr))
	}
	g, err := guard.New(table, logger)
	if err != nil {
		logger.Fatal("Invalid pipeline sequence", zap.Error(err))
	}

	defaults := routing.DefaultAssignments()
	if cfg.Router.Provider != "" && cfg.Router.Model != "" {
		a := defaults[eyes.Router]
		a.PrimaryProvider = cfg.Router.Provider
		a.PrimaryModel = cfg.Router.Model
		defaults[eyes.Router] = a
	}
	routes, err := routing.New(ctx, st, routing.Options{Defaults: defaults, Logger: logger})
	if err != nil {
		logger.Fatal("Routing table unavailable", zap.Error(err))
	}

	var providerConfigs []provider.Config
	if cfg.Providers.OpenAI.APIKey != "" {
		providerConfigs = append(providerConfigs, provider.Config{
			Name:    "openai",
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			APIKey:  cfg.Providers.OpenAI.APIKey,
		})
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		providerConfigs = append(providerConfigs, provider.Config{
			Name:    "anthropic",
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			APIKey:  cfg.Providers.Anthropic.APIKey,
		})
	}
	registry, err := provider.NewRegistryFromConfig(providerConfigs, logger)
	if err != nil {
		logger.Fatal("Provider registry rejected configuration", zap.Error(err))
	}
	prober := provider.NewProber(registry, logger, provider.ProberOptions{})

	heuristic := router.NewHeuristic(g, logger)
	var route router.Router = heuristic
	if cfg.Router.Mode == "llm" {
		route = router.NewLLM(registry, routes, heuristic, logger)
	}
	logger.Info("Router selected", zap.String("mode", route.Name()))

	stages := eyes.NewRegistry()
	bus := events.NewBus(eventBusCapacity)

	orch, err := orchestrator.New(stages, route, g, sessions, st, orchestrator.Options{
		MaxHops:          cfg.Budget.MaxHops,
		TokenBudget:      cfg.Budget.DefaultTokens,
		BackpressureAt:   cfg.Budget.BackpressureThreshold,
		BackpressureRate: cfg.Budget.BackpressureRate,
		Cache:            cacheSvc,
		Routing:          routes,
		Bus:              bus,
		Logger:           logger,
	})
	if err != nil {
		logger.Fatal("Orchestrator initialization failed", zap.Error(err))
	}

	executor := pipeline.NewExecutor(stages, pipeline.ExecutorOptions{Logger: logger, Bus: bus})

	// Seed pipelines ship as config data; rows edited through the API
	// since the file was written are left alone.
	if n, err := pipeline.SeedFromFile(ctx, st, filepath.Join(cfg.ConfigDir, "pipelines.yaml"), logger); err != nil {
		logger.Warn("Pipeline seeding failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Seeded pipelines", zap.Int("count", n))
	}

	// Watch ConfigDir so sequence and rate-limit edits land without a
	// restart. Validators run before handlers, so a broken file leaves
	// the running tables on their last good state.
	mgr, err := config.NewManager(cfg.ConfigDir, logger)
	if err != nil {
		logger.Warn("Config watcher disabled", zap.Error(err))
		mgr = nil
	} else {
		mgr.RegisterValidator("sequence.yaml", func(raw map[string]any) error {
			data, merr := yaml.Marshal(raw)
			if merr != nil {
				return merr
			}
			parsed, perr := guard.ParseTable(data)
			if perr != nil {
				return perr
			}
			return parsed.Validate()
		})
		mgr.RegisterHandler("sequence.yaml", func(ev config.ChangeEvent) error {
			data, merr := yaml.Marshal(ev.Config)
			if merr != nil {
				return merr
			}
			parsed, perr := guard.ParseTable(data)
			if perr != nil {
				return perr
			}
			if rerr := g.Reload(parsed); rerr != nil {
				return rerr
			}
			logger.Info("Pipeline sequence reloaded", zap.String("file", ev.File))
			return nil
		})
		mgr.RegisterHandler("models.yaml", func(ev config.ChangeEvent) error {
			ratecontrol.Reload()
			logger.Info("Rate-limit table reloaded", zap.String("file", ev.File))
			return nil
		})
		if err := mgr.Start(ctx); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		}
	}

	_ = hm.Register(health.NewStoreChecker(st, logger))
	_ = hm.Register(health.NewRedisChecker(sessions.RedisWrapper(), logger))
	_ = hm.Register(health.NewProviderChecker(prober, logger))
	if cfg.Health.Enabled {
		_ = hm.Start(ctx)
	}

	var limiter *httpapi.SubmitLimiter
	if features != nil && features.Limits.SubmitPerMinute > 0 {
		limiter = httpapi.NewSubmitLimiter(features.Limits.SubmitPerMinute, features.Limits.SubmitBurst)
	}

	apiMux := http.NewServeMux()
	httpapi.NewTaskHandler(orch, sessions, limiter, logger).RegisterRoutes(apiMux)
	httpapi.NewPipelineHandler(st, executor, logger).RegisterRoutes(apiMux)
	httpapi.NewRoutingHandler(routes, logger).RegisterRoutes(apiMux)
	httpapi.NewProvidersHandler(prober, logger).RegisterRoutes(apiMux)
	httpapi.NewStreamHandler(bus, logger).RegisterRoutes(apiMux)

	apiSrv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:        apiMux,
		ReadTimeout:    cfg.Service.ReadTimeout,
		WriteTimeout:   cfg.Service.WriteTimeout,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("API server listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
	_ = hm.Stop()
	if mgr != nil {
		_ = mgr.Stop()
	}
	if cacheSvc != nil {
		cacheSvc.Stop()
	}
	if err := st.Close(); err != nil {
		logger.Warn("Store close", zap.Error(err))
	}
	if err := sessions.Close(); err != nil {
		logger.Warn("Session manager close", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Warn("Trace exporter shutdown", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// buildLogger honors LOG_LEVEL and switches to the console encoder in
// development.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
