// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command fird runs the FIR generation daemon: the public API, the internal
// ops listener, the session sweeper and the dependency health monitor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/fird/internal/api"
	"github.com/ManuGH/fird/internal/cache"
	"github.com/ManuGH/fird/internal/config"
	"github.com/ManuGH/fird/internal/daemon"
	"github.com/ManuGH/fird/internal/fir/kb"
	"github.com/ManuGH/fird/internal/fir/pipeline"
	"github.com/ManuGH/fird/internal/fir/session"
	"github.com/ManuGH/fird/internal/health"
	"github.com/ManuGH/fird/internal/log"
	"github.com/ManuGH/fird/internal/modelclient"
	"github.com/ManuGH/fird/internal/ratelimit"
	"github.com/ManuGH/fird/internal/reliability"
	"github.com/ManuGH/fird/internal/secrets"
	"github.com/ManuGH/fird/internal/store"
	"github.com/ManuGH/fird/internal/store/firsql"
	"github.com/ManuGH/fird/internal/telemetry"
	"github.com/ManuGH/fird/internal/version"
)

const (
	breakerThreshold = 5
	breakerReset     = 60 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fird: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "fird",
		Version: version.Version,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str(log.FieldEvent, "startup.begin").
		Str("version", version.Version).
		Str("environment", cfg.Environment).
		Msg("starting fird")

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "fird",
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	keys, closeSecrets, err := secrets.FromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	token := reliability.NewShutdownToken(cfg.ShutdownTimeout)
	monitor := reliability.NewHealthMonitor(cfg.HealthCheckInterval)
	registry := reliability.NewRegistry(monitor)

	llmBreaker := reliability.NewCircuitBreaker(modelclient.DepLLM,
		breakerThreshold, breakerReset, reliability.WithOnOpen(registry.NotifyOpen))
	asrBreaker := reliability.NewCircuitBreaker(modelclient.DepASROCR,
		breakerThreshold, breakerReset, reliability.WithOnOpen(registry.NotifyOpen))
	registry.RegisterBreaker(llmBreaker)
	registry.RegisterBreaker(asrBreaker)

	models, err := modelclient.New(modelclient.Config{
		LLMBaseURL:         cfg.LLMServerURL,
		ASROCRBaseURL:      cfg.ASROCRServerURL,
		Timeout:            cfg.ModelTimeout,
		ViolationTimeout:   cfg.ViolationCheckTimeout,
		MaxConcurrentCalls: cfg.MaxConcurrentModelCalls,
	}, llmBreaker, asrBreaker)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	var kbOpts []kb.Option
	var kbCache *cache.RedisCache
	if cfg.CacheRedisAddr != "" {
		kbCache, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:   cfg.CacheRedisAddr,
			Prefix: "fird:kb",
		}, log.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		kbOpts = append(kbOpts, kb.WithCache(kbCache))
	}
	retriever := kb.New(cfg.KBServerURL, nil, kbOpts...)

	sessStore, err := store.OpenSessionStore(cfg.SessionStoreBackend, cfg.SessionDBPath)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	sessions := session.NewManager(sessStore, cfg.SessionTimeout)

	firs, err := firsql.Open(firsql.Config{
		Host:     cfg.MySQLHost,
		Port:     cfg.MySQLPort,
		User:     cfg.MySQLUser,
		Password: cfg.MySQLPassword,
		Database: cfg.MySQLDB,
		Timeout:  cfg.DBTimeout,
	})
	if err != nil {
		return fmt.Errorf("fir store: %w", err)
	}

	// Health probes feed both the monitor history and the model client's
	// fast-fail cache.
	monitor.Register(modelclient.DepLLM, true, func(ctx context.Context) error {
		err := models.LLMHealth(ctx)
		models.SetHealth(modelclient.DepLLM, err == nil)
		return err
	})
	monitor.Register(modelclient.DepASROCR, true, func(ctx context.Context) error {
		err := models.ASROCRHealth(ctx)
		models.SetHealth(modelclient.DepASROCR, err == nil)
		return err
	})
	monitor.Register("kb", false, retriever.Health)
	monitor.Register("mysql", true, firs.Ping)

	recoveryCfg := reliability.RecoveryConfig{
		MaxAttempts: cfg.MaxRecoveryAttempts,
		Cooldown:    cfg.RecoveryInterval,
		Multiplier:  2.0,
	}
	registry.RegisterRecovery(modelclient.DepLLM,
		reliability.NewAutoRecovery(modelclient.DepLLM, recoveryCfg, func(ctx context.Context) error {
			if err := models.LLMHealth(ctx); err != nil {
				return err
			}
			llmBreaker.Reset()
			return nil
		}))
	registry.RegisterRecovery(modelclient.DepASROCR,
		reliability.NewAutoRecovery(modelclient.DepASROCR, recoveryCfg, func(ctx context.Context) error {
			if err := models.ASROCRHealth(ctx); err != nil {
				return err
			}
			asrBreaker.Reset()
			return nil
		}))

	monitor.Start(ctx)
	sessions.StartSweeper(ctx)

	orchestrator := pipeline.New(pipeline.Config{
		MaxConcurrentProcess: cfg.MaxConcurrentRequests,
		ExportDir:            cfg.FIRExportDir,
	}, sessions, models, retriever, firs, keys, token)

	healthMgr := health.NewManager(version.Version)
	healthMgr.Register(health.FromMonitor(modelclient.DepLLM, true, monitor))
	healthMgr.Register(health.FromMonitor(modelclient.DepASROCR, true, monitor))
	healthMgr.Register(health.FromMonitor("kb", false, monitor))
	healthMgr.Register(health.FromMonitor("mysql", true, monitor))

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.RateLimitRequests,
		Window: cfg.RateLimitWindow,
	})

	tracingService := ""
	if cfg.OTelEnabled {
		tracingService = "fird"
	}
	srv := api.NewServer(api.Config{
		Pipeline:       orchestrator,
		FIRs:           firs,
		Registry:       registry,
		Health:         healthMgr,
		Keys:           keys,
		Limiter:        limiter,
		Token:          token,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		TracingService: tracingService,
	})

	mgr := daemon.New(daemon.Config{
		ListenAddr:      cfg.ListenAddr,
		MetricsAddr:     cfg.MetricsAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnDrainStart:    func() { healthMgr.SetReady(false) },
	}, token, srv.Router(), srv.InternalRouter(promhttp.Handler()))

	// Registration order is the reverse of execution: session and FIR
	// flushes run first, the tracer flush last.
	mgr.RegisterShutdownHook("telemetry", tracing.Shutdown)
	mgr.RegisterShutdownHook("secrets", func(context.Context) error {
		closeSecrets()
		return nil
	})
	if kbCache != nil {
		mgr.RegisterShutdownHook("kb-cache", func(context.Context) error {
			return kbCache.Close()
		})
	}
	mgr.RegisterShutdownHook("health-monitor", func(context.Context) error {
		monitor.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("session-sweeper", func(context.Context) error {
		sessions.StopSweeper()
		return nil
	})
	mgr.RegisterShutdownHook("model-client", func(context.Context) error {
		models.Close()
		return nil
	})
	mgr.RegisterShutdownHook("fir-store", func(ctx context.Context) error {
		if err := firs.Flush(ctx); err != nil {
			return err
		}
		return firs.Close()
	})
	mgr.RegisterShutdownHook("session-store", func(ctx context.Context) error {
		if err := sessions.FlushAll(ctx); err != nil {
			return err
		}
		return sessStore.Close()
	})

	gate := reliability.NewStartupGate(monitor, cfg.StartupTimeout)
	if err := gate.Wait(ctx); err != nil {
		return fmt.Errorf("startup gate: %w", err)
	}
	healthMgr.SetReady(true)
	logger.Info().
		Str(log.FieldEvent, "startup.ready").
		Str("listen_addr", cfg.ListenAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("dependencies healthy; serving")

	return mgr.Run(ctx)
}
