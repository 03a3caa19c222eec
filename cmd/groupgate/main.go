package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/groupgate/groupgate/pkg/access"
	"github.com/groupgate/groupgate/pkg/api"
	"github.com/groupgate/groupgate/pkg/audit"
	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/groups"
	"github.com/groupgate/groupgate/pkg/observability"
)

const (
	ancestorCacheSize = 1024
	ancestorCacheTTL  = 5 * time.Minute
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stdout).
			WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Database.ConnTimeout)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	if err := groups.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := content.RunMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("Database migrations applied")

	// Access settings, optionally overridden from a YAML file the
	// watcher keeps live.
	accessCfg := cfg.Access
	if cfg.AccessConfigFile != "" {
		accessCfg, err = config.LoadAccessFile(cfg.AccessConfigFile, cfg.Access)
		if err != nil {
			return err
		}
	}
	settings := config.NewSettings(accessCfg)

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Event pipeline: cache purge, link scrubbing, cascade, audit, and
	// the optional Redis fan-out all hang off the dispatcher.
	dispatcher := events.NewDispatcher(logger)

	groupStore := groups.NewStore(db, groups.NewRegistry(), dispatcher)
	members := groups.NewResolver(groupStore, settings.MaxDepth())
	itemStore := content.NewStore(db)
	linker := content.NewLinker(db, dispatcher)

	cache := access.NewHierarchyCache(groupStore, ancestorCacheSize, ancestorCacheTTL, metrics)
	dispatcher.Register(cache)
	dispatcher.Register(linker)

	propagator := access.NewPropagator(itemStore, linker, settings, logger, metrics)
	dispatcher.Register(propagator)

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(auditLogger)
	dispatcher.Register(recorder)

	var publisher *events.RedisPublisher
	if cfg.Redis.Enabled {
		publisher, err = events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dispatcher.Register(publisher)
		logger.WithField("channel", cfg.Redis.Channel).Info("Redis event publishing enabled")
	}

	// Access resolution
	caps := access.NewStaticCapabilities(settings)
	resolver := access.NewResolver(itemStore, linker, members, cache, settings, caps, logger, metrics)
	engine := access.NewEngine(resolver, itemStore, settings, caps, logger, metrics)
	marker := access.NewMarker(resolver, settings, caps)

	handlers := api.NewHandlers(
		groupStore, members, itemStore, linker,
		resolver, engine, marker,
		settings, caps, recorder, auditLogger,
	)

	router := mux.NewRouter()
	router.Use(api.RequestIDMiddleware, api.ActorMiddleware, api.LoggingMiddleware(logger))
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes.
	healthMux := http.NewServeMux()
	var redisClient *redis.Client
	if publisher != nil {
		redisClient = publisher.Client()
	}
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", server.Addr).Info("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.AccessConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.AccessConfigFile, settings, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
	}

	group.Go(func() error {
		manager := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
		manager.RegisterShutdownFunc(healthServer.Shutdown)
		manager.RegisterShutdownFunc(func(context.Context) error { return auditLogger.Close() })
		err := manager.WaitForShutdown()
		cancel()
		return err
	})

	return group.Wait()
}
