package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/dispatch"
	"github.com/example/trip-dispatch/internal/geo"
	"github.com/example/trip-dispatch/internal/httpapi"
	"github.com/example/trip-dispatch/internal/logging"
	"github.com/example/trip-dispatch/internal/pricing"
	"github.com/example/trip-dispatch/internal/safety"
	"github.com/example/trip-dispatch/internal/stream"
	"github.com/example/trip-dispatch/internal/trip"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var index geo.Geo
	switch cfg.GeoIndexKind {
	case "grid":
		index = geo.NewGridIndex(cfg.FreshnessWindow, cfg.CandidateLimit)
	case "rtree":
		index = geo.NewRTreeIndex(cfg.FreshnessWindow, cfg.CandidateLimit)
	case "redis":
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.FreshnessWindow, cfg.CandidateLimit)
	default:
		index = geo.NewIndex(cfg.FreshnessWindow, cfg.CandidateLimit)
	}

	var store trip.Store
	if cfg.PGDSN != "" {
		ps, err := trip.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = trip.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory trip store")
	}

	trips := trip.NewService(store, index, logger)
	engine := pricing.NewEngine(cfg.TripSpeedKmh, cfg.ApproachSpeedKmh)
	tariffs := pricing.NewStaticSource(pricing.DefaultConfig())

	wsreg := dispatch.NewWSRegistry()
	notifier := &dispatch.ChainNotifier{WS: wsreg}
	if cfg.PushEndpoint != "" {
		notifier.Push = dispatch.NewPushNotifier(cfg.PushEndpoint)
	}

	coordinator := dispatch.NewCoordinator(index, engine, tariffs, trips, notifier, logger, dispatch.Config{
		SearchRadiusKm: cfg.SearchRadiusKm,
		PendingTTL:     cfg.PendingTripTTL,
		SweepInterval:  cfg.SweepInterval,
		ServiceArea: dispatch.BoundingBox{
			MinLat: cfg.ServiceAreaMinLat,
			MinLon: cfg.ServiceAreaMinLon,
			MaxLat: cfg.ServiceAreaMaxLat,
			MaxLon: cfg.ServiceAreaMaxLon,
		},
	})

	var producer *stream.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = stream.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		defer producer.Close()
	}
	locations := stream.NewService(index, store, stream.NewHub(), producer, logger)

	var alerter safety.Alerter
	if len(cfg.KafkaBrokers) > 0 {
		ka := safety.NewKafkaAlerter(cfg.KafkaBrokers, cfg.AlertTopic)
		defer ka.Close()
		alerter = ka
	}
	sos := safety.NewService(store, alerter, cfg.SOSContactNumber, logger)

	api := httpapi.NewServer(coordinator, trips, locations, sos, wsreg, logger, cfg.AllowedOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go coordinator.RunExpiry(ctx, store)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("trip-dispatch listening", "addr", cfg.HTTPAddr, "geo_index", cfg.GeoIndexKind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func runMigrations(dsn string) error {
	path := os.Getenv("MIGRATIONS_PATH")
	if path == "" {
		path = "file://migrations"
	}
	m, err := migrate.New(path, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
