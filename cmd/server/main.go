package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/booking"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/config"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/dispatch"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/eta"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/fusion"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/geo"
	httpapi "github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/http"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/ingest"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/logging"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/notify"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/payments"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/realtime"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/stations"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/storage"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/transit"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/weather"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("storage backend", "kind", "postgres")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("storage backend", "kind", "memory")
	}

	var driverGeo geo.Geo
	if cfg.RedisAddr != "" {
		driverGeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("geo backend", "kind", "redis", "addr", cfg.RedisAddr)
	} else {
		driverGeo = geo.NewIndex()
		logger.Info("geo backend", "kind", "memory")
	}

	stationIdx, err := stations.LoadFile(cfg.StationsFile)
	if err != nil {
		logger.Error("stations load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stations loaded", "count", len(stationIdx.All()))

	weatherClient := weather.NewOpenWeatherClient(cfg.WeatherAPIKey)
	transitClient := transit.NewODPTClient(cfg.ODPTAPIKey)

	signals := &fusion.Engine{
		Weather:  weatherClient,
		Transit:  transitClient,
		Stations: stationIdx.All(),
		Logger:   logger,
	}

	hub := realtime.NewHub(logger)

	coord := &dispatch.Coordinator{
		Geo:             driverGeo,
		Machine:         booking.NewMachine(store, driverGeo),
		Store:           store,
		Signals:         signals,
		Hub:             hub,
		ETACache:        eta.NewCache(30 * time.Second),
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		SearchRadiusKm:  cfg.SearchRadiusKm,
		TopN:            cfg.DispatchTopN,
		Logger:          logger,
	}
	if cfg.OSRMEndpoint != "" {
		coord.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	if cfg.StripeAPIKey != "" {
		coord.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}
	if cfg.PushEndpoint != "" {
		coord.Notifier = notify.NewPushNotifier(cfg.PushEndpoint, cfg.PushKey, logger)
	} else {
		coord.Notifier = notify.NopNotifier{}
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		coord.Ingest = producer
		logger.Info("location ingest enabled", "topic", cfg.KafkaTopic)
	}

	api := httpapi.New(logger, coord, stationIdx, weatherClient, transitClient, signals, hub, cfg.StripeWebhookSecret)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
