// Command server runs the menu backend: catalog, cart and orders, the
// WhatsApp inbound ingestion loop and conversion tracking.
//
// @title       Menu Backend API
// @version     1.0
// @description Multi-tenant restaurant menu, ordering and WhatsApp ingestion API.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/tbourn/go-menu-backend/internal/config"
	"github.com/tbourn/go-menu-backend/internal/conversion"
	"github.com/tbourn/go-menu-backend/internal/handoff"
	httpapi "github.com/tbourn/go-menu-backend/internal/http"
	"github.com/tbourn/go-menu-backend/internal/inbound"
	"github.com/tbourn/go-menu-backend/internal/observability"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/sysutil"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, version)
	gin.SetMode(cfg.GinMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis is optional: it shares the rate limit budget and the watermark
	// lock across replicas. Without it both stay in process.
	var (
		rdb    redis.UniversalClient
		locker inbound.Locker = inbound.NewLocalLocker()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		rdb = client
		locker = inbound.NewRedisLocker(client, cfg.WhatsApp.LockTTL)
		log.Info().Str("addr", opts.Addr).Msg("redis enabled for rate limiting and watermark locks")
	}

	// Confirmed inbound messages go to Kafka when brokers are configured.
	var (
		handler     inbound.Handler = handoff.LogHandler{}
		kafkaWriter *kafka.Writer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaWriter = handoff.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.InboundTopic)
		handler = handoff.NewKafkaPublisher(kafkaWriter)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.InboundTopic).Msg("kafka handoff enabled")
	}

	reconciler := &inbound.Reconciler{
		Store:    inbound.GormStore{DB: db},
		Locker:   locker,
		Handler:  handler,
		NotFound: func(err error) bool { return errors.Is(err, repo.ErrNotFound) },
	}
	gateway := whatsapp.NewClient(cfg.WhatsApp.APIHost, cfg.WhatsApp.FetchTimeout)
	dispatcher := conversion.NewDispatcher(cfg.Conversion)
	if !dispatcher.Enabled() {
		log.Info().Msg("conversion tracking disabled: CAPI_ENDPOINT not set")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Deps{
		Conversion: dispatcher,
		Gateway:    gateway,
		Reconciler: reconciler,
		Redis:      rdb,
	}, cfg)

	var poller *inbound.Poller
	if cfg.WhatsApp.PollEnabled {
		poller = &inbound.Poller{
			Reconciler:   reconciler,
			Fetcher:      gateway,
			Targets:      inbound.ConnectedTargets(db),
			Interval:     cfg.WhatsApp.PollInterval,
			PageSize:     cfg.WhatsApp.PollPageSize,
			FetchTimeout: cfg.WhatsApp.FetchTimeout,
		}
		poller.Start(ctx)
		log.Info().Dur("interval", cfg.WhatsApp.PollInterval).Msg("whatsapp poller started")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("menu backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if poller != nil {
		poller.Stop()
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka writer close")
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("server exited")
}
