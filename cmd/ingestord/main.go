package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/analytics"
	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/config"
	"github.com/KenjiPcx/magneto/internal/httpapi"
	"github.com/KenjiPcx/magneto/internal/ingest"
	"github.com/KenjiPcx/magneto/internal/pipeline"
	"github.com/KenjiPcx/magneto/internal/reconstruct"
	"github.com/KenjiPcx/magneto/internal/store"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/ingestord.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Info().Msg("Starting Magneto ingestion gateway...")

	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer pg.Close()
	log.Info().Msg("Postgres connected")

	ch, err := store.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	log.Info().Msg("ClickHouse connected")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	blobs, err := blob.NewFS(cfg.Blob.Dir, "/v1/recordings/blob")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init blob store")
	}

	scheduler := pipeline.NewKafkaScheduler(cfg.Kafka)
	defer scheduler.Close()
	log.Info().Msg("Kafka producer initialized")

	enricher := ingest.NewEnricher(cfg.GeoIP.DatabasePath)
	defer enricher.Close()

	gateway := ingest.NewGateway(pg, blobs, scheduler, enricher, nil)
	limiter := ingest.NewRateLimiter(rdb, cfg.RateLimit.RequestsPerSecond, nil)

	svc := analytics.NewService(pg, ch, pg, rdb, cfg.Tracking.SnapshotCacheTTL, nil)

	// Retry goes through the same processor wiring as the worker; the
	// actual replay runs on the processor side via Kafka.
	processor := pipeline.NewProcessor(pg, ch, blobs, reconstruct.Config{
		HoverMinimumMs:             cfg.Heuristics.HoverMinimumMs,
		InactivityThresholdMs:      cfg.Heuristics.InactivityThresholdMs,
		EstimatedParagraphHeightPx: cfg.Heuristics.EstimatedParagraphHeightPx,
	}, nil)

	api := httpapi.NewServer(gateway, svc, processor, scheduler, blobs, limiter)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.Router(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	httpServer.Shutdown(context.Background())
	log.Info().Msg("Server stopped")
}
