package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/config"
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
		configPath = "config/processord.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Info().Msg("Starting Magneto session processor...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	blobs, err := blob.NewFS(cfg.Blob.Dir, "/v1/recordings/blob")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init blob store")
	}

	processor := pipeline.NewProcessor(pg, ch, blobs, reconstruct.Config{
		HoverMinimumMs:             cfg.Heuristics.HoverMinimumMs,
		InactivityThresholdMs:      cfg.Heuristics.InactivityThresholdMs,
		EstimatedParagraphHeightPx: cfg.Heuristics.EstimatedParagraphHeightPx,
	}, nil)

	runner := pipeline.NewKafkaRunner(cfg.Kafka, processor)
	defer runner.Close()

	go runner.Start(ctx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down processor...")
	cancel()
	log.Info().Msg("Processor stopped")
}
