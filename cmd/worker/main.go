// The worker binary runs one batch of video processing and exits. It is
// meant to be invoked periodically (cron, systemd timer) or by hand; the
// long-running on-demand consumer lives in cmd/taskworker.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vodworks/internal/config"
	"vodworks/internal/database"
	"vodworks/internal/media"
	"vodworks/internal/pipeline"
	"vodworks/internal/repository"
	"vodworks/internal/s3storage"
	"vodworks/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewVideoRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	prober := media.NewProber(cfg.FFprobePath)
	transcoder := media.NewFFmpegTranscoder(cfg.FFmpegPath)
	orchestrator := pipeline.NewOrchestrator(repo, store, prober, transcoder,
		pipeline.NewScratchSpace(cfg.ScratchRoot),
		media.Options{
			Qualities:         cfg.Qualities,
			SegmentDuration:   cfg.SegmentDuration,
			GenerateThumbnail: cfg.GenerateThumbnail,
		})

	batch := worker.NewBatch(repo, orchestrator, []worker.Tool{prober, transcoder}, cfg.BatchLimit, cfg.GroupSize)
	report, err := batch.Run(ctx)
	if err != nil {
		log.Printf("batch aborted: %v", err)
		if errors.Is(err, worker.ErrToolsUnavailable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	log.Printf("batch finished: %d total, %d ok, %d failed, %d skipped",
		report.Total, report.Succeeded, report.Failed, report.Skipped)
}
