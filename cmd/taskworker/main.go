// The taskworker binary consumes on-demand processing jobs from Redis.
// Register requests enqueue a job per video; this daemon drains the queue.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

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
	if err := prober.Available(); err != nil {
		log.Fatalf("ffprobe unavailable: %v", err)
	}
	if err := transcoder.Available(); err != nil {
		log.Fatalf("ffmpeg unavailable: %v", err)
	}
	orchestrator := pipeline.NewOrchestrator(repo, store, prober, transcoder,
		pipeline.NewScratchSpace(cfg.ScratchRoot),
		media.Options{
			Qualities:         cfg.Qualities,
			SegmentDuration:   cfg.SegmentDuration,
			GenerateThumbnail: cfg.GenerateThumbnail,
		})

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	mux := worker.NewProcessor(orchestrator).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("taskworker stopped: %v", err)
		os.Exit(1)
	}
}
