package main

import (
	"context"
	"time"

	"paperflow/internal/activities"
	"paperflow/internal/app"
	"paperflow/internal/config"
	"paperflow/internal/logging"
	"paperflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "paperflow-worker"})

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal().Err(err).Msg("temporal dial failed")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	container, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer container.Close()
	if _, err := container.Setup(ctx); err != nil {
		log.Fatal().Err(err).Msg("index setup failed")
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(container))

	log.Info().Str("temporal", cfg.TemporalAddress).Str("queue", cfg.TemporalTaskQueue).Str("storage", cfg.StorageBackend).Msg("paperflow worker listening")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
}
