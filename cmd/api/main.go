package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"paperflow/internal/api"
	"paperflow/internal/app"
	"paperflow/internal/config"
	"paperflow/internal/logging"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "paperflow-api"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer c.Close()

	var wc api.WorkflowClient
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Warn().Err(err).Str("temporal", cfg.TemporalAddress).Msg("temporal unavailable, ingest endpoints disabled")
	} else {
		defer tc.Close()
		wc = tc
	}

	h := api.NewServer(cfg, c.Search, c.Backend, wc, c.Registry, log)
	log.Info().Str("addr", cfg.APIAddr).Str("storage", cfg.StorageBackend).Str("embed_providers", cfg.EmbedProviders).Msg("paperflow api listening")
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Error().Err(err).Msg("api stopped")
		c.Close()
		os.Exit(1)
	}
}
