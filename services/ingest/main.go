package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vayuaq/vayu/internal/config"
	"github.com/vayuaq/vayu/internal/dataset"
	"github.com/vayuaq/vayu/internal/openaq"
	"github.com/vayuaq/vayu/internal/pipeline"
	"github.com/vayuaq/vayu/internal/state"
	"github.com/vayuaq/vayu/internal/validate"
)

func main() {
	log := newLogger()
	failed, err := run(log)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest failed")
	}
	if failed {
		os.Exit(1)
	}
}

func run(log zerolog.Logger) (failedEntities bool, err error) {
	cfg, err := config.Load()
	if err != nil {
		return false, err
	}
	if err := cfg.RequireEntities(); err != nil {
		return false, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	marks := state.Open(filepath.Join(cfg.DataDir, "watermarks.json"), log)
	if cfg.ResetState {
		log.Info().Msg("resetting watermark state, full history will be refetched")
		if err := marks.Reset(); err != nil {
			return false, err
		}
	}

	datasets, closeStore, err := openDatasetStore(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer closeStore()

	rules, err := validate.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.RulesPath).Msg("validation rules unavailable, using defaults")
		rules = validate.DefaultRules()
	}

	client := openaq.NewHTTPClient(
		cfg.BaseURL,
		cfg.APIKey,
		&http.Client{Timeout: cfg.RequestTimeout},
		cfg.PageLimit,
		cfg.PageDelay,
		log,
	)

	orch := pipeline.New(client, datasets, marks, validate.New(rules), log)
	orch.SetDryRun(cfg.DryRun)

	summary := orch.Run(ctx, cfg.EntityIDs)
	for _, e := range summary.Entities {
		if !e.Success {
			log.Error().Int64("entity", e.EntityID).Str("failed_at", string(e.FailedAt)).Str("cause", e.Error).Msg("entity failed this run")
		}
	}

	return summary.FailedEntities > 0, nil
}

func openDatasetStore(ctx context.Context, cfg config.Config) (dataset.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := dataset.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}

	fs, err := dataset.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "ingest").Logger()
	if os.Getenv("LOG_LEVEL") == "debug" {
		return log.Level(zerolog.DebugLevel)
	}
	return log.Level(zerolog.InfoLevel)
}
