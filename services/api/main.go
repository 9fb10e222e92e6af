package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vayuaq/vayu/internal/config"
	"github.com/vayuaq/vayu/internal/dataset"
	"github.com/vayuaq/vayu/internal/httpapi"
	"github.com/vayuaq/vayu/internal/state"
	"github.com/vayuaq/vayu/internal/validate"
)

func main() {
	log := newLogger()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var datasets dataset.Store
	if cfg.DatabaseURL != "" {
		pg, err := dataset.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		datasets = pg
	} else {
		fs, err := dataset.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}
		datasets = fs
	}

	marks := state.Open(filepath.Join(cfg.DataDir, "watermarks.json"), log)

	rules, err := validate.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.RulesPath).Msg("validation rules unavailable, using defaults")
		rules = validate.DefaultRules()
	}

	server := httpapi.New(cfg.ListenAddr(), cfg.EntityIDs, datasets, marks, validate.New(rules))
	log.Info().Str("addr", cfg.ListenAddr()).Msg("api listening")
	return server.Run(ctx)
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stderr).With().Timestamp().Str("component", "api").Logger()
}
