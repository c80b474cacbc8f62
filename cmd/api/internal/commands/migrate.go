package commands

import (
	"context"
	"errors"

	"brandlift/api/internal/config"
	"brandlift/api/internal/logger"
	"brandlift/api/internal/store"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Dev || globals.Debug)
	if !cfg.UsesPostgres() {
		return errors.New("DATABASE_URL is required to run migrations")
	}
	pool, err := openPool(ctx, cfg, "brandlift-migrate")
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := store.ApplyMigrations(ctx, pool, log); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}
