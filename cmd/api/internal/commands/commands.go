package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"brandlift/api/internal/config"
	"brandlift/api/internal/store"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// PDF rendering runs inside the request.
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 16 * 1024,
	}
}

func openPool(ctx context.Context, cfg config.Config, applicationName string) (*pgxpool.Pool, error) {
	pool, err := store.NewPool(ctx, store.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: applicationName,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise. The close func is always non-nil.
func openStore(ctx context.Context, cfg config.Config, migrate bool, log zerolog.Logger) (store.Store, func(), error) {
	if !cfg.UsesPostgres() {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := openPool(ctx, cfg, "brandlift-api")
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := store.ApplyMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	log.Info().Int32("max_conns", cfg.DBMaxConns).Msg("connected to postgres")
	return store.NewPostgresStore(pool), pool.Close, nil
}
