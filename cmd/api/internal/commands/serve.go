package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"brandlift/api/internal/app"
	"brandlift/api/internal/config"
	"brandlift/api/internal/email"
	"brandlift/api/internal/export"
	"brandlift/api/internal/gitrepo"
	"brandlift/api/internal/logger"
	"brandlift/api/internal/search"
	"brandlift/api/internal/session"
	"brandlift/api/internal/telemetry"
)

type ServeCmd struct {
	Addr        string `help:"Listen address, overrides API_ADDR."`
	AutoMigrate bool   `help:"Apply database migrations on startup." default:"true" negatable:""`
}

func (c *ServeCmd) Run(globals *Globals) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}
	log := logger.Setup(cfg.Dev || globals.Debug)
	zlog.Logger = log
	log.Info().Str("version", globals.Version).Bool("dev", cfg.Dev).Msg("starting brandlift api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		shutdown, err := telemetry.InitMetrics(ctx, "brandlift-api", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("metrics disabled, exporter setup failed")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("flush metrics")
				}
			}()
		}
	}
	metrics := telemetry.NewMetrics(otel.GetMeterProvider())

	dataStore, closeStore, err := openStore(ctx, cfg, c.AutoMigrate, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var revocations session.Revocations
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisStore.Close()
		revocations = redisStore
		log.Info().Msg("token revocations stored in redis")
	} else {
		revocations = session.NewMemoryStore()
	}

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		backend = meili
	}
	searchService := search.NewService(backend, search.NewStoreSearch(dataStore), log)
	if backend != nil {
		go searchService.Reindex(ctx, dataStore)
	}

	var notifier *email.Notifier
	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		notifier = email.NewNotifier(mail, cfg.ReviewerEmails, cfg.WatcherEmails, cfg.AppBaseURL, log)
	} else {
		log.Info().Msg("SMTP not configured, workflow emails disabled")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create revisions dir: %w", err)
	}

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Search:      searchService,
		Notifier:    notifier,
		Revisions:   gitrepo.New(cfg.ReposDir),
		Exporter:    export.NewService(),
		Revocations: revocations,
		Metrics:     metrics,
		Log:         log,
	})

	server := configureHTTPServer(cfg.Addr, app.NewHTTPServer(service, cfg.CORSOrigins, log).Handler())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
