package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"agora/api/internal/app"
	"agora/api/internal/config"
	"agora/api/internal/logging"
	"agora/api/internal/metrics"
	"agora/api/internal/slugcache"
	"agora/api/internal/store"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the configured addr",
			},
		},
		Action: serve,
	}
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, version := range applied {
		log.Info().Str("version", version).Msg("migration applied")
	}
	return db, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "agora"),
	)

	opts := []app.Option{
		app.WithLogger(log),
		app.WithMetrics(metrics.New(registry)),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := slugcache.NewRedisStore(cfg.RedisURL, cfg.SlugCacheTTL, cfg.SlugReservationTTL)
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, app.WithSlugCache(cache))
		log.Info().Msg("slug cache and reservations enabled")
	} else {
		log.Info().Msg("no redis_url configured; slug cache disabled")
	}

	dataStore := store.NewPostgresStore(db, store.AccessRules{AnonymousRead: cfg.AnonymousRead})
	service := app.New(cfg, dataStore, opts...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("agora API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("agora API stopped")
	return nil
}
