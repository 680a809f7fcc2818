package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/config"
	"github.com/eventqueue/agent/internal/credentials"
	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/fanout"
	"github.com/eventqueue/agent/internal/infrastructure/postgres"
	"github.com/eventqueue/agent/internal/origin"
	"github.com/eventqueue/agent/internal/pipeline"
	"github.com/eventqueue/agent/internal/stream"
	transporthttp "github.com/eventqueue/agent/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("origin", cfg.Origin.URL).Msg("starting eq-agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	store := postgres.New(pool)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// ── Wiring ────────────────────────────────────────────────────────────────
	hub := fanout.NewHub()
	creds := credentials.New(cfg.Agent.ConfigPath)
	originClient := origin.New(cfg.Origin.URL, creds)
	forwarder := pipeline.NewForwarder(store, hub)

	// ── Pipeline & Stream Ingestor ────────────────────────────────────────────
	// The ingestor only runs once the agent is provisioned. A clean close of
	// the origin stream surfaces as ErrStreamClosed and shuts the process
	// down gracefully; the supervisor (systemd, compose) restarts it.
	var sweeper transporthttp.Sweeper = noSweep{}
	if creds.Ready() {
		key, err := creds.PrivateKey()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load private key")
		}
		pipe := pipeline.New(store, originClient, forwarder, hub, key)
		sweeper = pipe
		ingestor := stream.New(cfg.Origin.URL, creds, pipe)

		go func() {
			err := ingestor.Run(ctx)
			switch {
			case errors.Is(err, domain.ErrStreamClosed):
				log.Warn().Msg("origin ended the event stream, shutting down")
				stop()
			case errors.Is(err, context.Canceled):
				// Normal shutdown path.
			default:
				log.Error().Err(err).Msg("ingestor stopped unexpectedly")
				stop()
			}
		}()
	} else {
		log.Warn().Str("config_path", cfg.Agent.ConfigPath).
			Msg("credentials or key material missing, ingestor not started")
	}

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(store, sweeper, forwarder, originClient, hub)
	router := transporthttp.NewRouter(handler)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("eq-agent stopped")
}

// noSweep serves the listing surface before the agent is provisioned: there
// are no origin credentials yet, so there is no backlog to reconcile.
type noSweep struct{}

func (noSweep) Reconcile(context.Context) error { return nil }
