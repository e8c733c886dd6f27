package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/bus"
	"github.com/unisonfm/unison/internal/dbconfig"
	"github.com/unisonfm/unison/internal/gateway"
	"github.com/unisonfm/unison/internal/room"
	"github.com/unisonfm/unison/internal/tracks"
	trackdb "github.com/unisonfm/unison/internal/tracks/db"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Track metadata store: Postgres when enabled, in-memory otherwise.
	var repo tracks.TracksRepository
	if cfg.Database.Enabled {
		dbCfg := dbconfig.NewConfigFromEnv()
		database, err := sql.Open("postgres", dbCfg.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		defer database.Close()
		if err := database.Ping(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		repo = tracks.NewRepository(trackdb.New(database), database)
		log.Info().Str("database", dbCfg.Database).Msg("track store: postgres")
	} else {
		repo = tracks.NewMemoryRepository()
		log.Info().Msg("track store: in-memory")
	}

	// Event bus, coordinator and gateway.
	clock := clockwork.NewRealClock()
	var coordinator *room.Coordinator
	var gw *gateway.Service

	if cfg.NATS.Enabled {
		jsConfig := bus.DefaultJetStreamConfig()
		jsConfig.URL = cfg.NATS.URL
		jsBus, err := bus.NewJetStreamBus(jsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect JetStream bus")
		}
		defer jsBus.Close()

		coordinator = room.NewCoordinator(jsBus, clock)
		gw = gateway.NewService(gateway.DefaultConfig(), coordinator)
		go func() {
			if err := jsBus.Consume(ctx, gw.HandleRoomEvent); err != nil {
				log.Error().Err(err).Msg("JetStream consumer failed")
			}
		}()
		log.Info().Str("url", cfg.NATS.URL).Msg("event bus: jetstream")
	} else {
		memBus := bus.NewMemoryBus()
		coordinator = room.NewCoordinator(memBus, clock)
		gw = gateway.NewService(gateway.DefaultConfig(), coordinator)
		memBus.Subscribe(gw.HandleRoomEvent)
		log.Info().Msg("event bus: in-process")
	}

	go gw.Start(ctx)

	tracksApp := tracks.NewApp(repo, cfg.Server.MediaDir, "/media", cfg.Tracks.KeepHistory)
	trackHandlers := tracks.NewHandlers(tracksApp, coordinator)

	srv := setupServer(cfg, gw, trackHandlers, cfg.Server.MediaDir)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("unison server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
