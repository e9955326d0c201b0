package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tracksync/go/internal/config"
	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
)

func main() {
	fragment := flag.String("room", "", "room to join at startup, as a room id or #v1:<roomId> fragment")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load .env file if it exists
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)

	startup := cfg.StartupFragment()
	if *fragment != "" {
		startup = *fragment
		if _, ok := roomstore.ParseFragment(startup); !ok {
			startup = roomstore.FormatFragment(startup)
		}
	}

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer func() {
		if err := services.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close room store")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := services.Engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	go func() {
		if err := services.Viewer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("viewer service failed")
		}
	}()

	resume(ctx, services, startup)

	viewerCfg := cfg.ViewerServiceConfig()
	if err := serve(ctx, services.Viewer.NewHTTPServer(), viewerCfg.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
		stop()
	}

	log.Info().Msg("shutting down")
	select {
	case <-services.Engine.Done():
	case <-time.After(viewerCfg.ShutdownTimeout):
		log.Warn().Msg("engine did not stop in time")
	}
	log.Info().Msg("tracksync shutdown complete")
}

// resume joins the startup room: the fragment wins over the stored room id
func resume(ctx context.Context, services *Services, fragment string) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roomID, err := roomstore.StartupRoom(loadCtx, services.RoomStore, fragment)
	if err != nil {
		log.Error().Err(err).Msg("failed to load stored room")
		return
	}
	if roomID == "" {
		log.Info().Msg("no room to resume, waiting for a connect request")
		return
	}
	if err := services.Engine.Connect(roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to resume room")
		return
	}
	log.Info().Str("room_id", roomID).Msg("resuming room")
}
