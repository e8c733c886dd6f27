package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/client"
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080", "gateway websocket base URL")
	roomID := flag.String("room", "", "room id to join")
	probeInterval := flag.Duration("probe-interval", 0, "clock-sync probe interval (0 = default)")
	reportInterval := flag.Duration("report-interval", 5*time.Second, "position report interval")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()
	engine := client.NewSimEngine(clock)
	c := client.New(client.Config{
		ServerURL:     *serverURL,
		RoomID:        *roomID,
		ProbeInterval: *probeInterval,
	}, engine, clock)

	// Periodic position/offset report so a soak run is observable.
	go func() {
		ticker := time.NewTicker(*reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if est, ok := c.Estimate(); ok {
					log.Info().
						Int64("position_ms", engine.Position().Milliseconds()).
						Int64("offset_ms", est.Offset.Milliseconds()).
						Int64("rtt_ms", est.RoundTrip.Milliseconds()).
						Int("samples", est.Samples).
						Msg("listener status")
				} else {
					log.Info().Msg("listener status: clock not yet synchronized")
				}
			}
		}
	}()

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("listener disconnected")
	}
	log.Info().Msg("listener exited")
}
