// Command devicesim emulates a field device: it authenticates to the
// gateway, sends encrypted pulses and prints relayed messages.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MuhammadArhumDev/Raidware/internal/version"
)

// reconnectDelay is the pause between connection attempts.
const reconnectDelay = 5 * time.Second

func main() {
	gatewayURL := flag.String("gateway", "ws://localhost:8080/ws/device", "Gateway device channel URL")
	identity := flag.String("mac", "AA:BB:CC:DD:EE:FF", "Device MAC address")
	secret := flag.String("secret", "", "Pre-shared device secret")
	pulseEvery := flag.Duration("pulse", 5*time.Second, "Pulse interval")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	legacy := flag.Bool("legacy", false, "Omit key confirmation like older firmware")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *secret == "" {
		log.Fatal().Msg("-secret is required")
	}

	log.Info().Str("version", version.Version).Str("gateway", *gatewayURL).Str("mac", *identity).Msg("device simulator starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		url:        *gatewayURL,
		identity:   *identity,
		secret:     *secret,
		pulseEvery: *pulseEvery,
		legacy:     *legacy,
	}
	if *insecure {
		sim.tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	for {
		if err := sim.run(ctx); err != nil {
			log.Warn().Err(err).Msg("session ended")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
			log.Info().Dur("delay", reconnectDelay).Msg("reconnecting")
		}
	}
}
