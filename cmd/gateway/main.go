// Command gateway runs the Raidware device gateway: it authenticates field
// devices over WebSocket, tracks their presence and relays dashboard
// commands to them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MuhammadArhumDev/Raidware/internal/config"
	"github.com/MuhammadArhumDev/Raidware/internal/version"
)

func main() {
	configPath := flag.String("config", "raidware.yaml", "Path to configuration file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	cacheDriver := flag.String("cache", "", "Cache driver: redis or memory (overrides config)")
	redisAddr := flag.String("redis-addr", "", "Redis address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	createAPIKey := flag.String("create-api-key", "", "Create a dashboard API key with this name and exit")
	listAPIKeys := flag.Bool("list-api-keys", false, "List dashboard API keys and exit")
	revokeAPIKey := flag.String("revoke-api-key", "", "Revoke the API key with this ID and exit")
	seedDevice := flag.String("seed-device", "", "Provision a device credential for this MAC and exit (use with -secret)")
	secret := flag.String("secret", "", "Shared secret for -seed-device")
	removeDevice := flag.String("remove-device", "", "Delete the device credential for this MAC and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *cacheDriver != "" {
		cfg.Cache.Driver = *cacheDriver
	}
	if *redisAddr != "" {
		cfg.Cache.Addr = *redisAddr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var task func(context.Context, *admin) error
	switch {
	case *createAPIKey != "":
		task = func(ctx context.Context, a *admin) error { return a.createAPIKey(ctx, *createAPIKey) }
	case *listAPIKeys:
		task = func(ctx context.Context, a *admin) error { return a.listAPIKeys(ctx) }
	case *revokeAPIKey != "":
		task = func(ctx context.Context, a *admin) error { return a.revokeAPIKey(ctx, *revokeAPIKey) }
	case *seedDevice != "":
		task = func(ctx context.Context, a *admin) error { return a.seedDevice(ctx, *seedDevice, *secret) }
	case *removeDevice != "":
		task = func(ctx context.Context, a *admin) error { return a.removeDevice(ctx, *removeDevice) }
	}
	if task != nil {
		if err := withAdmin(cfg, os.Stdout, task); err != nil {
			log.Fatal().Err(err).Msg("maintenance command failed")
		}
		return
	}

	log.Info().
		Str("version", version.String()).
		Str("config", *configPath).
		Str("listen", cfg.Server.Listen).
		Str("cache", cfg.Cache.Driver).
		Msg("Raidware gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
	log.Info().Msg("gateway shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
