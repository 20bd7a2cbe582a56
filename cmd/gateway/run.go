package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/config"
	"github.com/MuhammadArhumDev/Raidware/internal/credsync"
	"github.com/MuhammadArhumDev/Raidware/internal/gateway"
	"github.com/MuhammadArhumDev/Raidware/internal/registry"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

const shutdownTimeout = 10 * time.Second

// run wires the gateway and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close() //nolint:errcheck

	c, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	if err := credsync.SeedFallbackSecret(ctx, c, cfg.Auth.FallbackSecret); err != nil {
		return fmt.Errorf("seed fallback secret: %w", err)
	}
	for _, w := range cfg.SecurityWarnings() {
		logger.Warn().Msg(w)
	}

	syncer := credsync.New(db, c, cfg.Sync.Interval, cfg.Auth.CredentialTTL, logger)
	go syncer.Run(ctx)

	kex, err := security.NewKeyExchange(cfg.Auth.KEMScheme, c, cfg.Auth.KEMKeyTTL)
	if err != nil {
		return err
	}
	hub := registry.NewHub(logger)
	reg := registry.New(c, hub, cfg.Auth.SessionKeyTTL, logger)

	gw := gateway.New(gateway.Options{
		Cache:                  c,
		Auth:                   security.NewAuthenticator(c, cfg.Auth.NonceTTL, logger),
		KEX:                    kex,
		Registry:               reg,
		APIKeys:                db,
		Log:                    logger,
		HandshakeTimeout:       cfg.Gateway.HandshakeTimeout,
		WriteTimeout:           cfg.Gateway.WriteTimeout,
		MaxPulseFailures:       cfg.Gateway.MaxPulseFailures,
		RequireKeyConfirmation: cfg.Auth.RequireKeyConfirmation,
		DashboardBuffer:        cfg.Gateway.DashboardBuffer,
	})

	tlsResult, err := security.SetupTLS(security.TLSOptions{
		Mode:     cfg.Server.TLS.Mode,
		Dir:      cfg.Server.TLS.Dir,
		CertFile: cfg.Server.TLS.CertFile,
		KeyFile:  cfg.Server.TLS.KeyFile,
		Domains:  cfg.Server.TLS.Domains,
	})
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw.Handler(),
		TLSConfig:         tlsResult.Config,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if tlsResult.ACMEManager != nil {
		go func() {
			if err := http.ListenAndServe(":80", tlsResult.ACMEManager.HTTPHandler(nil)); err != nil {
				logger.Error().Err(err).Msg("acme challenge listener")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsResult.Config != nil {
			logger.Info().Str("addr", srv.Addr).Str("tls", cfg.Server.TLS.Mode).Msg("listening")
			err = srv.ListenAndServeTLS("", "")
		} else {
			logger.Warn().Str("addr", srv.Addr).Msg("listening without TLS")
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	gw.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "memory":
		return cache.NewMemory(), nil
	default:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := cache.NewRedis(dialCtx, cache.RedisOptions{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
		}
		return r, nil
	}
}
