// Package credsync copies provisioned device credentials from the durable
// store into the fast cache so the authenticator never touches the database
// on the handshake path.
package credsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

// CredentialSource is the bulk read the syncer needs from the store.
type CredentialSource interface {
	ListDeviceCredentials(ctx context.Context) ([]*store.DeviceCredential, error)
}

// Syncer periodically mirrors device credentials into the cache.
type Syncer struct {
	src      CredentialSource
	cache    cache.Cache
	interval time.Duration
	ttl      time.Duration
	log      zerolog.Logger
}

// New creates a syncer. ttl should exceed interval so entries survive
// until the next refresh.
func New(src CredentialSource, c cache.Cache, interval, ttl time.Duration, log zerolog.Logger) *Syncer {
	return &Syncer{
		src:      src,
		cache:    c,
		interval: interval,
		ttl:      ttl,
		log:      log.With().Str("component", "credsync").Logger(),
	}
}

// SyncOnce writes every credential to the cache and returns how many were
// written. A failure on one device does not stop the others.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	creds, err := s.src.ListDeviceCredentials(ctx)
	if err != nil {
		metrics.CredentialSyncs.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list device credentials: %w", err)
	}

	written := 0
	var firstErr error
	for _, d := range creds {
		hash := security.IdentityHash(d.Identity)
		if d.IdentityHash != "" && d.IdentityHash != hash {
			s.log.Warn().Str("identity", d.Identity).Str("stored", security.ShortHash(d.IdentityHash)).
				Msg("stored identity hash does not match canonical identity, using canonical")
		}
		rec := cache.Credential{IdentityHash: hash, SharedSecret: d.SharedSecret}
		if err := cache.SetJSON(ctx, s.cache, cache.CredentialKey(hash), rec, s.ttl); err != nil {
			s.log.Warn().Err(err).Str("identity", d.Identity).Msg("cache credential")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}

	if firstErr != nil {
		metrics.CredentialSyncs.WithLabelValues("partial").Inc()
		return written, fmt.Errorf("sync credentials: %w", firstErr)
	}
	metrics.CredentialSyncs.WithLabelValues("ok").Inc()
	return written, nil
}

// Run syncs immediately and then on every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	n, err := s.SyncOnce(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("written", n).Msg("credential sync failed")
		return
	}
	s.log.Info().Int("devices", n).Msg("credentials synced")
}

// SeedFallbackSecret stores the org-wide fallback secret. An empty secret
// removes any previously seeded value.
func SeedFallbackSecret(ctx context.Context, c cache.Cache, secret string) error {
	if secret == "" {
		return c.Del(ctx, cache.FallbackSecretKey)
	}
	return c.Set(ctx, cache.FallbackSecretKey, []byte(secret), 0)
}
