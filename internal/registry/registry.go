// Package registry tracks device presence in the shared cache and pushes
// presence changes to dashboards.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

// Registry owns the presence, session key and route records of each
// device. Every change is written to the cache before it is broadcast.
type Registry struct {
	cache      cache.Cache
	hub        *Hub
	sessionTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// New creates a registry that broadcasts through hub.
func New(c cache.Cache, hub *Hub, sessionTTL time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		cache:      c,
		hub:        hub,
		sessionTTL: sessionTTL,
		now:        time.Now,
		log:        log.With().Str("component", "registry").Logger(),
	}
}

// SetClock replaces the time source for lastSeen stamps.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Hub returns the broadcaster.
func (r *Registry) Hub() *Hub { return r.hub }

// MarkOnline records an authenticated device: presence, session key and
// route to the connection identified by handle. A newer connection for the
// same identity replaces the route of an older one.
func (r *Registry) MarkOnline(ctx context.Context, identityHash, identity, handle string, sessionKey []byte) error {
	p := cache.Presence{
		Identity:      identity,
		Online:        true,
		LastSeen:      r.now().UnixMilli(),
		RoutingHandle: handle,
	}
	if err := cache.SetJSON(ctx, r.cache, cache.PresenceKey(identityHash), p, 0); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	if err := r.cache.Set(ctx, cache.SessionKeyKey(identityHash), sessionKey, r.sessionTTL); err != nil {
		return fmt.Errorf("write session key: %w", err)
	}
	if err := r.cache.Set(ctx, cache.RouteKey(identityHash), []byte(handle), 0); err != nil {
		return fmt.Errorf("write route: %w", err)
	}
	r.hub.Broadcast(protocol.TypeUpdate, record(&p))
	return nil
}

// Touch refreshes lastSeen for an online device and broadcasts the update.
func (r *Registry) Touch(ctx context.Context, identityHash string) error {
	p, err := r.Lookup(ctx, identityHash)
	if err != nil {
		return err
	}
	p.Online = true
	p.LastSeen = r.now().UnixMilli()
	if err := cache.SetJSON(ctx, r.cache, cache.PresenceKey(identityHash), p, 0); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	r.hub.Broadcast(protocol.TypeUpdate, record(p))
	return nil
}

// MarkOffline clears the session of the connection identified by handle.
// It does nothing and reports false when the route already belongs to a
// newer connection.
func (r *Registry) MarkOffline(ctx context.Context, identityHash, handle string) (bool, error) {
	current, err := r.Route(ctx, identityHash)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return false, err
	}
	if current != handle {
		return false, nil
	}

	p, err := r.Lookup(ctx, identityHash)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			return false, err
		}
		p = &cache.Presence{}
	}
	p.Online = false
	p.LastSeen = r.now().UnixMilli()
	p.RoutingHandle = ""
	if err := cache.SetJSON(ctx, r.cache, cache.PresenceKey(identityHash), p, 0); err != nil {
		return false, fmt.Errorf("write presence: %w", err)
	}
	if err := r.cache.Del(ctx, cache.SessionKeyKey(identityHash), cache.RouteKey(identityHash)); err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	r.hub.Broadcast(protocol.TypeUpdate, record(p))
	return true, nil
}

// Lookup returns the presence record for identityHash.
func (r *Registry) Lookup(ctx context.Context, identityHash string) (*cache.Presence, error) {
	var p cache.Presence
	if err := cache.GetJSON(ctx, r.cache, cache.PresenceKey(identityHash), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Route returns the routing handle of the live connection for identityHash.
func (r *Registry) Route(ctx context.Context, identityHash string) (string, error) {
	b, err := r.cache.Get(ctx, cache.RouteKey(identityHash))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SessionKey returns the current session key for identityHash.
func (r *Registry) SessionKey(ctx context.Context, identityHash string) ([]byte, error) {
	return r.cache.Get(ctx, cache.SessionKeyKey(identityHash))
}

// Snapshot lists every known device ordered by identity.
func (r *Registry) Snapshot(ctx context.Context) ([]protocol.PresenceRecord, error) {
	keys, err := r.cache.Keys(ctx, cache.PrefixPresence)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	out := make([]protocol.PresenceRecord, 0, len(keys))
	for _, k := range keys {
		var p cache.Presence
		if err := cache.GetJSON(ctx, r.cache, k, &p); err != nil {
			if errors.Is(err, cache.ErrMiss) {
				continue
			}
			r.log.Warn().Err(err).Str("hash", security.ShortHash(strings.TrimPrefix(k, cache.PrefixPresence))).Msg("read presence")
			continue
		}
		out = append(out, record(&p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func record(p *cache.Presence) protocol.PresenceRecord {
	status := protocol.StatusOffline
	if p.Online {
		status = protocol.StatusOnline
	}
	return protocol.PresenceRecord{
		Identity: p.Identity,
		Status:   status,
		LastSeen: p.LastSeen,
	}
}
