// Package cache defines the fast shared cache used for credentials,
// handshake material, presence and session keys.
//
// Every record that refers to a device is keyed by the identity hash,
// never by the raw identity. Two implementations are provided: Redis for
// deployments and an in-process Memory cache for tests and single-node
// development.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key is absent or expired.
	ErrMiss = errors.New("cache: miss")

	// ErrUnavailable wraps connectivity failures to the backing service.
	ErrUnavailable = errors.New("cache: unavailable")
)

// Cache is the set of single-key atomic operations the gateway relies on.
// A zero ttl means the entry never expires.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// GetDel atomically reads and removes key.
	GetDel(ctx context.Context, key string) ([]byte, error)

	Del(ctx context.Context, keys ...string) error

	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Key prefixes.
const (
	PrefixCredential = "cred:"
	PrefixNonce      = "nonce:"
	PrefixNonceUsed  = "nonce-used:"
	PrefixKEM        = "kem:"
	PrefixPresence   = "presence:"
	PrefixSessionKey = "sessionkey:"
	PrefixRoute      = "route:"

	// FallbackSecretKey holds the org-wide fallback shared secret.
	FallbackSecretKey = "org:defaultSecret"
)

func CredentialKey(identityHash string) string { return PrefixCredential + identityHash }
func NonceKey(identityHash string) string      { return PrefixNonce + identityHash }
func KEMKey(identityHash string) string        { return PrefixKEM + identityHash }
func PresenceKey(identityHash string) string   { return PrefixPresence + identityHash }
func SessionKeyKey(identityHash string) string { return PrefixSessionKey + identityHash }
func RouteKey(identityHash string) string      { return PrefixRoute + identityHash }

// NonceUsedKey marks a nonce as consumed for one identity.
func NonceUsedKey(identityHash, nonce string) string {
	return PrefixNonceUsed + identityHash + ":" + nonce
}
