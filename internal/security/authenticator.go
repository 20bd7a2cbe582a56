package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
)

// NonceSize is the number of random bytes in a challenge nonce.
const NonceSize = 16

// Trust records which secret authenticated a device.
type Trust int

const (
	TrustNone Trust = iota
	// TrustDevice means the device's own provisioned secret matched.
	TrustDevice
	// TrustFallback means the org-wide default secret matched.
	TrustFallback
)

func (t Trust) String() string {
	switch t {
	case TrustDevice:
		return "device"
	case TrustFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Authenticator issues single-use challenges and verifies device signatures.
type Authenticator struct {
	cache    cache.Cache
	nonceTTL time.Duration
	log      zerolog.Logger
}

// NewAuthenticator creates an authenticator backed by c.
func NewAuthenticator(c cache.Cache, nonceTTL time.Duration, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		cache:    c,
		nonceTTL: nonceTTL,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// IssueChallenge stores a fresh nonce for identityHash, replacing any
// earlier one, and returns it hex encoded.
func (a *Authenticator) IssueChallenge(ctx context.Context, identityHash string) (string, error) {
	raw := make([]byte, NonceSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(raw)
	if err := a.cache.Set(ctx, cache.NonceKey(identityHash), []byte(nonce), a.nonceTTL); err != nil {
		return "", fmt.Errorf("%w: store nonce: %v", ErrUnknownDevice, err)
	}
	return nonce, nil
}

// Verify checks a challenge response. The issued nonce is consumed whether
// or not verification succeeds.
func (a *Authenticator) Verify(ctx context.Context, identity, nonce, signature string) (Trust, error) {
	identity = CanonicalIdentity(identity)
	hash := IdentityHash(identity)

	if err := a.consumeNonce(ctx, hash, nonce); err != nil {
		return TrustNone, err
	}

	secret, trust, err := a.resolveSecret(ctx, hash)
	if err != nil {
		return TrustNone, err
	}

	expected, err := hex.DecodeString(Sign(secret, nonce, identity))
	if err != nil {
		return TrustNone, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, got) {
		return TrustNone, ErrSignatureMismatch
	}

	if trust == TrustFallback {
		a.log.Warn().Str("identity", identity).Msg("device authenticated with fallback secret")
	}
	return trust, nil
}

// consumeNonce takes the issued nonce and marks it used. Absent, expired,
// mismatching and previously used nonces are all replays. An unreachable
// cache fails closed as an unknown device.
func (a *Authenticator) consumeNonce(ctx context.Context, hash, nonce string) error {
	issued, err := a.cache.GetDel(ctx, cache.NonceKey(hash))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return ErrReplay
		}
		a.log.Error().Err(err).Str("hash", ShortHash(hash)).Msg("nonce lookup failed")
		return fmt.Errorf("%w: %v", ErrUnknownDevice, err)
	}
	if nonce == "" || !hmac.Equal(issued, []byte(nonce)) {
		return ErrReplay
	}
	fresh, err := a.cache.SetNX(ctx, cache.NonceUsedKey(hash, nonce), []byte{1}, a.nonceTTL)
	if err != nil {
		a.log.Error().Err(err).Str("hash", ShortHash(hash)).Msg("nonce marker write failed")
		return fmt.Errorf("%w: %v", ErrUnknownDevice, err)
	}
	if !fresh {
		return ErrReplay
	}
	return nil
}

// resolveSecret prefers the device's cached credential and falls back to
// the org default. Cache errors fail closed.
func (a *Authenticator) resolveSecret(ctx context.Context, hash string) (string, Trust, error) {
	var cred cache.Credential
	err := cache.GetJSON(ctx, a.cache, cache.CredentialKey(hash), &cred)
	if err == nil && cred.SharedSecret != "" {
		return cred.SharedSecret, TrustDevice, nil
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		a.log.Error().Err(err).Str("hash", ShortHash(hash)).Msg("credential lookup failed")
		return "", TrustNone, ErrUnknownDevice
	}

	fallback, err := a.cache.Get(ctx, cache.FallbackSecretKey)
	if err != nil || len(fallback) == 0 {
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			a.log.Error().Err(err).Msg("fallback secret lookup failed")
		}
		return "", TrustNone, ErrUnknownDevice
	}
	return string(fallback), TrustFallback, nil
}

// Sign computes the hex HMAC-SHA-256 a device sends in its response.
func Sign(secret, nonce, identity string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce))
	mac.Write([]byte(CanonicalIdentity(identity)))
	return hex.EncodeToString(mac.Sum(nil))
}
