package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/schemes"
	"golang.org/x/crypto/hkdf"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
)

// SessionKeySize is the AES-256 key length.
const SessionKeySize = 32

const (
	sessionKeyInfo  = "raidware-session-key"
	confirmationTag = "raidware-key-confirm"
)

// DefaultKEMScheme is the KEM used when none is configured.
const DefaultKEMScheme = "MLKEM768"

// LookupScheme resolves a KEM scheme by name.
func LookupScheme(name string) (kem.Scheme, error) {
	s := schemes.ByName(name)
	if s == nil {
		return nil, fmt.Errorf("unknown KEM scheme %q", name)
	}
	return s, nil
}

// KeyExchange runs the gateway side of the ephemeral KEM. Private keys are
// parked in the cache between challenge and response and never reused.
type KeyExchange struct {
	scheme kem.Scheme
	cache  cache.Cache
	ttl    time.Duration
}

// NewKeyExchange creates a key exchange for the named scheme.
func NewKeyExchange(schemeName string, c cache.Cache, ttl time.Duration) (*KeyExchange, error) {
	s, err := LookupScheme(schemeName)
	if err != nil {
		return nil, err
	}
	return &KeyExchange{scheme: s, cache: c, ttl: ttl}, nil
}

// Scheme returns the KEM scheme in use.
func (k *KeyExchange) Scheme() kem.Scheme { return k.scheme }

// GenerateEphemeralKeypair creates a keypair for one handshake, caches the
// private key under identityHash and returns the packed public key.
func (k *KeyExchange) GenerateEphemeralKeypair(ctx context.Context, identityHash string) ([]byte, error) {
	pub, priv, err := k.scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	if err := k.cache.Set(ctx, cache.KEMKey(identityHash), privBytes, k.ttl); err != nil {
		return nil, fmt.Errorf("%w: store private key: %v", ErrUnknownDevice, err)
	}
	return pubBytes, nil
}

// Decapsulate recovers the session key from a device ciphertext. The cached
// private key is removed before use, so a second call always fails. An
// unreachable cache reports ErrUnknownDevice.
func (k *KeyExchange) Decapsulate(ctx context.Context, identityHash string, ciphertext []byte) ([]byte, error) {
	privBytes, err := k.cache.GetDel(ctx, cache.KEMKey(identityHash))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("%w: no pending key", ErrDecapsulation)
		}
		return nil, fmt.Errorf("%w: load private key: %v", ErrUnknownDevice, err)
	}
	if len(ciphertext) != k.scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrDecapsulation, len(ciphertext))
	}
	priv, err := k.scheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapsulation, err)
	}
	shared, err := k.scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapsulation, err)
	}
	return DeriveSessionKey(shared)
}

// Discard drops any pending private key for identityHash.
func (k *KeyExchange) Discard(ctx context.Context, identityHash string) error {
	return k.cache.Del(ctx, cache.KEMKey(identityHash))
}

// Encapsulate is the device side of the exchange: it returns the ciphertext
// to send and the session key it commits to.
func Encapsulate(scheme kem.Scheme, publicKey []byte) (ciphertext, sessionKey []byte, err error) {
	pub, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	ct, shared, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulate: %w", err)
	}
	key, err := DeriveSessionKey(shared)
	if err != nil {
		return nil, nil, err
	}
	return ct, key, nil
}

// DeriveSessionKey turns a KEM shared secret into an AES-256 key. 32-byte
// secrets are used as is so existing firmware interoperates; other sizes
// go through HKDF-SHA-256.
func DeriveSessionKey(shared []byte) ([]byte, error) {
	if len(shared) == SessionKeySize {
		key := make([]byte, SessionKeySize)
		copy(key, shared)
		return key, nil
	}
	key := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, shared, nil, []byte(sessionKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// ConfirmationTag proves possession of sessionKey for a given challenge.
func ConfirmationTag(sessionKey []byte, nonce string) string {
	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(confirmationTag))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyConfirmation checks a device's key confirmation. An empty tag is
// accepted only when required is false.
func VerifyConfirmation(sessionKey []byte, nonce, tag string, required bool) error {
	if tag == "" {
		if required {
			return fmt.Errorf("%w: missing key confirmation", ErrDecapsulation)
		}
		return nil
	}
	got, err := hex.DecodeString(tag)
	if err != nil {
		return fmt.Errorf("%w: malformed key confirmation", ErrDecapsulation)
	}
	want, _ := hex.DecodeString(ConfirmationTag(sessionKey, nonce))
	if !hmac.Equal(got, want) {
		return fmt.Errorf("%w: key confirmation mismatch", ErrDecapsulation)
	}
	return nil
}
