package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
)

const (
	testIdentity = "AA:BB:CC:DD:EE:FF"
	testSecret   = "s3cr3t"
)

func newTestAuth(t *testing.T) (*Authenticator, *cache.Memory, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	c := cache.NewMemory()
	c.SetClock(func() time.Time { return now })
	return NewAuthenticator(c, 30*time.Second, zerolog.Nop()), c, &now
}

func provision(t *testing.T, c cache.Cache, identity, secret string) {
	t.Helper()
	hash := IdentityHash(identity)
	require.NoError(t, cache.SetJSON(context.Background(), c, cache.CredentialKey(hash),
		cache.Credential{IdentityHash: hash, SharedSecret: secret}, time.Hour))
}

func TestSignMatchesReferenceHMAC(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("n1" + testIdentity))
	want := hex.EncodeToString(mac.Sum(nil))

	require.Equal(t, want, Sign(testSecret, "n1", testIdentity))
	require.Equal(t, want, Sign(testSecret, "n1", " aa:bb:cc:dd:ee:ff "))
}

func TestIdentityHash(t *testing.T) {
	require.Equal(t, IdentityHash(testIdentity), IdentityHash("aa:bb:cc:dd:ee:ff\n"))
	require.Len(t, IdentityHash(testIdentity), 64)
	require.NotEqual(t, IdentityHash(testIdentity), IdentityHash("AA-BB-CC-DD-EE-FF"))
	require.Equal(t, IdentityHash(testIdentity)[:12], ShortHash(IdentityHash(testIdentity)))
}

func TestVerifySuccess(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)
	hash := IdentityHash(testIdentity)

	nonce, err := a.IssueChallenge(ctx, hash)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize*2)

	trust, err := a.Verify(ctx, testIdentity, nonce, Sign(testSecret, nonce, testIdentity))
	require.NoError(t, err)
	require.Equal(t, TrustDevice, trust)

	_, err = c.Get(ctx, cache.NonceKey(hash))
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestVerifyReplay(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)
	hash := IdentityHash(testIdentity)

	nonce, err := a.IssueChallenge(ctx, hash)
	require.NoError(t, err)
	sig := Sign(testSecret, nonce, testIdentity)

	_, err = a.Verify(ctx, testIdentity, nonce, sig)
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, nonce, sig)
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyRejectsReissuedUsedNonce(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)
	hash := IdentityHash(testIdentity)

	nonce, err := a.IssueChallenge(ctx, hash)
	require.NoError(t, err)
	sig := Sign(testSecret, nonce, testIdentity)
	_, err = a.Verify(ctx, testIdentity, nonce, sig)
	require.NoError(t, err)

	// Put the consumed nonce back as if an attacker could write the record.
	require.NoError(t, c.Set(ctx, cache.NonceKey(hash), []byte(nonce), time.Minute))
	_, err = a.Verify(ctx, testIdentity, nonce, sig)
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyExpiredNonce(t *testing.T) {
	ctx := context.Background()
	a, c, now := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	*now = now.Add(31 * time.Second)
	_, err = a.Verify(ctx, testIdentity, nonce, Sign(testSecret, nonce, testIdentity))
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyWrongNonce(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)

	_, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, "00112233", Sign(testSecret, "00112233", testIdentity))
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifySignatureMismatchConsumesNonce(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, nonce, Sign("wrong", nonce, testIdentity))
	require.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = a.Verify(ctx, testIdentity, nonce, Sign(testSecret, nonce, testIdentity))
	require.ErrorIs(t, err, ErrReplay)
}

func TestVerifyMalformedSignature(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, nonce, "not-hex")
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyUnknownDevice(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAuth(t)

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, nonce, Sign(testSecret, nonce, testIdentity))
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestVerifyFallbackSecret(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	require.NoError(t, c.Set(ctx, cache.FallbackSecretKey, []byte("org-secret"), 0))

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	trust, err := a.Verify(ctx, testIdentity, nonce, Sign("org-secret", nonce, testIdentity))
	require.NoError(t, err)
	require.Equal(t, TrustFallback, trust)
	require.Equal(t, "fallback", trust.String())
}

func TestVerifyPrefersDeviceSecretOverFallback(t *testing.T) {
	ctx := context.Background()
	a, c, _ := newTestAuth(t)
	provision(t, c, testIdentity, testSecret)
	require.NoError(t, c.Set(ctx, cache.FallbackSecretKey, []byte("org-secret"), 0))

	nonce, err := a.IssueChallenge(ctx, IdentityHash(testIdentity))
	require.NoError(t, err)

	_, err = a.Verify(ctx, testIdentity, nonce, Sign("org-secret", nonce, testIdentity))
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

// flakyCache fails the operations named in failing with ErrUnavailable.
type flakyCache struct {
	cache.Cache
	failing map[string]bool
}

func (f *flakyCache) err(op string) error {
	if f.failing[op] {
		return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
	}
	return nil
}

func (f *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.err("set"); err != nil {
		return err
	}
	return f.Cache.Set(ctx, key, value, ttl)
}

func (f *flakyCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := f.err("setnx"); err != nil {
		return false, err
	}
	return f.Cache.SetNX(ctx, key, value, ttl)
}

func (f *flakyCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	if err := f.err("getdel"); err != nil {
		return nil, err
	}
	return f.Cache.GetDel(ctx, key)
}

func TestCacheOutageFailsAsUnknownDevice(t *testing.T) {
	ctx := context.Background()
	hash := IdentityHash(testIdentity)

	for _, op := range []string{"getdel", "setnx"} {
		t.Run(op, func(t *testing.T) {
			mem := cache.NewMemory()
			provision(t, mem, testIdentity, testSecret)
			fc := &flakyCache{Cache: mem, failing: map[string]bool{}}
			a := NewAuthenticator(fc, 30*time.Second, zerolog.Nop())

			nonce, err := a.IssueChallenge(ctx, hash)
			require.NoError(t, err)

			fc.failing[op] = true
			_, err = a.Verify(ctx, testIdentity, nonce, Sign(testSecret, nonce, testIdentity))
			require.ErrorIs(t, err, ErrUnknownDevice)
			require.NotErrorIs(t, err, ErrReplay)
			require.Equal(t, ReasonUnknownDevice, Reason(err))
		})
	}

	t.Run("issue", func(t *testing.T) {
		fc := &flakyCache{Cache: cache.NewMemory(), failing: map[string]bool{"set": true}}
		_, err := NewAuthenticator(fc, 30*time.Second, zerolog.Nop()).IssueChallenge(ctx, hash)
		require.Equal(t, ReasonUnknownDevice, Reason(err))
	})
}
