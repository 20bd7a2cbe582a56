package credsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

type fakeSource struct {
	creds []*store.DeviceCredential
	err   error
	calls int
}

func (f *fakeSource) ListDeviceCredentials(context.Context) ([]*store.DeviceCredential, error) {
	f.calls++
	return f.creds, f.err
}

func TestSyncOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c := cache.NewMemory()
	c.SetClock(func() time.Time { return now })

	src := &fakeSource{creds: []*store.DeviceCredential{
		{Identity: "AA:BB:CC:DD:EE:FF", IdentityHash: security.IdentityHash("AA:BB:CC:DD:EE:FF"), SharedSecret: "s3cr3t"},
		{Identity: "11:22:33:44:55:66", SharedSecret: "other"},
	}}
	s := New(src, c, time.Hour, 4*time.Hour, zerolog.Nop())

	n, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	first, err := c.Keys(ctx, cache.PrefixCredential)
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	n, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	second, err := c.Keys(ctx, cache.PrefixCredential)
	require.NoError(t, err)
	require.ElementsMatch(t, first, second)

	// The second run refreshed the TTL, so entries outlive the first run's expiry.
	now = now.Add(2 * time.Hour)
	var cred cache.Credential
	require.NoError(t, cache.GetJSON(ctx, c, cache.CredentialKey(security.IdentityHash("11:22:33:44:55:66")), &cred))
	require.Equal(t, "other", cred.SharedSecret)
	require.Equal(t, security.IdentityHash("11:22:33:44:55:66"), cred.IdentityHash)
}

func TestSyncOnceSourceError(t *testing.T) {
	c := cache.NewMemory()
	s := New(&fakeSource{err: errors.New("db locked")}, c, time.Hour, 4*time.Hour, zerolog.Nop())

	n, err := s.SyncOnce(context.Background())
	require.Error(t, err)
	require.Zero(t, n)
	require.Zero(t, c.Len())
}

func TestRunSyncsAtStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := cache.NewMemory()
	src := &fakeSource{creds: []*store.DeviceCredential{{Identity: "AA:BB:CC:DD:EE:FF", SharedSecret: "s3cr3t"}}}
	s := New(src, c, time.Hour, 4*time.Hour, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestSeedFallbackSecret(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	require.NoError(t, SeedFallbackSecret(ctx, c, "org-secret"))
	v, err := c.Get(ctx, cache.FallbackSecretKey)
	require.NoError(t, err)
	require.Equal(t, "org-secret", string(v))

	require.NoError(t, SeedFallbackSecret(ctx, c, ""))
	_, err = c.Get(ctx, cache.FallbackSecretKey)
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestSyncOnceKeysByCanonicalIdentity(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	raw := sha256.Sum256([]byte("aa:bb:cc:dd:ee:ff"))
	src := &fakeSource{creds: []*store.DeviceCredential{
		{Identity: "aa:bb:cc:dd:ee:ff", IdentityHash: hex.EncodeToString(raw[:]), SharedSecret: "s3cr3t"},
	}}

	n, err := New(src, c, time.Hour, 4*time.Hour, zerolog.Nop()).SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	auth := security.NewAuthenticator(c, 30*time.Second, zerolog.Nop())
	nonce, err := auth.IssueChallenge(ctx, security.IdentityHash("AA:BB:CC:DD:EE:FF"))
	require.NoError(t, err)
	trust, err := auth.Verify(ctx, "AA:BB:CC:DD:EE:FF", nonce, security.Sign("s3cr3t", nonce, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, err)
	require.Equal(t, security.TrustDevice, trust)
}
