package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/security"
	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

func newTestAdmin(t *testing.T) (*admin, *store.SQLiteStore, *bytes.Buffer) {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	out := &bytes.Buffer{}
	return &admin{db: db, out: out}, db, out
}

func TestAdminAPIKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	a, db, out := newTestAdmin(t)

	require.NoError(t, a.listAPIKeys(ctx))
	require.Contains(t, out.String(), "no API keys")

	out.Reset()
	require.NoError(t, a.createAPIKey(ctx, "ops"))
	var plaintext string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "rw_") {
			plaintext = line
		}
	}
	require.NotEmpty(t, plaintext)

	k, err := db.VerifyAPIKey(ctx, security.HashAPIKey(plaintext))
	require.NoError(t, err)
	require.NotNil(t, k)

	out.Reset()
	require.NoError(t, a.listAPIKeys(ctx))
	require.Contains(t, out.String(), k.ID)
	require.Contains(t, out.String(), "ops")
	require.NotContains(t, out.String(), plaintext)

	require.NoError(t, a.revokeAPIKey(ctx, k.ID))
	k, err = db.VerifyAPIKey(ctx, security.HashAPIKey(plaintext))
	require.NoError(t, err)
	require.Nil(t, k)

	require.Error(t, a.revokeAPIKey(ctx, "missing"))
}

func TestAdminSeedDevice(t *testing.T) {
	ctx := context.Background()
	a, db, out := newTestAdmin(t)

	require.Error(t, a.seedDevice(ctx, "aa:bb:cc:dd:ee:ff", ""))

	require.NoError(t, a.seedDevice(ctx, "aa:bb:cc:dd:ee:ff", "s3cr3t"))
	require.Contains(t, out.String(), "AA:BB:CC:DD:EE:FF provisioned")
	first, err := db.GetDevice(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Equal(t, security.IdentityHash("AA:BB:CC:DD:EE:FF"), first.IdentityHash)

	out.Reset()
	require.NoError(t, a.seedDevice(ctx, "AA:BB:CC:DD:EE:FF", "rotated"))
	require.Contains(t, out.String(), "secret rotated")
	got, err := db.GetDevice(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Equal(t, "rotated", got.SharedSecret)
	require.Equal(t, first.CreatedAt, got.CreatedAt)

	require.NoError(t, a.removeDevice(ctx, "aa:bb:cc:dd:ee:ff"))
	got, err = db.GetDevice(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Error(t, a.removeDevice(ctx, "aa:bb:cc:dd:ee:ff"))
}
