package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/registry"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

const testIdentity = "AA:BB:CC:DD:EE:FF"

type recordingDispatcher struct {
	mu     sync.Mutex
	frames map[string][][]byte
	err    error
}

func (d *recordingDispatcher) Deliver(handle string, frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.frames == nil {
		d.frames = make(map[string][][]byte)
	}
	d.frames[handle] = append(d.frames[handle], frame)
	return nil
}

func newTestRelay(t *testing.T) (*Relay, *registry.Registry, *cache.Memory, *recordingDispatcher) {
	t.Helper()
	c := cache.NewMemory()
	reg := registry.New(c, registry.NewHub(zerolog.Nop()), time.Hour, zerolog.Nop())
	d := &recordingDispatcher{}
	return New(reg, d, zerolog.Nop()), reg, c, d
}

func snapshotCache(t *testing.T, c *cache.Memory) map[string]string {
	t.Helper()
	ctx := context.Background()
	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := c.Get(ctx, k)
		require.NoError(t, err)
		out[k] = string(v)
	}
	return out
}

func TestSendToOfflineDevice(t *testing.T) {
	r, _, c, d := newTestRelay(t)
	before := snapshotCache(t, c)

	res := r.SendToDevice(context.Background(), testIdentity, []byte("reboot"))
	require.Equal(t, Result{Success: false, Reason: ReasonOffline}, res)
	require.Equal(t, before, snapshotCache(t, c))
	require.Empty(t, d.frames)
}

func TestSendWithoutSessionKey(t *testing.T) {
	ctx := context.Background()
	r, _, c, d := newTestRelay(t)
	hash := security.IdentityHash(testIdentity)
	require.NoError(t, c.Set(ctx, cache.RouteKey(hash), []byte("conn-1"), 0))
	before := snapshotCache(t, c)

	res := r.SendToDevice(ctx, testIdentity, []byte("reboot"))
	require.Equal(t, Result{Success: false, Reason: ReasonNoSecureSession}, res)
	require.Equal(t, before, snapshotCache(t, c))
	require.Empty(t, d.frames)
}

func TestSendDelivered(t *testing.T) {
	ctx := context.Background()
	r, reg, _, d := newTestRelay(t)
	hash := security.IdentityHash(testIdentity)
	key := make([]byte, security.SessionKeySize)
	key[0] = 9
	require.NoError(t, reg.MarkOnline(ctx, hash, testIdentity, "conn-1", key))

	res := r.SendToDevice(ctx, "aa:bb:cc:dd:ee:ff", []byte("reboot"))
	require.True(t, res.Success)
	require.Empty(t, res.Reason)

	require.Len(t, d.frames["conn-1"], 1)
	msg, err := protocol.Parse(d.frames["conn-1"][0])
	require.NoError(t, err)
	require.Equal(t, protocol.TypeMessage, msg.Type)

	var sealed protocol.EncryptedPayload
	require.NoError(t, msg.Decode(&sealed))
	plaintext, ok := security.Decrypt(sealed, key)
	require.True(t, ok)
	require.Equal(t, []byte("reboot"), plaintext)
}

func TestSendRouteGone(t *testing.T) {
	ctx := context.Background()
	r, reg, _, d := newTestRelay(t)
	hash := security.IdentityHash(testIdentity)
	require.NoError(t, reg.MarkOnline(ctx, hash, testIdentity, "conn-1", make([]byte, security.SessionKeySize)))

	d.err = ErrNoRoute
	require.Equal(t, Result{Reason: ReasonOffline}, r.SendToDevice(ctx, testIdentity, []byte("x")))

	d.err = errors.New("broken pipe")
	require.Equal(t, Result{Reason: ReasonSendFailed}, r.SendToDevice(ctx, testIdentity, []byte("x")))
}
