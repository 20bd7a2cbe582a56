package registry

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
)

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := NewSubscriber(1)
	fast := NewSubscriber(8)
	hub.Subscribe(slow)
	hub.Subscribe(fast)
	require.Equal(t, 2, hub.Count())

	for i := 0; i < 3; i++ {
		hub.Broadcast(protocol.TypeUpdate, protocol.PresenceRecord{Identity: "x"})
	}
	require.Len(t, slow.Outbox(), 1)
	require.Len(t, fast.Outbox(), 3)

	hub.Unsubscribe(slow)
	hub.Unsubscribe(fast)
	require.Zero(t, hub.Count())
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	s := NewSubscriber(1)
	s.Close()
	s.Close()
	require.False(t, s.SafeSend([]byte("x")))

	_, open := <-s.Outbox()
	require.False(t, open)
}
