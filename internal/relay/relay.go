// Package relay delivers operator commands to authenticated devices,
// sealed under each device's current session key.
package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

// ErrNoRoute is returned by a Dispatcher when no live connection owns
// the routing handle.
var ErrNoRoute = errors.New("relay: no route")

// Delivery failure reasons.
const (
	ReasonOffline         = "offline"
	ReasonNoSecureSession = "no-secure-session"
	ReasonSendFailed      = "send-failed"
)

// Dispatcher writes a frame to the connection identified by handle.
type Dispatcher interface {
	Deliver(handle string, frame []byte) error
}

// Sessions resolves the route and session key of a device.
type Sessions interface {
	Route(ctx context.Context, identityHash string) (string, error)
	SessionKey(ctx context.Context, identityHash string) ([]byte, error)
}

// Result is the synchronous outcome of a relay attempt.
type Result struct {
	Success bool
	Reason  string
}

// Relay routes messages to devices. It never writes to the cache.
type Relay struct {
	sessions   Sessions
	dispatcher Dispatcher
	log        zerolog.Logger
}

// New creates a relay.
func New(sessions Sessions, dispatcher Dispatcher, log zerolog.Logger) *Relay {
	return &Relay{
		sessions:   sessions,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "relay").Logger(),
	}
}

// SendToDevice encrypts payload for identity and forwards it as a message
// event over the device's live connection.
func (r *Relay) SendToDevice(ctx context.Context, identity string, payload []byte) Result {
	identity = security.CanonicalIdentity(identity)
	hash := security.IdentityHash(identity)
	log := r.log.With().Str("target", identity).Logger()

	handle, err := r.sessions.Route(ctx, hash)
	if err != nil || handle == "" {
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Msg("route lookup")
		}
		return r.fail(ReasonOffline)
	}

	key, err := r.sessions.SessionKey(ctx, hash)
	if err != nil || len(key) != security.SessionKeySize {
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Msg("session key lookup")
		}
		return r.fail(ReasonNoSecureSession)
	}

	sealed, err := security.Encrypt(payload, key)
	if err != nil {
		log.Error().Err(err).Msg("encrypt message")
		return r.fail(ReasonSendFailed)
	}
	frame, err := protocol.Encode(protocol.TypeMessage, sealed)
	if err != nil {
		log.Error().Err(err).Msg("encode message")
		return r.fail(ReasonSendFailed)
	}

	if err := r.dispatcher.Deliver(handle, frame); err != nil {
		if errors.Is(err, ErrNoRoute) {
			return r.fail(ReasonOffline)
		}
		log.Warn().Err(err).Msg("deliver message")
		return r.fail(ReasonSendFailed)
	}

	metrics.RelayedMessages.WithLabelValues("delivered").Inc()
	log.Debug().Msg("message relayed")
	return Result{Success: true}
}

func (r *Relay) fail(reason string) Result {
	metrics.RelayedMessages.WithLabelValues(reason).Inc()
	return Result{Reason: reason}
}
