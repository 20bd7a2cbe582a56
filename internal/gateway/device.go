package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/cache"
	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

type handshakeState int

const (
	stateUnauthenticated handshakeState = iota
	stateChallenged
	stateAuthenticated
	stateClosed
)

func (s handshakeState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateChallenged:
		return "challenged"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// handshake is the per-connection session, owned by the read goroutine.
type handshake struct {
	state         handshakeState
	identity      string
	hash          string
	nonce         string
	authenticated bool
	pulseFailures int
}

// handleDevice runs one device connection from upgrade to cleanup.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("device upgrade failed")
		return
	}

	conn := newDeviceConn(ws, s.opts.WriteTimeout)
	s.conns.add(conn)
	hs := &handshake{state: stateUnauthenticated}
	log := s.log.With().Str("conn", conn.handle).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("device connected")

	defer s.cleanupDevice(conn, hs, log)
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("device handler panic")
		}
	}()

	// Close may have swept the table before this connection joined it.
	if s.isClosing() {
		return
	}

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if hs.state != stateAuthenticated && isTimeout(err) {
				log.Info().Str("identity", hs.identity).Msg("handshake timed out")
				metrics.Handshakes.WithLabelValues(security.ReasonHandshakeTimeout).Inc()
				_ = conn.send(protocol.TypeFailed, protocol.Failed{Reason: security.ReasonHandshakeTimeout})
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("device read")
			}
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
		keep := s.dispatchDevice(ctx, conn, hs, data, log)
		cancel()
		if !keep {
			return
		}
	}
}

// dispatchDevice handles one event and reports whether to keep reading.
func (s *Server) dispatchDevice(ctx context.Context, conn *deviceConn, hs *handshake, data []byte, log zerolog.Logger) bool {
	msg, err := protocol.Parse(data)
	if err != nil {
		log.Debug().Err(err).Msg("dropped malformed frame")
		return true
	}

	switch msg.Type {
	case protocol.TypeInit:
		return s.onInit(ctx, conn, hs, msg, log)
	case protocol.TypeResponse:
		return s.onResponse(ctx, conn, hs, msg, log)
	case protocol.TypePulse:
		return s.onPulse(ctx, conn, hs, msg, log)
	case protocol.TypeDisconnect:
		log.Debug().Str("identity", hs.identity).Msg("device requested disconnect")
		return false
	default:
		log.Debug().Str("type", msg.Type).Msg("dropped unknown event")
		return true
	}
}

func (s *Server) onInit(ctx context.Context, conn *deviceConn, hs *handshake, msg protocol.Message, log zerolog.Logger) bool {
	if hs.state != stateUnauthenticated {
		return s.fail(conn, hs, fmt.Errorf("%w: init in state %s", security.ErrProtocol, hs.state), log)
	}
	var p protocol.Init
	if err := msg.Decode(&p); err != nil || security.CanonicalIdentity(p.Identity) == "" {
		return s.fail(conn, hs, fmt.Errorf("%w: bad init payload", security.ErrProtocol), log)
	}

	hs.identity = security.CanonicalIdentity(p.Identity)
	hs.hash = security.IdentityHash(hs.identity)

	nonce, err := s.auth.IssueChallenge(ctx, hs.hash)
	if err != nil {
		return s.fail(conn, hs, err, log)
	}
	pub, err := s.kex.GenerateEphemeralKeypair(ctx, hs.hash)
	if err != nil {
		_ = s.cache.Del(ctx, cache.NonceKey(hs.hash))
		return s.fail(conn, hs, err, log)
	}
	hs.nonce = nonce
	hs.state = stateChallenged

	log.Debug().Str("identity", hs.identity).Msg("challenge issued")
	if err := conn.send(protocol.TypeChallenge, protocol.Challenge{
		Nonce:              nonce,
		EphemeralPublicKey: hex.EncodeToString(pub),
	}); err != nil {
		log.Debug().Err(err).Msg("send challenge")
		return false
	}
	return true
}

func (s *Server) onResponse(ctx context.Context, conn *deviceConn, hs *handshake, msg protocol.Message, log zerolog.Logger) bool {
	if hs.state != stateChallenged {
		return s.fail(conn, hs, fmt.Errorf("%w: response in state %s", security.ErrProtocol, hs.state), log)
	}
	var p protocol.Response
	if err := msg.Decode(&p); err != nil {
		return s.fail(conn, hs, fmt.Errorf("%w: bad response payload", security.ErrProtocol), log)
	}

	// Verify consumes the nonce and the KEM key is taken or discarded below,
	// so cleanup must not touch the per-identity records again: by then
	// they may belong to a newer handshake.
	hs.state = stateClosed
	trust, err := s.auth.Verify(ctx, hs.identity, hs.nonce, p.Signature)
	if err != nil {
		_ = s.kex.Discard(ctx, hs.hash)
		return s.fail(conn, hs, err, log)
	}

	ct, err := hex.DecodeString(p.KEMCiphertext)
	if err != nil {
		_ = s.kex.Discard(ctx, hs.hash)
		return s.fail(conn, hs, fmt.Errorf("%w: ciphertext is not hex", security.ErrDecapsulation), log)
	}
	key, err := s.kex.Decapsulate(ctx, hs.hash, ct)
	if err != nil {
		return s.fail(conn, hs, err, log)
	}
	if err := security.VerifyConfirmation(key, hs.nonce, p.Confirmation, s.opts.RequireKeyConfirmation); err != nil {
		return s.fail(conn, hs, err, log)
	}

	prev, err := s.registry.Route(ctx, hs.hash)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return s.fail(conn, hs, fmt.Errorf("%w: route lookup: %v", security.ErrUnknownDevice, err), log)
	}
	if err := s.registry.MarkOnline(ctx, hs.hash, hs.identity, conn.handle, key); err != nil {
		_, _ = s.registry.MarkOffline(ctx, hs.hash, conn.handle)
		return s.fail(conn, hs, err, log)
	}
	hs.state = stateAuthenticated
	hs.authenticated = true
	hs.nonce = ""
	_ = conn.ws.SetReadDeadline(time.Time{})

	metrics.Handshakes.WithLabelValues("success").Inc()
	metrics.DevicesOnline.Inc()
	if superseded := s.conns.get(prev); superseded != nil && prev != conn.handle {
		// One live connection per device: the newer one owns the route.
		log.Info().Str("identity", hs.identity).Str("superseded", prev).Msg("closing superseded connection")
		superseded.close()
	}
	if trust == security.TrustFallback {
		metrics.FallbackAuths.Inc()
	}
	log.Info().Str("identity", hs.identity).Str("trust", trust.String()).Msg("device authenticated")

	if err := conn.send(protocol.TypeSuccess, nil); err != nil {
		log.Debug().Err(err).Msg("send success")
		return false
	}
	return true
}

func (s *Server) onPulse(ctx context.Context, conn *deviceConn, hs *handshake, msg protocol.Message, log zerolog.Logger) bool {
	if hs.state != stateAuthenticated {
		metrics.Pulses.WithLabelValues("unauthenticated").Inc()
		log.Debug().Str("state", hs.state.String()).Msg("dropped pulse before authentication")
		return true
	}

	key, err := s.registry.SessionKey(ctx, hs.hash)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			metrics.Pulses.WithLabelValues("session-expired").Inc()
			log.Info().Str("identity", hs.identity).Msg("session key expired, forcing re-handshake")
			_ = conn.send(protocol.TypeFailed, protocol.Failed{Reason: security.ReasonSessionExpired})
			return false
		}
		log.Warn().Err(err).Msg("session key lookup")
		return true
	}

	var p protocol.EncryptedPayload
	var plaintext []byte
	ok := msg.Decode(&p) == nil
	if ok {
		plaintext, ok = security.Decrypt(p, key)
	}
	if !ok {
		hs.pulseFailures++
		metrics.Pulses.WithLabelValues("decrypt-failed").Inc()
		log.Warn().Str("identity", hs.identity).Int("consecutive", hs.pulseFailures).Msg("pulse decrypt failed")
		if s.opts.MaxPulseFailures > 0 && hs.pulseFailures >= s.opts.MaxPulseFailures {
			_ = conn.send(protocol.TypeFailed, protocol.Failed{Reason: security.ReasonSessionDesync})
			return false
		}
		return true
	}
	hs.pulseFailures = 0

	if err := s.registry.Touch(ctx, hs.hash); err != nil {
		log.Warn().Err(err).Msg("update presence")
	}
	metrics.Pulses.WithLabelValues("ok").Inc()
	log.Trace().Str("identity", hs.identity).Int("bytes", len(plaintext)).Msg("pulse")
	return true
}

// fail reports err to the device as failed{reason} and ends the connection.
func (s *Server) fail(conn *deviceConn, hs *handshake, err error, log zerolog.Logger) bool {
	reason := security.Reason(err)
	metrics.Handshakes.WithLabelValues(reason).Inc()
	ev := log.Warn()
	if reason == security.ReasonInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("identity", hs.identity).Str("reason", reason).Msg("handshake failed")

	_ = conn.send(protocol.TypeFailed, protocol.Failed{Reason: reason})
	return false
}

// cleanupDevice releases everything tied to the connection. It runs once,
// from the handler's defer, whatever ended the connection.
func (s *Server) cleanupDevice(conn *deviceConn, hs *handshake, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	s.conns.remove(conn.handle)
	conn.close()

	switch {
	case hs.state == stateChallenged:
		if err := s.cache.Del(ctx, cache.NonceKey(hs.hash), cache.KEMKey(hs.hash)); err != nil {
			log.Warn().Err(err).Msg("clear handshake records")
		}
	case hs.authenticated:
		metrics.DevicesOnline.Dec()
		cleared, err := s.registry.MarkOffline(ctx, hs.hash, conn.handle)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("mark offline")
		case !cleared:
			log.Debug().Str("identity", hs.identity).Msg("route owned by a newer connection")
		}
	}
	hs.state = stateClosed
	log.Debug().Str("identity", hs.identity).Msg("device disconnected")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
