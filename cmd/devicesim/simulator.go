package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MuhammadArhumDev/Raidware/internal/device"
)

type pulse struct {
	Status string `json:"status"`
	TS     int64  `json:"ts"`
}

type simulator struct {
	url        string
	identity   string
	secret     string
	pulseEvery time.Duration
	legacy     bool
	tlsConfig  *tls.Config
}

// run performs one connect, handshake and pulse session. It returns when
// the connection drops or ctx is cancelled.
func (s *simulator) run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := device.Dial(dialCtx, s.url, s.tlsConfig)
	if err != nil {
		cancel()
		return err
	}
	defer client.Close() //nolint:errcheck

	err = client.Handshake(dialCtx, s.identity, s.secret, device.HandshakeOptions{OmitConfirmation: s.legacy})
	cancel()
	if err != nil {
		var failed *device.FailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("handshake rejected: %s", failed.Reason)
		}
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info().Str("identity", client.Identity()).Msg("authenticated")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pulseEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				client.Close() //nolint:errcheck
				return
			case <-ticker.C:
				if err := client.SendPulse(pulse{Status: "ok", TS: time.Now().UnixMilli()}); err != nil {
					log.Warn().Err(err).Msg("send pulse")
					return
				}
			}
		}
	}()

	for {
		msg, err := client.ReadMessage(context.Background())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().Str("message", string(msg)).Msg("message from dashboard")
	}
}
