// Package device is the device side of the gateway protocol. It drives
// the handshake, seals pulses and opens relayed messages; cmd/devicesim
// and the gateway tests use it in place of real firmware.
package device

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/security"
)

// FailedError is a failed{reason} event received from the gateway.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string { return "gateway rejected device: " + e.Reason }

// HandshakeOptions tunes the handshake. The zero value matches current
// firmware.
type HandshakeOptions struct {
	Scheme string

	// OmitConfirmation mimics firmware that predates key confirmation.
	OmitConfirmation bool

	// TamperCiphertext flips a bit of the KEM ciphertext before sending.
	TamperCiphertext bool
}

// Client is a device connection to the gateway.
type Client struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	identity   string
	sessionKey []byte
}

// Dial opens the device channel at url (ws:// or wss://).
func Dial(ctx context.Context, url string, tlsCfg *tls.Config) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsCfg,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// SessionKey returns the key established by Handshake.
func (c *Client) SessionKey() []byte { return c.sessionKey }

// Identity returns the identity the client authenticated as.
func (c *Client) Identity() string { return c.identity }

// Handshake authenticates as identity with the pre-shared secret and
// establishes a session key.
func (c *Client) Handshake(ctx context.Context, identity, secret string, opts HandshakeOptions) error {
	schemeName := opts.Scheme
	if schemeName == "" {
		schemeName = security.DefaultKEMScheme
	}
	scheme, err := security.LookupScheme(schemeName)
	if err != nil {
		return err
	}

	identity = security.CanonicalIdentity(identity)
	if err := c.Send(protocol.TypeInit, protocol.Init{Identity: identity}); err != nil {
		return err
	}

	msg, err := c.expect(ctx, protocol.TypeChallenge)
	if err != nil {
		return err
	}
	var ch protocol.Challenge
	if err := msg.Decode(&ch); err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	pub, err := hex.DecodeString(ch.EphemeralPublicKey)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}

	ct, key, err := security.Encapsulate(scheme, pub)
	if err != nil {
		return err
	}
	if opts.TamperCiphertext && len(ct) > 0 {
		ct[0] ^= 0x01
	}

	resp := protocol.Response{
		Signature:     security.Sign(secret, ch.Nonce, identity),
		KEMCiphertext: hex.EncodeToString(ct),
	}
	if !opts.OmitConfirmation {
		resp.Confirmation = security.ConfirmationTag(key, ch.Nonce)
	}
	if err := c.Send(protocol.TypeResponse, resp); err != nil {
		return err
	}

	if _, err := c.expect(ctx, protocol.TypeSuccess); err != nil {
		return err
	}
	c.identity = identity
	c.sessionKey = key
	return nil
}

// SendPulse seals v as JSON under the session key and sends it.
func (c *Client) SendPulse(v any) error {
	if c.sessionKey == nil {
		return fmt.Errorf("no session key")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sealed, err := security.Encrypt(data, c.sessionKey)
	if err != nil {
		return err
	}
	return c.Send(protocol.TypePulse, sealed)
}

// ReadMessage waits for the next relayed message and returns its
// plaintext. A failed event is returned as *FailedError and a disconnect
// as io.EOF.
func (c *Client) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		msg, err := c.ReadEvent(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case protocol.TypeMessage:
			var p protocol.EncryptedPayload
			if err := msg.Decode(&p); err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			plaintext, ok := security.Decrypt(p, c.sessionKey)
			if !ok {
				return nil, fmt.Errorf("message failed authentication")
			}
			return plaintext, nil
		case protocol.TypeFailed:
			return nil, failedError(msg)
		case protocol.TypeDisconnect:
			return nil, io.EOF
		}
	}
}

// ReadEvent reads one envelope, honouring ctx's deadline.
func (c *Client) ReadEvent(ctx context.Context) (protocol.Message, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.ws.SetReadDeadline(deadline)
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Parse(data)
}

// Send writes one event.
func (c *Client) Send(msgType string, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close announces a disconnect and closes the connection.
func (c *Client) Close() error {
	_ = c.Send(protocol.TypeDisconnect, nil)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// expect reads until an event of type want, turning failed into an error.
func (c *Client) expect(ctx context.Context, want string) (protocol.Message, error) {
	for {
		msg, err := c.ReadEvent(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		switch msg.Type {
		case want:
			return msg, nil
		case protocol.TypeFailed:
			return protocol.Message{}, failedError(msg)
		case protocol.TypeDisconnect:
			return protocol.Message{}, io.EOF
		}
	}
}

func failedError(msg protocol.Message) error {
	var f protocol.Failed
	_ = msg.Decode(&f)
	return &FailedError{Reason: f.Reason}
}
