// Package protocol defines the message envelope and event payloads
// exchanged between the gateway, field devices and dashboards.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Device channel events.
const (
	TypeInit       = "init"
	TypeChallenge  = "challenge"
	TypeResponse   = "response"
	TypeSuccess    = "success"
	TypeFailed     = "failed"
	TypePulse      = "pulse"
	TypeMessage    = "message"
	TypeDisconnect = "disconnect"
)

// Dashboard channel events. The dashboard also sends TypeInit to request
// a full presence snapshot.
const (
	TypeList          = "list"
	TypeUpdate        = "update"
	TypeSendMessage   = "sendMessage"
	TypeMessageStatus = "messageStatus"
)

// Presence status values carried in list and update events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrEmptyPayload is returned by Decode when a message carries no payload.
var ErrEmptyPayload = errors.New("empty payload")

// Message is the envelope for every WebSocket text frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload into an envelope of the given type.
// A nil payload produces an empty object.
func Encode(msgType string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// Parse unmarshals a raw frame into an envelope.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, errors.New("missing message type")
	}
	return m, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return ErrEmptyPayload
	}
	return json.Unmarshal(m.Payload, v)
}

// Init is sent by a device to announce its claimed identity.
type Init struct {
	Identity string `json:"identity"`
}

// Challenge carries the single-use nonce and the ephemeral KEM public key,
// both hex encoded.
type Challenge struct {
	Nonce              string `json:"nonce"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
}

// Response is the device's answer to a Challenge. Confirmation is an
// HMAC over the nonce keyed with the encapsulated session key.
type Response struct {
	Signature     string `json:"signature"`
	KEMCiphertext string `json:"kemCiphertext"`
	Confirmation  string `json:"confirmation,omitempty"`
}

// Failed tells the remote party why its handshake or session ended.
type Failed struct {
	Reason string `json:"reason"`
}

// EncryptedPayload is an AES-GCM sealed message with hex encoded fields.
// Older firmware names the ciphertext field "data".
type EncryptedPayload struct {
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
	Data       string `json:"data,omitempty"`
}

// Sealed returns the hex ciphertext, falling back to the legacy field.
func (p EncryptedPayload) Sealed() string {
	if p.Ciphertext != "" {
		return p.Ciphertext
	}
	return p.Data
}

// PresenceRecord is the dashboard view of one device.
// LastSeen is in Unix milliseconds.
type PresenceRecord struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen"`
}

// SendMessage asks the gateway to relay a command to a device.
type SendMessage struct {
	TargetIdentity string `json:"targetIdentity"`
	Message        string `json:"message"`
}

// MessageStatus reports the outcome of a SendMessage request.
type MessageStatus struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}
