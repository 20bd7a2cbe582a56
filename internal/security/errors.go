package security

import "errors"

// Authentication failures. Each maps to a failure reason sent to the device.
var (
	ErrProtocol          = errors.New("protocol violation")
	ErrReplay            = errors.New("nonce missing, expired or already used")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrDecapsulation     = errors.New("key decapsulation failed")
	ErrUnknownDevice     = errors.New("unknown device")
)

// Failure reasons carried in failed{reason} events.
const (
	ReasonProtocol          = "protocol"
	ReasonReplay            = "replay"
	ReasonSignatureMismatch = "signature-mismatch"
	ReasonDecapsulation     = "decapsulation"
	ReasonUnknownDevice     = "unknown-device"
	ReasonInternal          = "internal"
	ReasonHandshakeTimeout  = "handshake-timeout"
	ReasonSessionExpired    = "session-expired"
	ReasonSessionDesync     = "session-desync"
)

// Reason maps an error to the failure reason reported to the device.
// Unclassified errors report "internal" so no detail leaks.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrProtocol):
		return ReasonProtocol
	case errors.Is(err, ErrReplay):
		return ReasonReplay
	case errors.Is(err, ErrSignatureMismatch):
		return ReasonSignatureMismatch
	case errors.Is(err, ErrDecapsulation):
		return ReasonDecapsulation
	case errors.Is(err, ErrUnknownDevice):
		return ReasonUnknownDevice
	default:
		return ReasonInternal
	}
}
