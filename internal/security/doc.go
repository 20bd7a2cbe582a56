// Package security implements device authentication and session protection
// for the gateway:
//
//   - Challenge-response authentication of devices against a pre-shared
//     secret (HMAC-SHA-256 over nonce and identity)
//   - Ephemeral post-quantum key exchange (ML-KEM-768 by default) that
//     yields a fresh session key per connection
//   - AES-256-GCM session cipher for pulses and relayed messages
//   - API key generation and HTTP authentication middleware
//   - TLS configuration for the listener
//
// Nonces and ephemeral private keys live only in the shared cache with
// short TTLs and are single use. Shared secrets and session keys are never
// logged.
package security
