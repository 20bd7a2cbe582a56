package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV.
func Encrypt(plaintext, key []byte) (protocol.EncryptedPayload, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return protocol.EncryptedPayload{}, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return protocol.EncryptedPayload{}, fmt.Errorf("generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return protocol.EncryptedPayload{
		IV:         hex.EncodeToString(iv),
		Tag:        hex.EncodeToString(tag),
		Ciphertext: hex.EncodeToString(ct),
	}, nil
}

// Decrypt opens an EncryptedPayload. It reports false for any malformed,
// truncated or forged input and never panics.
func Decrypt(p protocol.EncryptedPayload, key []byte) ([]byte, bool) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil || len(iv) != ivSize {
		return nil, false
	}
	tag, err := hex.DecodeString(p.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, false
	}
	ct, err := hex.DecodeString(p.Sealed())
	if err != nil {
		return nil, false
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, false
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, false
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, true
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
