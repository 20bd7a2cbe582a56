package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

// apiKeyPrefix marks gateway API keys so they are recognisable in configs.
const apiKeyPrefix = "rw_"

// GenerateAPIKey creates a new API key with the format rw_<random>.
// The plaintext key is returned once; only its hash is stored.
func GenerateAPIKey(name string) (*store.APIKey, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	key := apiKeyPrefix + hex.EncodeToString(raw)

	return &store.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   HashAPIKey(key),
		Prefix:    key[:12],
		CreatedAt: time.Now(),
	}, key, nil
}

// HashAPIKey returns the SHA-256 hash of an API key for DB lookup.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
