package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CanonicalIdentity normalises a claimed device identity (a MAC address).
// Surrounding whitespace is removed and letters are upper-cased; separators
// are kept so the signed identity matches the provisioned one byte for byte.
func CanonicalIdentity(identity string) string {
	return strings.ToUpper(strings.TrimSpace(identity))
}

// IdentityHash returns the cache key form of an identity: the lowercase hex
// SHA-256 of its canonical form.
func IdentityHash(identity string) string {
	h := sha256.Sum256([]byte(CanonicalIdentity(identity)))
	return hex.EncodeToString(h[:])
}

// ShortHash truncates an identity hash for log output.
func ShortHash(identityHash string) string {
	if len(identityHash) > 12 {
		return identityHash[:12]
	}
	return identityHash
}
