package security

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
)

var cipherKey = bytes.Repeat([]byte{0x42}, SessionKeySize)

func TestCipherRoundTrip(t *testing.T) {
	msg := []byte(`{"status":"ok","ts":1700000000000}`)
	p, err := Encrypt(msg, cipherKey)
	require.NoError(t, err)

	iv, _ := hex.DecodeString(p.IV)
	tag, _ := hex.DecodeString(p.Tag)
	require.Len(t, iv, 12)
	require.Len(t, tag, 16)

	out, ok := Decrypt(p, cipherKey)
	require.True(t, ok)
	require.Equal(t, msg, out)
}

func TestCipherFreshIV(t *testing.T) {
	a, err := Encrypt([]byte("x"), cipherKey)
	require.NoError(t, err)
	b, err := Encrypt([]byte("x"), cipherKey)
	require.NoError(t, err)
	require.NotEqual(t, a.IV, b.IV)
}

func TestCipherEmptyPlaintext(t *testing.T) {
	p, err := Encrypt(nil, cipherKey)
	require.NoError(t, err)
	out, ok := Decrypt(p, cipherKey)
	require.True(t, ok)
	require.Empty(t, out)
}

func TestCipherLegacyDataField(t *testing.T) {
	p, err := Encrypt([]byte("hello"), cipherKey)
	require.NoError(t, err)
	legacy := protocol.EncryptedPayload{IV: p.IV, Tag: p.Tag, Data: p.Ciphertext}

	out, ok := Decrypt(legacy, cipherKey)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), out)
}

func TestCipherRejectsBadInput(t *testing.T) {
	p, err := Encrypt([]byte("hello"), cipherKey)
	require.NoError(t, err)

	flip := func(s string) string {
		b, _ := hex.DecodeString(s)
		b[0] ^= 0xff
		return hex.EncodeToString(b)
	}
	otherKey := bytes.Repeat([]byte{0x43}, SessionKeySize)

	cases := map[string]struct {
		p   protocol.EncryptedPayload
		key []byte
	}{
		"wrong key":     {p, otherKey},
		"short key":     {p, cipherKey[:16]},
		"nil key":       {p, nil},
		"tampered tag":  {protocol.EncryptedPayload{IV: p.IV, Tag: flip(p.Tag), Ciphertext: p.Ciphertext}, cipherKey},
		"tampered body": {protocol.EncryptedPayload{IV: p.IV, Tag: p.Tag, Ciphertext: flip(p.Ciphertext)}, cipherKey},
		"tampered iv":   {protocol.EncryptedPayload{IV: flip(p.IV), Tag: p.Tag, Ciphertext: p.Ciphertext}, cipherKey},
		"short iv":      {protocol.EncryptedPayload{IV: p.IV[:8], Tag: p.Tag, Ciphertext: p.Ciphertext}, cipherKey},
		"short tag":     {protocol.EncryptedPayload{IV: p.IV, Tag: p.Tag[:10], Ciphertext: p.Ciphertext}, cipherKey},
		"non-hex":       {protocol.EncryptedPayload{IV: "zz", Tag: p.Tag, Ciphertext: p.Ciphertext}, cipherKey},
		"odd hex body":  {protocol.EncryptedPayload{IV: p.IV, Tag: p.Tag, Ciphertext: "abc"}, cipherKey},
		"empty":         {protocol.EncryptedPayload{}, cipherKey},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out, ok := Decrypt(tc.p, tc.key)
			require.False(t, ok)
			require.Nil(t, out)
		})
	}
}
