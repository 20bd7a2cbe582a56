package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(TypeSuccess, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"success","payload":{}}`, string(data))
}

func TestParseAndDecode(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"init","payload":{"identity":"AA:BB:CC:DD:EE:FF"}}`))
	require.NoError(t, err)
	require.Equal(t, TypeInit, msg.Type)

	var p Init
	require.NoError(t, msg.Decode(&p))
	require.Equal(t, "AA:BB:CC:DD:EE:FF", p.Identity)
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := Parse([]byte(`{"payload":{}}`))
	require.Error(t, err)

	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodeEmptyPayload(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"pulse"}`))
	require.NoError(t, err)
	require.ErrorIs(t, msg.Decode(&EncryptedPayload{}), ErrEmptyPayload)

	msg, err = Parse([]byte(`{"type":"pulse","payload":null}`))
	require.NoError(t, err)
	require.ErrorIs(t, msg.Decode(&EncryptedPayload{}), ErrEmptyPayload)
}

func TestEncryptedPayloadLegacyField(t *testing.T) {
	var p EncryptedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"iv":"00","tag":"11","data":"abcd"}`), &p))
	require.Equal(t, "abcd", p.Sealed())

	p.Ciphertext = "ef01"
	require.Equal(t, "ef01", p.Sealed())
}
