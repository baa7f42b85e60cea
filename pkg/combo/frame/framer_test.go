package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonce(b byte) []byte {
	n := make([]byte, NonceSize)
	n[0] = b
	return n
}

func TestEncodeDecodeRoundTripUnauthenticated(t *testing.T) {
	opts := EncodeOptions{
		Version:      1,
		CommandClass: false,
		Reliable:     true,
		Address:      PairingAddress,
		Nonce:        nonce(0x00),
		Command:      0x09,
		Payload:      []byte("hello pump"),
	}

	wire, err := Encode(opts)
	require.NoError(t, err)

	got, err := Decode(wire, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, opts.Version, got.Version)
	assert.Equal(t, opts.CommandClass, got.CommandClass)
	assert.Equal(t, opts.Reliable, got.Reliable)
	assert.Equal(t, opts.Address, got.Address)
	assert.True(t, bytes.Equal(opts.Nonce, got.Nonce))
	assert.Equal(t, opts.Command, got.Command)
	assert.True(t, bytes.Equal(opts.Payload, got.Payload))
	assert.False(t, got.Authenticated)
}

func TestEncodeDecodeRoundTripAuthenticated(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	opts := EncodeOptions{
		Version:      2,
		CommandClass: true,
		Reliable:     false,
		Address:      0x12,
		Nonce:        nonce(0x07),
		Command:      0x0A,
		Payload:      []byte{0x01, 0x02, 0x03, 0x04},
		Authenticate: true,
		MACKey:       key,
	}

	wire, err := Encode(opts)
	require.NoError(t, err)

	got, err := Decode(wire, DecodeOptions{Authenticate: true, MACKey: key})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(opts.Payload, got.Payload))
	assert.True(t, got.Authenticated)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	opts := EncodeOptions{Address: PairingAddress, Nonce: nonce(0), Command: 1, Payload: []byte("x")}
	wire, err := Encode(opts)
	require.NoError(t, err)

	corrupted := append([]byte(nil), wire...)
	corrupted = append(corrupted, 0xAA) // extra byte invalidates the declared length

	_, err = Decode(corrupted, DecodeOptions{})
	require.Error(t, err)
	var invalid *InvalidFrameError
	assert.ErrorAs(t, err, &invalid)
}

func TestDecodeRejectsCRCMismatch(t *testing.T) {
	opts := EncodeOptions{Address: PairingAddress, Nonce: nonce(0), Command: 1, Payload: []byte("hello")}
	wire, err := Encode(opts)
	require.NoError(t, err)

	corrupted := append([]byte(nil), wire...)
	corrupted[len(corrupted)-3] ^= 0xFF // flip a payload bit, leave length & CRC as-is

	_, err = Decode(corrupted, DecodeOptions{})
	require.Error(t, err)
	var invalid *InvalidFrameError
	assert.ErrorAs(t, err, &invalid)
}

func TestDecodeRejectsMACMismatch(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	wrongKey := bytes.Repeat([]byte{0x22}, 16)
	opts := EncodeOptions{
		Address:      0x12,
		Nonce:        nonce(0),
		Command:      1,
		Payload:      []byte("secret"),
		Authenticate: true,
		MACKey:       key,
	}
	wire, err := Encode(opts)
	require.NoError(t, err)

	_, err = Decode(wire, DecodeOptions{Authenticate: true, MACKey: wrongKey})
	require.Error(t, err)
	var authErr *AuthenticationFailureError
	assert.ErrorAs(t, err, &authErr)
}

func TestEncodeRejectsBadNonceLength(t *testing.T) {
	_, err := Encode(EncodeOptions{Address: PairingAddress, Nonce: []byte{1, 2, 3}, Command: 1})
	require.Error(t, err)
}

func TestCRCKnownVector(t *testing.T) {
	// "123456789" is the standard CRC-16/CCITT-FALSE check string; the
	// well-known check value for poly 0x1021, init 0xFFFF is 0x29B1.
	got := crcCCITT([]byte("123456789"))
	assert.Equal(t, uint16(0x29B1), got)
}
