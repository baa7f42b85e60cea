package cipher

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestEncryptDecryptBlockRoundTrip(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	block := mustHex(t, "00112233445566778899aabbccddeeff")

	enc, err := EncryptBlock(key, block)
	require.NoError(t, err)
	assert.NotEqual(t, block, enc)

	dec, err := DecryptBlock(key, enc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(block, dec))
}

func TestEncryptBlockKnownVector(t *testing.T) {
	// FIPS-197 AES-128 test vector.
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	want := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	got, err := EncryptBlock(key, plain)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMACIsDeterministicAndKeyed(t *testing.T) {
	keyA := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	keyB := mustHex(t, "0f0e0d0c0b0a09080706050403020100")
	msg := []byte("authenticate this frame payload")

	macA1, err := MAC(keyA, msg)
	require.NoError(t, err)
	macA2, err := MAC(keyA, msg)
	require.NoError(t, err)
	assert.Equal(t, macA1, macA2)

	macB, err := MAC(keyB, msg)
	require.NoError(t, err)
	assert.NotEqual(t, macA1, macB)
	assert.Len(t, macA1, MACSize)
}

func TestMACHandlesShortAndEmptyMessages(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")

	mac, err := MAC(key, nil)
	require.NoError(t, err)
	assert.Len(t, mac, MACSize)

	mac2, err := MAC(key, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Len(t, mac2, MACSize)
	assert.NotEqual(t, mac, mac2)
}

func TestWeakKeyFromPINIsDeterministic(t *testing.T) {
	var pin [10]byte
	copy(pin[:], "1234567890")

	k1, err := WeakKeyFromPIN(pin)
	require.NoError(t, err)
	k2, err := WeakKeyFromPIN(pin)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)

	// First five bytes are BCD-packed digit pairs; the rest is zero.
	assert.Equal(t, byte(0x12), k1[0])
	assert.Equal(t, byte(0x34), k1[1])
	assert.Equal(t, byte(0x56), k1[2])
	assert.Equal(t, byte(0x78), k1[3])
	assert.Equal(t, byte(0x90), k1[4])
	for _, b := range k1[5:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestWeakKeyFromPINRejectsNonDigits(t *testing.T) {
	var pin [10]byte
	copy(pin[:], "12345X7890")
	_, err := WeakKeyFromPIN(pin)
	require.Error(t, err)
}

func TestWeakKeyFromPINDiffersByPIN(t *testing.T) {
	var a, b [10]byte
	copy(a[:], "1111111111")
	copy(b[:], "2222222222")

	ka, err := WeakKeyFromPIN(a)
	require.NoError(t, err)
	kb, err := WeakKeyFromPIN(b)
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}
