// Package cipher implements the AES-128 primitives used by the Combo wire
// protocol: the raw block cipher, the frame MAC, and the weak,
// PIN-derived key used only during pairing.
//
// These are bit-exact boundaries: the pump computes the same MAC over the
// same bytes and will reject anything that does not match byte for byte.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize is the width of a Combo AES-128 key in bytes.
const KeySize = 16

// MACSize is the width of a Combo frame MAC in bytes.
const MACSize = 8

// EncryptBlock encrypts a single 16-byte block under key using raw AES-128
// (electronic codebook, single block — there is no chaining at this layer).
func EncryptBlock(key, block []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(block) != 16 {
		return nil, fmt.Errorf("cipher: block must be 16 bytes, got %d", len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	c.Encrypt(out, block)
	return out, nil
}

// DecryptBlock decrypts a single 16-byte block under key.
func DecryptBlock(key, block []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(block) != 16 {
		return nil, fmt.Errorf("cipher: block must be 16 bytes, got %d", len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	c.Decrypt(out, block)
	return out, nil
}

// MAC computes the 8-byte frame authentication code used throughout the
// transport layer: the message is zero-padded to a multiple of 16 bytes
// (no padding added when it is already block-aligned; an empty message
// is treated as a single zero block), AES-CBC
// encrypted under key with an all-zero IV, and the first 8 bytes of the
// final ciphertext block become the MAC. This is deliberately a plain
// CBC-MAC, not a CMAC: the pump does not derive CMAC subkeys.
func MAC(key, msg []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := zeroPad(msg)
	iv := make([]byte, 16)
	mode := cipher.NewCBCEncrypter(c, iv)
	out := make([]byte, len(padded))
	mode.CryptBlocks(out, padded)

	last := out[len(out)-16:]
	mac := make([]byte, MACSize)
	copy(mac, last[:MACSize])
	return mac, nil
}

func zeroPad(msg []byte) []byte {
	if len(msg) == 0 {
		return make([]byte, 16)
	}
	rem := len(msg) % 16
	if rem == 0 {
		out := make([]byte, len(msg))
		copy(out, msg)
		return out
	}
	out := make([]byte, len(msg)+(16-rem))
	copy(out, msg)
	return out
}

// WeakKeyFromPIN derives the 16-byte pairing key from the pump's 10-digit
// decimal PIN. Each digit is packed as a BCD nibble, two digits per byte,
// filling the first 5 bytes; the remaining 11 bytes are zero. Both client
// and pump derive the same weak key from the same PIN this way, so the
// KEY_RESPONSE MAC verifies if and only if the PIN was entered correctly.
func WeakKeyFromPIN(pin [10]byte) ([]byte, error) {
	key := make([]byte, KeySize)
	for i, digitASCII := range pin {
		if digitASCII < '0' || digitASCII > '9' {
			return nil, fmt.Errorf("cipher: PIN byte %d (%q) is not an ASCII digit", i, digitASCII)
		}
		digit := digitASCII - '0'
		byteIdx := i / 2
		if i%2 == 0 {
			key[byteIdx] |= digit << 4
		} else {
			key[byteIdx] |= digit
		}
	}
	return key, nil
}
