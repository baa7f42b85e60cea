// Package combo implements the client-side wire protocol for the Accu-Chek
// Combo insulin pump: frame construction, AES-128 authentication, the
// transport session, the RT/CMD application layer, and the pump I/O
// orchestrator that drives pairing, connection, and mode switching.
package combo

import "fmt"

// NonceSize is the width of the transport nonce in bytes.
const NonceSize = 13

// Nonce is the 13-byte, little-endian counter carried in every transport
// frame. It is immutable: Increment returns a new value rather than
// mutating the receiver.
type Nonce [NonceSize]byte

// NullNonce is the all-zero value marking "uninitialized" invariant data.
var NullNonce = Nonce{}

// InitialNonce is the value a freshly paired pump's TX nonce is set to:
// 01 00 00 00 00 00 00 00 00 00 00 00 00.
var InitialNonce = Nonce{0x01}

// NewNonce builds a Nonce from its wire bytes. len(b) must equal NonceSize.
func NewNonce(b []byte) (Nonce, error) {
	var n Nonce
	if len(b) != NonceSize {
		return n, fmt.Errorf("combo: nonce must be %d bytes, got %d", NonceSize, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// IsNull reports whether n is the all-zero nonce.
func (n Nonce) IsNull() bool {
	return n == Nonce{}
}

// Increment returns n+1 interpreting n as a little-endian unsigned integer,
// wrapping from all-0xFF back to the null nonce.
func (n Nonce) Increment() Nonce {
	var out Nonce
	copy(out[:], n[:])
	carry := uint16(1)
	for i := 0; i < NonceSize && carry != 0; i++ {
		sum := uint16(out[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}

// Bytes returns the little-endian wire encoding of n.
func (n Nonce) Bytes() []byte {
	out := make([]byte, NonceSize)
	copy(out, n[:])
	return out
}

func (n Nonce) String() string {
	return fmt.Sprintf("%x", [NonceSize]byte(n))
}
