// Package frame encodes and decodes Combo transport frames: the fixed
// header, the variable payload, the authentication MAC, and the trailing
// CRC. It is pure — no I/O, no session state — so it is unit-testable on
// hex vectors alone.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/comboctl/combodrv/pkg/combo/cipher"
)

// NonceSize is the width of the nonce field in a frame header.
const NonceSize = 13

// HeaderSize is the number of bytes from the start of the frame up to and
// including the command byte (offsets 0..17 inclusive, i.e. 18 bytes).
const HeaderSize = 1 + 2 + 1 + NonceSize + 1

// PairingAddress is the address byte (source 1, destination 0) used for
// every frame exchanged before directional keys are derived.
const PairingAddress byte = 0x10

// ProtocolVersion is the 4-bit version value this driver sends in every
// frame header.
const ProtocolVersion byte = 0x01

// EncodeOptions carries everything the framer needs to build one frame.
type EncodeOptions struct {
	Version      byte   // 4-bit protocol version
	CommandClass bool   // command-class bit
	Reliable     bool   // reliability bit
	Address      byte   // source-high-nibble/dest-low-nibble byte
	Nonce        []byte // NonceSize bytes, little-endian
	Command      byte
	Payload      []byte

	// Authenticate, when true, appends an 8-byte MAC computed with MACKey
	// over the pre-MAC frame bytes. Control packets during pairing (before
	// directional keys exist) pass false.
	Authenticate bool
	MACKey       []byte // required when Authenticate is true
}

// Encode serializes opts into a complete wire frame: header, payload,
// optional MAC, and trailing CRC-16-CCITT.
func Encode(opts EncodeOptions) ([]byte, error) {
	if len(opts.Nonce) != NonceSize {
		return nil, fmt.Errorf("frame: nonce must be %d bytes, got %d", NonceSize, len(opts.Nonce))
	}

	totalLen := HeaderSize + len(opts.Payload) + 2 // +CRC
	if opts.Authenticate {
		totalLen += cipher.MACSize
	}
	if totalLen > 0xFFFF {
		return nil, fmt.Errorf("frame: total length %d exceeds 16-bit field", totalLen)
	}

	buf := make([]byte, HeaderSize+len(opts.Payload))
	buf[0] = headerByte(opts.Version, opts.CommandClass, opts.Reliable)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(totalLen))
	buf[3] = opts.Address
	copy(buf[4:4+NonceSize], opts.Nonce)
	buf[4+NonceSize] = opts.Command
	copy(buf[HeaderSize:], opts.Payload)

	if opts.Authenticate {
		if len(opts.MACKey) != cipher.KeySize {
			return nil, fmt.Errorf("frame: authenticated frame requires a %d-byte MAC key", cipher.KeySize)
		}
		mac, err := cipher.MAC(opts.MACKey, buf)
		if err != nil {
			return nil, fmt.Errorf("frame: computing MAC: %w", err)
		}
		buf = append(buf, mac...)
	}

	crc := crcCCITT(buf)
	out := make([]byte, len(buf)+2)
	copy(out, buf)
	binary.LittleEndian.PutUint16(out[len(buf):], crc)
	return out, nil
}

func headerByte(version byte, commandClass, reliable bool) byte {
	b := (version & 0x0F) << 4
	if commandClass {
		b |= 1 << 3
	}
	if reliable {
		b |= 1 << 2
	}
	return b
}

// Frame is the result of a successful Decode.
type Frame struct {
	Version      byte
	CommandClass bool
	Reliable     bool
	Address      byte
	Nonce        []byte
	Command      byte
	Payload      []byte
	Authenticated bool
}

// DecodeOptions controls how Decode validates an incoming frame.
type DecodeOptions struct {
	// Authenticate, when true, requires and validates an 8-byte MAC using
	// MACKey (the pump→client cipher from the caller's perspective).
	Authenticate bool
	MACKey       []byte
}

// InvalidFrameError reports a structurally malformed frame: wrong declared
// length or CRC mismatch. It is always fatal to the session.
type InvalidFrameError struct {
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("frame: invalid frame: %s", e.Reason)
}

// AuthenticationFailureError reports a MAC mismatch on a received frame.
type AuthenticationFailureError struct{}

func (e *AuthenticationFailureError) Error() string {
	return "frame: MAC authentication failed"
}

// Decode parses a complete wire frame (exactly the bytes of one frame, no
// more, no less — the caller is responsible for splitting a byte stream on
// the little-endian length field at offset 1).
func Decode(data []byte, opts DecodeOptions) (*Frame, error) {
	if len(data) < HeaderSize+2 {
		return nil, &InvalidFrameError{Reason: fmt.Sprintf("frame shorter than minimum header+CRC (%d bytes)", len(data))}
	}

	declaredLen := int(binary.LittleEndian.Uint16(data[1:3]))
	if declaredLen != len(data) {
		return nil, &InvalidFrameError{Reason: fmt.Sprintf("declared length %d does not match received %d bytes", declaredLen, len(data))}
	}

	gotCRC := binary.LittleEndian.Uint16(data[len(data)-2:])
	wantCRC := crcCCITT(data[:len(data)-2])
	if gotCRC != wantCRC {
		return nil, &InvalidFrameError{Reason: fmt.Sprintf("CRC mismatch: frame has %04x, computed %04x", gotCRC, wantCRC)}
	}

	preCRC := data[:len(data)-2]
	payloadEnd := len(preCRC)
	if opts.Authenticate {
		if len(preCRC) < cipher.MACSize {
			return nil, &InvalidFrameError{Reason: "authenticated frame too short for MAC"}
		}
		payloadEnd -= cipher.MACSize
	}
	if payloadEnd < HeaderSize {
		return nil, &InvalidFrameError{Reason: "frame too short for declared header"}
	}

	b0 := preCRC[0]
	version := (b0 >> 4) & 0x0F
	commandClass := b0&(1<<3) != 0
	reliable := b0&(1<<2) != 0
	address := preCRC[3]
	nonce := append([]byte(nil), preCRC[4:4+NonceSize]...)
	command := preCRC[4+NonceSize]
	payload := append([]byte(nil), preCRC[HeaderSize:payloadEnd]...)

	if opts.Authenticate {
		if len(opts.MACKey) != cipher.KeySize {
			return nil, fmt.Errorf("frame: authenticated decode requires a %d-byte MAC key", cipher.KeySize)
		}
		gotMAC := preCRC[payloadEnd:]
		wantMAC, err := cipher.MAC(opts.MACKey, preCRC[:payloadEnd])
		if err != nil {
			return nil, fmt.Errorf("frame: computing expected MAC: %w", err)
		}
		if !constantTimeEqual(gotMAC, wantMAC) {
			return nil, &AuthenticationFailureError{}
		}
	}

	return &Frame{
		Version:       version,
		CommandClass:  commandClass,
		Reliable:      reliable,
		Address:       address,
		Nonce:         nonce,
		Command:       command,
		Payload:       payload,
		Authenticated: opts.Authenticate,
	}, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// CRC16 computes CRC-16-CCITT (poly 0x1021, init 0xFFFF, no reflection, no
// final XOR) over data. It is exported for the application layer, which
// uses the same polynomial over its own header+payload.
func CRC16(data []byte) uint16 {
	return crcCCITT(data)
}

// crcCCITT computes CRC-16-CCITT (poly 0x1021, init 0xFFFF, no reflection,
// no final XOR) over data.
func crcCCITT(data []byte) uint16 {
	const poly = 0x1021
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
