package app

import (
	"encoding/binary"
	"fmt"

	"github.com/comboctl/combodrv/pkg/combo/frame"
)

// headerSize is service(1) + version(1) + command(2).
const headerSize = 4

// crcSize is the trailing CRC-16 appended after the payload.
const crcSize = 2

// Packet is a parsed application-layer packet, the payload of a transport
// DATA frame.
type Packet struct {
	Service Service
	Version byte
	Command Command
	Payload []byte
}

// Build serializes service/version/command/payload into transport DATA
// payload bytes: a 4-byte header followed by payload followed by a
// CRC-16-CCITT computed over header+payload.
func Build(service Service, command Command, payload []byte) []byte {
	body := make([]byte, headerSize+len(payload))
	body[0] = byte(service)
	body[1] = AppVersion
	binary.LittleEndian.PutUint16(body[2:4], uint16(command))
	copy(body[headerSize:], payload)

	crc := frame.CRC16(body)
	out := make([]byte, len(body)+crcSize)
	copy(out, body)
	binary.LittleEndian.PutUint16(out[len(body):], crc)
	return out
}

// InvalidPayloadError reports an application packet that failed to parse:
// too short, bad CRC, or (for a specific command) an unexpected payload
// shape. Fatal to the current operation, not to the session.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("app: invalid payload: %s", e.Reason)
}

// Parse validates and decodes raw transport DATA payload bytes into a
// Packet.
func Parse(data []byte) (*Packet, error) {
	if len(data) < headerSize+crcSize {
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("packet shorter than header+CRC (%d bytes)", len(data))}
	}

	body := data[:len(data)-crcSize]
	gotCRC := binary.LittleEndian.Uint16(data[len(data)-crcSize:])
	wantCRC := frame.CRC16(body)
	if gotCRC != wantCRC {
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("CRC mismatch: packet has %04x, computed %04x", gotCRC, wantCRC)}
	}

	return &Packet{
		Service: Service(body[0]),
		Version: body[1],
		Command: Command(binary.LittleEndian.Uint16(body[2:4])),
		Payload: append([]byte(nil), body[headerSize:]...),
	}, nil
}
