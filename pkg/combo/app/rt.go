package app

import (
	"encoding/binary"
	"fmt"
)

// RTSequence is the 16-bit counter prepended to every outgoing RT
// application packet. It resets to 0 whenever RT_MODE is (re)activated and
// wraps at 65535.
type RTSequence struct {
	next uint16
}

// Reset sets the sequence back to 0, as required on every RT_MODE
// (re)activation.
func (s *RTSequence) Reset() {
	s.next = 0
}

// Current returns the next value that will be used, without consuming it.
func (s *RTSequence) Current() uint16 {
	return s.next
}

// Advance returns the sequence number to use for the packet about to be
// sent and increments the counter, wrapping at 65535.
func (s *RTSequence) Advance() uint16 {
	v := s.next
	s.next++ // uint16 wraps natively at 65535 -> 0
	return v
}

// Button is a single Combo RT button. Buttons combine with bitwise OR into
// a single code, matching the pump's own encoding.
type Button byte

const (
	ButtonNone  Button = 0x00
	ButtonUp    Button = 0x01
	ButtonDown  Button = 0x02
	ButtonMenu  Button = 0x04
	ButtonCheck Button = 0x08
	ButtonBack  Button = 0x10
)

// CombineButtons ORs a set of simultaneously pressed buttons into a single
// wire code.
func CombineButtons(buttons ...Button) Button {
	var code Button
	for _, b := range buttons {
		code |= b
	}
	return code
}

// buildRTPayload prepends the current RT sequence number (little-endian)
// to payload, as every RT application packet requires, then wraps it in
// the standard application header.
func buildRTPayload(seq *RTSequence, command Command, payload []byte) []byte {
	body := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(body[:2], seq.Advance())
	copy(body[2:], payload)
	return Build(ServiceRemoteTerminal, command, body)
}

// BuildRTButtonStatus builds RT_BUTTON_STATUS for the given combined button
// code and "changed" flag, consuming the next RT sequence number.
func BuildRTButtonStatus(seq *RTSequence, code Button, changed bool) []byte {
	changedByte := byte(0)
	if changed {
		changedByte = 1
	}
	return buildRTPayload(seq, CmdRTButtonStatus, []byte{byte(code), changedByte})
}

// BuildRTKeepAlive builds RT_KEEP_ALIVE, consuming the next RT sequence
// number.
func BuildRTKeepAlive(seq *RTSequence) []byte {
	return buildRTPayload(seq, CmdRTKeepAlive, nil)
}

// RTDisplayPayload is one quarter (one row) of a display frame as carried
// on the wire.
type RTDisplayPayload struct {
	FrameIndex byte
	RowIndex   byte // 0..3
	RowData    []byte // 96 bytes, native pixel layout
}

// ParseRTDisplay parses an RT_DISPLAY application payload. The 16-bit RT
// sequence number prefix has already been stripped by the caller (pumpio's
// RT_DISPLAY handler strips and discards it; it is not part of the logical
// display payload).
func ParseRTDisplay(payload []byte) (*RTDisplayPayload, error) {
	const rowBytes = 96
	if len(payload) != 2+rowBytes {
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("RT_DISPLAY payload must be %d bytes, got %d", 2+rowBytes, len(payload))}
	}
	if payload[1] > 3 {
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("RT_DISPLAY row index %d out of range 0..3", payload[1])}
	}
	return &RTDisplayPayload{
		FrameIndex: payload[0],
		RowIndex:   payload[1],
		RowData:    append([]byte(nil), payload[2:]...),
	}, nil
}

// StripRTSequence splits the leading 16-bit RT sequence number from an
// incoming RT application packet's payload, returning the sequence number
// and the remaining logical payload.
func StripRTSequence(payload []byte) (uint16, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, &InvalidPayloadError{Reason: "RT payload too short for sequence number"}
	}
	return binary.LittleEndian.Uint16(payload[:2]), payload[2:], nil
}
