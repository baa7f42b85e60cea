package app

import (
	"encoding/binary"
	"fmt"
)

// BuildCmdPing builds CMD_PING: no payload.
func BuildCmdPing() []byte {
	return Build(ServiceCommand, CmdPing, nil)
}

// BuildCmdReadDateTime builds CMD_READ_DATE_TIME: no payload.
func BuildCmdReadDateTime() []byte {
	return Build(ServiceCommand, CmdReadDateTime, nil)
}

// BuildCmdReadPumpStatus builds CMD_READ_PUMP_STATUS: no payload.
func BuildCmdReadPumpStatus() []byte {
	return Build(ServiceCommand, CmdReadPumpStatus, nil)
}

// BuildCmdReadErrorWarningStatus builds CMD_READ_ERROR_WARNING_STATUS: no
// payload.
func BuildCmdReadErrorWarningStatus() []byte {
	return Build(ServiceCommand, CmdReadErrorWarningStatus, nil)
}

// BuildCmdReadHistoryBlock builds CMD_READ_HISTORY_BLOCK.
func BuildCmdReadHistoryBlock() []byte {
	return Build(ServiceCommand, CmdReadHistoryBlock, nil)
}

// BuildCmdConfirmHistoryBlock builds CMD_CONFIRM_HISTORY_BLOCK.
func BuildCmdConfirmHistoryBlock() []byte {
	return Build(ServiceCommand, CmdConfirmHistoryBlock, nil)
}

// BuildCmdGetBolusStatus builds CMD_GET_BOLUS_STATUS: no payload.
func BuildCmdGetBolusStatus() []byte {
	return Build(ServiceCommand, CmdGetBolusStatus, nil)
}

// BolusKind distinguishes the Combo's bolus delivery modes.
type BolusKind byte

const (
	BolusStandard  BolusKind = 0x01
	BolusExtended  BolusKind = 0x02
	BolusMultiwave BolusKind = 0x03
)

// BuildCmdDeliverBolus builds CMD_DELIVER_BOLUS. amountDeciUnits is the
// bolus amount in tenths of a unit (the Combo's native resolution);
// durationMinutes is only meaningful for extended/multiwave boluses.
func BuildCmdDeliverBolus(kind BolusKind, amountDeciUnits uint16, durationMinutes uint16) []byte {
	payload := make([]byte, 5)
	payload[0] = byte(kind)
	binary.LittleEndian.PutUint16(payload[1:3], amountDeciUnits)
	binary.LittleEndian.PutUint16(payload[3:5], durationMinutes)
	return Build(ServiceCommand, CmdDeliverBolus, payload)
}

// BuildCmdCancelBolus builds CMD_CANCEL_BOLUS: no payload.
func BuildCmdCancelBolus() []byte {
	return Build(ServiceCommand, CmdCancelBolus, nil)
}

// DateTime is the parsed CMD_READ_DATE_TIME response.
type DateTime struct {
	Year   uint16
	Month  byte
	Day    byte
	Hour   byte
	Minute byte
	Second byte
}

// ParseDateTime parses a CMD_READ_DATE_TIME_RESPONSE payload.
func ParseDateTime(payload []byte) (*DateTime, error) {
	if len(payload) < 7 {
		return nil, &InvalidPayloadError{Reason: "date/time payload too short"}
	}
	return &DateTime{
		Year:   binary.LittleEndian.Uint16(payload[0:2]),
		Month:  payload[2],
		Day:    payload[3],
		Hour:   payload[4],
		Minute: payload[5],
		Second: payload[6],
	}, nil
}

// PumpStatus is the parsed CMD_READ_PUMP_STATUS response.
type PumpStatus struct {
	Delivering    bool
	Suspended     bool
	ReservoirLow  bool
	BatteryLow    bool
	BasalRateTenthUnitsPerHour uint16
}

// ParsePumpStatus parses a CMD_READ_PUMP_STATUS_RESPONSE payload: a single
// status-flags byte followed by the current basal rate.
func ParsePumpStatus(payload []byte) (*PumpStatus, error) {
	if len(payload) < 3 {
		return nil, &InvalidPayloadError{Reason: "pump status payload too short"}
	}
	flags := payload[0]
	return &PumpStatus{
		Delivering:                 flags&0x01 != 0,
		Suspended:                  flags&0x02 != 0,
		ReservoirLow:               flags&0x04 != 0,
		BatteryLow:                 flags&0x08 != 0,
		BasalRateTenthUnitsPerHour: binary.LittleEndian.Uint16(payload[1:3]),
	}, nil
}

// ErrorWarningStatus is the parsed CMD_READ_ERROR_WARNING_STATUS response.
type ErrorWarningStatus struct {
	ErrorCode   uint16
	WarningCode uint16
}

// ParseErrorWarningStatus parses a CMD_READ_ERROR_WARNING_STATUS_RESPONSE
// payload.
func ParseErrorWarningStatus(payload []byte) (*ErrorWarningStatus, error) {
	if len(payload) < 4 {
		return nil, &InvalidPayloadError{Reason: "error/warning status payload too short"}
	}
	return &ErrorWarningStatus{
		ErrorCode:   binary.LittleEndian.Uint16(payload[0:2]),
		WarningCode: binary.LittleEndian.Uint16(payload[2:4]),
	}, nil
}

// BolusStatus is the parsed CMD_GET_BOLUS_STATUS response.
type BolusStatus struct {
	Active                  bool
	Kind                    BolusKind
	RemainingDeciUnits      uint16
	RemainingDurationMinutes uint16
}

// ParseBolusStatus parses a CMD_GET_BOLUS_STATUS_RESPONSE payload.
func ParseBolusStatus(payload []byte) (*BolusStatus, error) {
	if len(payload) < 6 {
		return nil, &InvalidPayloadError{Reason: "bolus status payload too short"}
	}
	return &BolusStatus{
		Active:                   payload[0] != 0,
		Kind:                     BolusKind(payload[1]),
		RemainingDeciUnits:       binary.LittleEndian.Uint16(payload[2:4]),
		RemainingDurationMinutes: binary.LittleEndian.Uint16(payload[4:6]),
	}, nil
}

// HistoryEvent is one event inside a history block. The Combo's full event
// taxonomy (bolus delivered, TBR started, alarm raised, ...) is business
// logic out of this driver's scope; EventData is left for a higher layer to
// interpret.
type HistoryEvent struct {
	EventID   uint16
	Timestamp DateTime
	EventData []byte
}

const historyEventFixedSize = 2 + 7 // EventID + Timestamp

func parseHistoryEvent(b []byte) (*HistoryEvent, []byte, error) {
	if len(b) < historyEventFixedSize {
		return nil, nil, fmt.Errorf("app: history event truncated (%d bytes left)", len(b))
	}
	id := binary.LittleEndian.Uint16(b[0:2])
	ts, err := ParseDateTime(b[2:9])
	if err != nil {
		return nil, nil, err
	}
	if len(b) < historyEventFixedSize+1 {
		return nil, nil, fmt.Errorf("app: history event missing length byte")
	}
	dataLen := int(b[historyEventFixedSize])
	start := historyEventFixedSize + 1
	if len(b) < start+dataLen {
		return nil, nil, fmt.Errorf("app: history event data truncated")
	}
	ev := &HistoryEvent{
		EventID:   id,
		Timestamp: *ts,
		EventData: append([]byte(nil), b[start:start+dataLen]...),
	}
	return ev, b[start+dataLen:], nil
}

// HistoryBlock is the parsed CMD_READ_HISTORY_BLOCK_RESPONSE payload.
type HistoryBlock struct {
	Events              []HistoryEvent
	MoreEventsAvailable bool
	NumRemainingEvents  uint16
}

// ParseHistoryBlock parses a CMD_READ_HISTORY_BLOCK_RESPONSE payload: a
// 2-byte event count, that many variable-length events, a 1-byte
// more-events-available flag, and a 2-byte remaining-event count
//.
func ParseHistoryBlock(payload []byte) (*HistoryBlock, error) {
	if len(payload) < 2 {
		return nil, &InvalidPayloadError{Reason: "history block payload too short for event count"}
	}
	count := binary.LittleEndian.Uint16(payload[0:2])
	rest := payload[2:]

	events := make([]HistoryEvent, 0, count)
	for i := uint16(0); i < count; i++ {
		ev, tail, err := parseHistoryEvent(rest)
		if err != nil {
			return nil, &InvalidPayloadError{Reason: fmt.Sprintf("history event %d: %v", i, err)}
		}
		events = append(events, *ev)
		rest = tail
	}

	if len(rest) < 3 {
		return nil, &InvalidPayloadError{Reason: "history block payload too short for trailer"}
	}
	return &HistoryBlock{
		Events:              events,
		MoreEventsAvailable: rest[0] != 0,
		NumRemainingEvents:  binary.LittleEndian.Uint16(rest[1:3]),
	}, nil
}
