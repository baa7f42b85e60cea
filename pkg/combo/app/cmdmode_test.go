package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCmdDeliverBolusAndParsePacket(t *testing.T) {
	wire := BuildCmdDeliverBolus(BolusExtended, 120, 30)
	pkt, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, CmdDeliverBolus, pkt.Command)
	assert.Equal(t, []byte{byte(BolusExtended), 120, 0, 30, 0}, pkt.Payload)
}

func TestParseDateTimeRoundTrip(t *testing.T) {
	payload := []byte{0xE7, 0x07, 6, 15, 12, 30, 45} // 2023-06-15 12:30:45
	dt, err := ParseDateTime(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(2023), dt.Year)
	assert.Equal(t, byte(6), dt.Month)
	assert.Equal(t, byte(15), dt.Day)
	assert.Equal(t, byte(12), dt.Hour)
	assert.Equal(t, byte(30), dt.Minute)
	assert.Equal(t, byte(45), dt.Second)
}

func TestParseDateTimeRejectsShortPayload(t *testing.T) {
	_, err := ParseDateTime([]byte{1, 2, 3})
	require.Error(t, err)
	var invalid *InvalidPayloadError
	assert.ErrorAs(t, err, &invalid)
}

func TestParsePumpStatusDecodesFlags(t *testing.T) {
	payload := []byte{0x05, 0x64, 0x00} // delivering + reservoir low, basal 100
	status, err := ParsePumpStatus(payload)
	require.NoError(t, err)
	assert.True(t, status.Delivering)
	assert.False(t, status.Suspended)
	assert.True(t, status.ReservoirLow)
	assert.False(t, status.BatteryLow)
	assert.Equal(t, uint16(100), status.BasalRateTenthUnitsPerHour)
}

func TestParseErrorWarningStatus(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x02, 0x00}
	status, err := ParseErrorWarningStatus(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), status.ErrorCode)
	assert.Equal(t, uint16(2), status.WarningCode)
}

func TestParseBolusStatusDecodesActive(t *testing.T) {
	payload := []byte{0x01, byte(BolusStandard), 0x32, 0x00, 0x00, 0x00}
	status, err := ParseBolusStatus(payload)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, BolusStandard, status.Kind)
	assert.Equal(t, uint16(50), status.RemainingDeciUnits)
	assert.Equal(t, uint16(0), status.RemainingDurationMinutes)
}

func TestParseHistoryBlockRoundTrip(t *testing.T) {
	payload := encodeHistoryBlock(t, 2, true, 9)
	block, err := ParseHistoryBlock(payload)
	require.NoError(t, err)
	require.Len(t, block.Events, 2)
	assert.Equal(t, uint16(0), block.Events[0].EventID)
	assert.Equal(t, uint16(1), block.Events[1].EventID)
	assert.True(t, block.MoreEventsAvailable)
	assert.Equal(t, uint16(9), block.NumRemainingEvents)
}

func TestParseHistoryBlockRejectsTruncatedTrailer(t *testing.T) {
	payload := encodeHistoryBlock(t, 1, false, 0)
	truncated := payload[:len(payload)-1]
	_, err := ParseHistoryBlock(truncated)
	require.Error(t, err)
}

func TestParseHistoryBlockRejectsTruncatedEvent(t *testing.T) {
	_, err := ParseHistoryBlock([]byte{0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
}
