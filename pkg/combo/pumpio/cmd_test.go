package pumpio

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/frame"
)

func TestCmdOperationsRejectOutsideCommandMode(t *testing.T) {
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte { return nil })
	p.mode = ModeRemoteTerminal

	_, err := p.ReadDateTime(context.Background())
	var wrongMode *NotInCommandModeError
	require.ErrorAs(t, err, &wrongMode)
}

func TestReadDateTime(t *testing.T) {
	invariant := testInvariantData("TESTPUMP")
	payload := []byte{0xE8, 0x07, 7, 31, 12, 30, 0} // year 2024, 07-31 12:30:00
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		pkt, err := app.Parse(f.Payload)
		if err != nil || pkt.Command != app.CmdReadDateTime {
			return nil
		}
		return [][]byte{replyAppFrame(invariant, app.CmdReadDateTimeResponse, payload)}
	})
	p.mode = ModeCommand

	dt, err := p.ReadDateTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(31), dt.Day)
	assert.Equal(t, byte(7), dt.Month)
	assert.Equal(t, byte(12), dt.Hour)
}

func TestReadPumpStatus(t *testing.T) {
	invariant := testInvariantData("TESTPUMP")
	payload := make([]byte, 3)
	payload[0] = 0x01 | 0x08 // delivering, battery low
	binary.LittleEndian.PutUint16(payload[1:3], 120)
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		pkt, err := app.Parse(f.Payload)
		if err != nil || pkt.Command != app.CmdReadPumpStatus {
			return nil
		}
		return [][]byte{replyAppFrame(invariant, app.CmdReadPumpStatusResponse, payload)}
	})
	p.mode = ModeCommand

	status, err := p.ReadPumpStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Delivering)
	assert.True(t, status.BatteryLow)
	assert.False(t, status.Suspended)
	assert.Equal(t, uint16(120), status.BasalRateTenthUnitsPerHour)
}

func TestDeliverBolusAndCancelBolus(t *testing.T) {
	invariant := testInvariantData("TESTPUMP")
	var gotDeliver, gotCancel bool
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		pkt, err := app.Parse(f.Payload)
		if err != nil {
			return nil
		}
		switch pkt.Command {
		case app.CmdDeliverBolus:
			gotDeliver = true
			return [][]byte{replyAppFrame(invariant, app.CmdDeliverBolusResponse, nil)}
		case app.CmdCancelBolus:
			gotCancel = true
			return [][]byte{replyAppFrame(invariant, app.CmdCancelBolusResponse, nil)}
		default:
			return nil
		}
	})
	p.mode = ModeCommand

	require.NoError(t, p.DeliverBolus(context.Background(), app.BolusStandard, 50, 0))
	assert.True(t, gotDeliver)
	require.NoError(t, p.CancelBolus(context.Background()))
	assert.True(t, gotCancel)
}

// encodeHistoryEvent builds one wire-format history event: EventID,
// 7-byte timestamp, a length byte, and that much event data.
func encodeHistoryEvent(id uint16, data []byte) []byte {
	b := make([]byte, 2+7+1+len(data))
	binary.LittleEndian.PutUint16(b[0:2], id)
	copy(b[2:9], []byte{0xE8, 0x07, 7, 31, 0, 0, 0})
	b[9] = byte(len(data))
	copy(b[10:], data)
	return b
}

// encodeHistoryBlock builds a CMD_READ_HISTORY_BLOCK_RESPONSE payload with
// n trivial events.
func encodeHistoryBlock(n int, more bool, remaining uint16) []byte {
	var buf []byte
	count := make([]byte, 2)
	binary.LittleEndian.PutUint16(count, uint16(n))
	buf = append(buf, count...)
	for i := 0; i < n; i++ {
		buf = append(buf, encodeHistoryEvent(uint16(i), nil)...)
	}
	moreByte := byte(0)
	if more {
		moreByte = 1
	}
	buf = append(buf, moreByte)
	remBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(remBytes, remaining)
	buf = append(buf, remBytes...)
	return buf
}

func TestReadHistoryDrainsFullDelta(t *testing.T) {
	invariant := testInvariantData("TESTPUMP")
	blocks := [][]byte{
		encodeHistoryBlock(3, true, 3),
		encodeHistoryBlock(2, false, 0),
	}
	blockIdx := 0
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		pkt, err := app.Parse(f.Payload)
		if err != nil {
			return nil
		}
		switch pkt.Command {
		case app.CmdReadHistoryBlock:
			return [][]byte{replyAppFrame(invariant, app.CmdReadHistoryBlockResp, blocks[blockIdx])}
		case app.CmdConfirmHistoryBlock:
			blockIdx++
			return [][]byte{replyAppFrame(invariant, app.CmdConfirmHistoryBlockResp, nil)}
		default:
			return nil
		}
	})
	p.mode = ModeCommand

	events, stats, err := p.ReadHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Equal(t, 2, stats.BlocksRequested)
}
