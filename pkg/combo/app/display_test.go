package app

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFrame(seed int64) *DisplayFrame {
	r := rand.New(rand.NewSource(seed))
	f := &DisplayFrame{Index: 7}
	for i := range f.Pixels {
		f.Pixels[i] = byte(r.Intn(256))
	}
	return f
}

func TestEncodeDecodeWireRowRoundTrip(t *testing.T) {
	original := randomFrame(1)

	asm := NewDisplayAssembler()
	var got *DisplayFrame
	for wireRow := byte(0); wireRow < wireRowCount; wireRow++ {
		rowData := EncodeWireRow(original, wireRow)
		frame, done, err := asm.AddRow(&RTDisplayPayload{FrameIndex: original.Index, RowIndex: wireRow, RowData: rowData})
		require.NoError(t, err)
		if done {
			got = frame
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, original.Pixels, got.Pixels)
	assert.Equal(t, original.Index, got.Index)
}

func TestAssemblerRequiresAllFourRows(t *testing.T) {
	original := randomFrame(2)
	asm := NewDisplayAssembler()

	for wireRow := byte(0); wireRow < wireRowCount-1; wireRow++ {
		rowData := EncodeWireRow(original, wireRow)
		_, done, err := asm.AddRow(&RTDisplayPayload{FrameIndex: original.Index, RowIndex: wireRow, RowData: rowData})
		require.NoError(t, err)
		assert.False(t, done)
	}
}

func TestAssemblerResetsOnIndexChange(t *testing.T) {
	asm := NewDisplayAssembler()

	f1 := randomFrame(3)
	_, done, err := asm.AddRow(&RTDisplayPayload{FrameIndex: f1.Index, RowIndex: 0, RowData: EncodeWireRow(f1, 0)})
	require.NoError(t, err)
	assert.False(t, done)

	f2 := randomFrame(4)
	f2.Index = f1.Index + 1
	for wireRow := byte(0); wireRow < wireRowCount; wireRow++ {
		rowData := EncodeWireRow(f2, wireRow)
		frame, done, err := asm.AddRow(&RTDisplayPayload{FrameIndex: f2.Index, RowIndex: wireRow, RowData: rowData})
		require.NoError(t, err)
		if wireRow == wireRowCount-1 {
			require.True(t, done)
			assert.Equal(t, f2.Pixels, frame.Pixels)
		} else {
			assert.False(t, done)
		}
	}
}

func TestPixelBitPacking(t *testing.T) {
	f := &DisplayFrame{}
	f.set(0, 0, true)
	assert.True(t, f.Get(0, 0))
	assert.Equal(t, byte(0x80), f.Pixels[0])

	f2 := &DisplayFrame{}
	f2.set(7, 0, true)
	assert.Equal(t, byte(0x01), f2.Pixels[0])
}

func TestParseRTDisplayValidatesShape(t *testing.T) {
	_, err := ParseRTDisplay([]byte{1, 2, 3})
	require.Error(t, err)

	payload := make([]byte, 2+DisplayWidth)
	payload[0] = 5
	payload[1] = 9 // out of range row index
	_, err = ParseRTDisplay(payload)
	require.Error(t, err)

	payload[1] = 2
	got, err := ParseRTDisplay(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(5), got.FrameIndex)
	assert.Equal(t, byte(2), got.RowIndex)
}
