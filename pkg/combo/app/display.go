package app

import "fmt"

// DisplayWidth and DisplayHeight are the Combo RT display dimensions.
const (
	DisplayWidth  = 96
	DisplayHeight = 32
	// DisplayFrameBytes is the canonical row-major, MSB-first frame size:
	// DisplayWidth*DisplayHeight/8.
	DisplayFrameBytes = DisplayWidth * DisplayHeight / 8

	rowsPerWireRow = 8 // each RT_DISPLAY row covers an 8-pixel-tall band
	wireRowCount   = DisplayHeight / rowsPerWireRow
)

// DisplayFrame is a complete, reassembled 96x32 monochrome bitmap in
// canonical row-major, MSB-first layout: pixel (x,y) lives at bit
// 7-(x mod 8) of byte (x + y*DisplayWidth)/8.
type DisplayFrame struct {
	Index byte
	Pixels [DisplayFrameBytes]byte
}

// Get reports whether pixel (x,y) is set.
func (f *DisplayFrame) Get(x, y int) bool {
	byteIdx, bitIdx := canonicalPosition(x, y)
	return f.Pixels[byteIdx]&(1<<bitIdx) != 0
}

func (f *DisplayFrame) set(x, y int, v bool) {
	byteIdx, bitIdx := canonicalPosition(x, y)
	if v {
		f.Pixels[byteIdx] |= 1 << bitIdx
	} else {
		f.Pixels[byteIdx] &^= 1 << bitIdx
	}
}

func canonicalPosition(x, y int) (byteIdx int, bitIdx uint) {
	byteIdx = (x + y*DisplayWidth) / 8
	bitIdx = uint(7 - (x % 8))
	return
}

// EncodeWireRow renders one RT_DISPLAY row payload (96 bytes) for the
// given wire row index out of a canonical frame: byte x encodes pixels
// (x, wireRow*8) through (x, wireRow*8+7) with bit 0 the topmost pixel of
// the band. Composed with DisplayAssembler.AddRow this is an involution on
// (x, y). Used by tests and by the pump emulator to
// produce synthetic RT_DISPLAY traffic.
func EncodeWireRow(f *DisplayFrame, wireRow byte) []byte {
	out := make([]byte, DisplayWidth)
	for x := 0; x < DisplayWidth; x++ {
		for py := 0; py < rowsPerWireRow; py++ {
			y := int(wireRow)*rowsPerWireRow + py
			if f.Get(x, y) {
				out[x] |= 1 << uint(py)
			}
		}
	}
	return out
}

// DisplayAssembler reconstructs DisplayFrame values from a stream of
// RT_DISPLAY rows. A complete frame is emitted only once all four rows for
// the current frame index have arrived; receiving a row with a different
// index resets assembly to that new index and discards whatever was
// collected so far.
type DisplayAssembler struct {
	index    byte
	started  bool
	received [wireRowCount]bool
	frame    DisplayFrame
}

// NewDisplayAssembler returns an assembler with no partial state.
func NewDisplayAssembler() *DisplayAssembler {
	return &DisplayAssembler{}
}

// Reset discards any partial frame, as required on RT_MODE
// (re)activation and on reconnect.
func (a *DisplayAssembler) Reset() {
	*a = DisplayAssembler{}
}

// AddRow feeds one RT_DISPLAY row into the assembler. It returns a
// complete DisplayFrame and true once all four rows for the current index
// have been received; otherwise it returns (nil, false, nil). A malformed
// row yields an error.
func (a *DisplayAssembler) AddRow(row *RTDisplayPayload) (*DisplayFrame, bool, error) {
	if len(row.RowData) != DisplayWidth {
		return nil, false, fmt.Errorf("app: display row must carry %d bytes, got %d", DisplayWidth, len(row.RowData))
	}
	if row.RowIndex >= wireRowCount {
		return nil, false, fmt.Errorf("app: display row index %d out of range 0..%d", row.RowIndex, wireRowCount-1)
	}

	if !a.started || row.FrameIndex != a.index {
		a.index = row.FrameIndex
		a.started = true
		a.received = [wireRowCount]bool{}
		a.frame = DisplayFrame{Index: row.FrameIndex}
	}

	for x := 0; x < DisplayWidth; x++ {
		b := row.RowData[x]
		for py := 0; py < rowsPerWireRow; py++ {
			y := int(row.RowIndex)*rowsPerWireRow + py
			a.frame.set(x, y, b&(1<<uint(py)) != 0)
		}
	}
	a.received[row.RowIndex] = true

	for _, got := range a.received {
		if !got {
			return nil, false, nil
		}
	}

	complete := a.frame
	a.received = [wireRowCount]bool{}
	a.started = false
	return &complete, true, nil
}
