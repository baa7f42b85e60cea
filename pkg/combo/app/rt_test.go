package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTSequenceResetsAndAdvances(t *testing.T) {
	var seq RTSequence
	assert.Equal(t, uint16(0), seq.Current())
	assert.Equal(t, uint16(0), seq.Advance())
	assert.Equal(t, uint16(1), seq.Advance())

	seq.Reset()
	assert.Equal(t, uint16(0), seq.Current())
}

func TestRTSequenceWraps(t *testing.T) {
	seq := RTSequence{next: 65535}
	assert.Equal(t, uint16(65535), seq.Advance())
	assert.Equal(t, uint16(0), seq.Current())
}

func TestCombineButtonsIsBitwiseOr(t *testing.T) {
	code := CombineButtons(ButtonMenu, ButtonCheck)
	assert.Equal(t, ButtonMenu|ButtonCheck, code)
	assert.Equal(t, ButtonNone, CombineButtons())
}

func TestBuildRTButtonStatusPrependsSequence(t *testing.T) {
	var seq RTSequence
	wire := BuildRTButtonStatus(&seq, ButtonMenu, true)

	pkt, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, ServiceRemoteTerminal, pkt.Service)
	assert.Equal(t, CmdRTButtonStatus, pkt.Command)

	gotSeq, rest, err := StripRTSequence(pkt.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), gotSeq)
	assert.Equal(t, []byte{byte(ButtonMenu), 1}, rest)

	// Second call consumes the next sequence number.
	wire2 := BuildRTButtonStatus(&seq, ButtonNone, true)
	pkt2, err := Parse(wire2)
	require.NoError(t, err)
	seq2, _, err := StripRTSequence(pkt2.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), seq2)
}

func TestBuildRTKeepAlive(t *testing.T) {
	var seq RTSequence
	wire := BuildRTKeepAlive(&seq)
	pkt, err := Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, CmdRTKeepAlive, pkt.Command)
}
