package app

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeHistoryBlock(t *testing.T, events int, more bool, remaining uint16) []byte {
	t.Helper()
	payload := make([]byte, 0, 64)
	countBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(countBytes, uint16(events))
	payload = append(payload, countBytes...)

	for i := 0; i < events; i++ {
		idBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(idBytes, uint16(i))
		payload = append(payload, idBytes...)
		payload = append(payload, 0x08, 0x00, 1, 1, 0, 0, 0) // DateTime: year 8, month 1, day 1
		payload = append(payload, 0)                         // event data length 0
	}
	flag := byte(0)
	if more {
		flag = 1
	}
	payload = append(payload, flag)
	remBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(remBytes, remaining)
	payload = append(payload, remBytes...)
	return payload
}

func TestReadHistoryDeltaTerminatesOnMoreFalse(t *testing.T) {
	blocks := [][]byte{
		encodeHistoryBlock(t, 5, true, 10),
		encodeHistoryBlock(t, 5, true, 5),
		encodeHistoryBlock(t, 3, false, 0),
	}
	reads, confirms := 0, 0

	events, stats, err := ReadHistoryDelta(20,
		func() ([]byte, error) {
			b := blocks[reads]
			reads++
			return b, nil
		},
		func() error {
			confirms++
			return nil
		},
	)
	require.NoError(t, err)
	assert.Len(t, events, 13)
	assert.Equal(t, 3, reads)
	assert.Equal(t, 3, confirms)
	assert.Equal(t, 13, stats.EventsReturned)
	assert.Equal(t, 0, stats.BlocksRetried)
}

func TestReadHistoryDeltaTerminatesOnRemainingLessThanEvents(t *testing.T) {
	blocks := [][]byte{
		encodeHistoryBlock(t, 5, true, 4), // remaining < events seen in this block -> stop
	}
	reads := 0
	events, _, err := ReadHistoryDelta(20,
		func() ([]byte, error) { b := blocks[reads]; reads++; return b, nil },
		func() error { return nil },
	)
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Equal(t, 1, reads)
}

func TestReadHistoryDeltaRetriesCorruptedBlockWithoutFailing(t *testing.T) {
	goodBlock := encodeHistoryBlock(t, 2, false, 0)
	attempt := 0

	events, stats, err := ReadHistoryDelta(20,
		func() ([]byte, error) {
			attempt++
			if attempt == 1 {
				return []byte{0x01}, nil // too short, will fail to parse
			}
			return goodBlock, nil
		},
		func() error { return nil },
	)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, stats.BlocksRetried)
	assert.Equal(t, 2, stats.BlocksRequested)
}

func TestReadHistoryDeltaExceedsCap(t *testing.T) {
	_, _, err := ReadHistoryDelta(10,
		func() ([]byte, error) { return encodeHistoryBlock(t, 1, true, 100), nil },
		func() error { return nil },
	)
	require.Error(t, err)
	var infinite *InfiniteHistoryDataError
	require.ErrorAs(t, err, &infinite)
	assert.Equal(t, 10, infinite.MaxRequests)
}

func TestReadHistoryDeltaPropagatesReadError(t *testing.T) {
	wantErr := errors.New("boom")
	_, _, err := ReadHistoryDelta(10,
		func() ([]byte, error) { return nil, wantErr },
		func() error { return nil },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}
