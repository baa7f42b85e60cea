package app

import (
	"fmt"
	"log/slog"
)

// InfiniteHistoryDataError reports that the read/confirm loop exceeded its
// request cap without the pump ever reporting completion. Fatal to the
// operation.
type InfiniteHistoryDataError struct {
	MaxRequests int
}

func (e *InfiniteHistoryDataError) Error() string {
	return fmt.Sprintf("app: history delta exceeded %d requests without completing", e.MaxRequests)
}

// HistoryStats reports how much work a ReadHistoryDelta call did,
// supplementing the read/confirm loop with the counts a caller
// needs to surface retries without exposing raw wire traffic.
type HistoryStats struct {
	BlocksRequested int
	BlocksRetried   int
	EventsReturned  int
}

// MinMaxRequests is the smallest allowed value for ReadHistoryDelta's cap,
// the protocol requires a hard cap of max_requests (>= 10).
const MinMaxRequests = 10

// ReadHistoryDelta drives the CMD history-delta read/confirm loop.
// readBlock performs one CMD_READ_HISTORY_BLOCK exchange and returns the
// raw response payload; confirmBlock performs the matching
// CMD_CONFIRM_HISTORY_BLOCK exchange for a block that parsed successfully.
// A block that fails to parse is logged and the read is retried without
// confirming it; the loop does not fail on a single block-parse error.
// It stops when a block reports more_events_available == false, or
// num_remaining_events strictly less than the number of events in that
// block (a block reporting exactly as many remaining events as it just
// returned is not yet done: those remaining events are still to come),
// or when maxRequests reads have been attempted, in which case it
// returns InfiniteHistoryDataError.
func ReadHistoryDelta(maxRequests int, readBlock func() ([]byte, error), confirmBlock func() error) ([]HistoryEvent, HistoryStats, error) {
	if maxRequests < MinMaxRequests {
		maxRequests = MinMaxRequests
	}

	var events []HistoryEvent
	var stats HistoryStats

	for stats.BlocksRequested < maxRequests {
		stats.BlocksRequested++

		raw, err := readBlock()
		if err != nil {
			return nil, stats, fmt.Errorf("app: history block read: %w", err)
		}

		block, err := ParseHistoryBlock(raw)
		if err != nil {
			slog.Warn("corrupted history block, retrying", "attempt", stats.BlocksRequested, "error", err)
			stats.BlocksRetried++
			continue
		}

		events = append(events, block.Events...)
		stats.EventsReturned = len(events)

		if err := confirmBlock(); err != nil {
			return nil, stats, fmt.Errorf("app: history block confirm: %w", err)
		}

		if !block.MoreEventsAvailable || int(block.NumRemainingEvents) < len(block.Events) {
			return events, stats, nil
		}
	}

	return nil, stats, &InfiniteHistoryDataError{MaxRequests: maxRequests}
}
