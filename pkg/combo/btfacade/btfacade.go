// Package btfacade defines the narrow external interfaces the rest of this
// module depends on for Bluetooth discovery/pairing and RFCOMM byte
// transport. No implementation lives here: host Bluetooth stacks differ
// enough (BlueZ, Windows, CoreBluetooth) that wiring a concrete stack is
// left to the integrator, exactly as the driver's own scope excludes
// "how to talk to the host Bluetooth adapter".
package btfacade

import (
	"context"
	"fmt"
)

// Stream is a narrow byte-oriented transport: a single open RFCOMM channel
// to one pump. Implementations do not need to be safe for concurrent use
// by multiple goroutines calling the same method, but a concurrent Send and
// Receive from different goroutines must be safe, mirroring the driver's
// own split between a sender and a dedicated receiver goroutine.
type Stream interface {
	// Send writes exactly len(data) bytes, or returns an error.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until one complete frame is available and returns
	// exactly that frame's bytes. transport.Session decodes each returned
	// slice as a single frame; it does not buffer partial frames or split
	// a slice that holds more than one.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the underlying RFCOMM socket. Idempotent.
	Close() error
}

// StreamError wraps a failure from a Stream implementation, distinguishing
// transport faults (disconnects, I/O errors) from protocol faults raised
// above this package.
type StreamError struct {
	Op    string
	Cause error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("btfacade: %s: %v", e.Op, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Address identifies a Bluetooth device, typically a 6-byte MAC in
// "AA:BB:CC:DD:EE:FF" form. Kept as a string since its exact structure is
// a host Bluetooth stack concern, not this driver's.
type Address string

// DiscoveredDevice is a candidate pump surfaced during discovery.
type DiscoveredDevice struct {
	Address Address
	Name    string
}

// Facade abstracts the host Bluetooth adapter: discovery, pairing, and
// opening an RFCOMM channel to a paired device. Implementations are
// expected to filter discovery results down to devices whose name matches
// the pump's advertised pattern before returning them.
type Facade interface {
	// StartDiscovery begins scanning and delivers candidates on the
	// returned channel until ctx is cancelled or the channel is closed
	// by the implementation.
	StartDiscovery(ctx context.Context) (<-chan DiscoveredDevice, error)

	// Pair initiates Bluetooth-level pairing (distinct from this
	// driver's own application-layer pairing) with the given device,
	// invoking pin whenever the host stack needs a legacy PIN.
	Pair(ctx context.Context, addr Address, pin PINCallback) error

	// PairedAddresses lists devices already paired at the host
	// Bluetooth level.
	PairedAddresses(ctx context.Context) ([]Address, error)

	// OpenRFCOMM opens an RFCOMM channel to an already-paired device.
	OpenRFCOMM(ctx context.Context, addr Address) (Stream, error)
}

// PINCallback supplies a 10-digit PIN: pumpio.Pair uses it for the Combo's
// application-layer pairing PIN, and Facade.Pair takes one for a legacy
// host-level Bluetooth PIN. previousFailed
// is true when a prior attempt in the same pairing was rejected, letting
// the caller re-prompt instead of silently reusing a rejected value.
type PINCallback func(ctx context.Context, previousFailed bool) (pin [10]byte, err error)
