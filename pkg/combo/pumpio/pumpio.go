// Package pumpio is the session orchestrator: it drives the pairing and
// connect state machines, switches between RT and CMD mode, coordinates
// RT button presses against the pump's confirmation barrier, and runs the
// per-mode heartbeat tasks, all on top of a transport.Session.
package pumpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// Mode is the pump's currently active application-layer service.
type Mode int

const (
	// ModeNone is the state before the first mode activation.
	ModeNone Mode = iota
	ModeRemoteTerminal
	ModeCommand
)

func (m Mode) String() string {
	switch m {
	case ModeRemoteTerminal:
		return "remote-terminal"
	case ModeCommand:
		return "command"
	default:
		return "none"
	}
}

// CmdPingInterval is the period of the CMD-mode ping heartbeat. A var,
// not a const, so tests can shrink it instead of waiting out the real
// interval.
var CmdPingInterval = 1000 * time.Millisecond

// RTKeepAliveInterval is the idle period after which an RT keep-alive is
// sent; any other outgoing send resets this timer. A var for the same
// reason as CmdPingInterval.
var RTKeepAliveInterval = 1000 * time.Millisecond

// ServiceError reports that the pump responded with CTRL_SERVICE_ERROR.
// It is returned to the caller of the failed exchange; it does not stop
// the transport session or mark the PumpIO disconnected (Connect does
// disconnect when its initial mode switch fails this way).
type ServiceError struct {
	Code byte
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("pumpio: pump reported service error 0x%02x", e.Code)
}

// IOError wraps a failure from the underlying stream or transport session
// that is not one of the more specific typed errors.
type IOError struct {
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pumpio: %v", e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}

// NotConnectedError reports an operation that requires an active
// connection attempted while none exists.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("pumpio: %s requires an active connection", e.Op)
}

// PumpIO is the public session handle. One PumpIO serves exactly one pump
//.
type PumpIO struct {
	stream btfacade.Stream
	store  btfacade.StateStore
	pumpID string

	sess *transport.Session

	// exchangeMu serializes every sendAndReceiveApp call end to end, send
	// and its matching receive together, so a concurrent heartbeat and a
	// user call can never interleave on the single-slot forward channel.
	exchangeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	mode      Mode

	rtSeq      app.RTSequence
	assembler  *app.DisplayAssembler
	buttonBar  *barrier
	longPress  *longPressState
	displayUpdates chan *app.DisplayFrame

	cmdHeartbeat *heartbeat
	rtHeartbeat  *rtKeepAlive

	diag diagStats
}

type diagStats struct {
	mu              sync.Mutex
	packetsSent     int
	packetsReceived int
	lastError       error
}

func (d *diagStats) recordSend()          { d.mu.Lock(); d.packetsSent++; d.mu.Unlock() }
func (d *diagStats) recordReceive()       { d.mu.Lock(); d.packetsReceived++; d.mu.Unlock() }
func (d *diagStats) recordError(err error) {
	d.mu.Lock()
	d.lastError = err
	d.mu.Unlock()
}

// Diagnostics is a point-in-time snapshot of session activity, a
// supplemented feature for operators and tests; it exposes no wire-level
// detail the spec considers sensitive.
type Diagnostics struct {
	Connected       bool
	Mode            Mode
	PacketsSent     int
	PacketsReceived int
	LastError       error
}

// Diagnostics returns a snapshot of the current session state.
func (p *PumpIO) Diagnostics() Diagnostics {
	p.mu.Lock()
	connected, mode := p.connected, p.mode
	p.mu.Unlock()

	p.diag.mu.Lock()
	defer p.diag.mu.Unlock()
	return Diagnostics{
		Connected:       connected,
		Mode:            mode,
		PacketsSent:     p.diag.packetsSent,
		PacketsReceived: p.diag.packetsReceived,
		LastError:       p.diag.lastError,
	}
}

// New constructs a PumpIO bound to an RFCOMM stream and a state store.
// pumpID is empty until pairing (or a prior CreatePumpState) establishes
// it.
func New(stream btfacade.Stream, store btfacade.StateStore, pumpID string) *PumpIO {
	return &PumpIO{
		stream:         stream,
		store:          store,
		pumpID:         pumpID,
		assembler:      app.NewDisplayAssembler(),
		buttonBar:      newBarrier(),
		displayUpdates: make(chan *app.DisplayFrame, 1),
	}
}

// DisplayFrames returns the channel completed RT display frames are
// published on. It is single-slot and latest-wins: a frame a caller did
// not read in time is replaced by the next one, never buffered.
func (p *PumpIO) DisplayFrames() <-chan *app.DisplayFrame {
	return p.displayUpdates
}

func (p *PumpIO) publishFrame(f *app.DisplayFrame) {
	select {
	case p.displayUpdates <- f:
	default:
		select {
		case <-p.displayUpdates:
		default:
		}
		p.displayUpdates <- f
	}
}
