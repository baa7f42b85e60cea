// Package transport implements the transport session layer: invariant
// pump keying material, the monotonic TX nonce, authenticated
// frame send/receive, and the dedicated packet receiver goroutine that
// classifies inbound frames for the caller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comboctl/combodrv/pkg/combo"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
	"github.com/comboctl/combodrv/pkg/combo/frame"
)

// PacketSendInterval is the minimum spacing between successive sends
//, required to respect pump timing.
const PacketSendInterval = 200 * time.Millisecond

// PairingAddress is the fixed source/destination address used before a
// key-response address has been negotiated.
const PairingAddress = frame.PairingAddress

// Classification tells the receiver task what to do with a frame once it
// has been authenticated and parsed.
type Classification int

const (
	// ForwardPacket hands the frame to the next Receive call.
	ForwardPacket Classification = iota
	// DropPacket means the classifier already handled the frame inline
	// (RT display row, button confirmation, keep-alive response) and it
	// should not be queued for Receive.
	DropPacket
)

// Classifier inspects a decoded frame and decides whether to forward it
// to a waiting Receive call or to drop it after having handled it inline.
type Classifier func(f *frame.Frame) Classification

// PacketReceiverError reports that the receiver task terminated. Cause is
// the fatal condition that ended it: an RFCOMM read failure (including a
// closed stream) or a frame that fails to decode (including a MAC
// mismatch). A CTRL_SERVICE_ERROR packet does not end the receiver; it is
// classified like any other frame. Every pending and future Receive call
// fails with this error until the session is restarted.
type PacketReceiverError struct {
	Cause error
}

func (e *PacketReceiverError) Error() string {
	return fmt.Sprintf("transport: packet receiver terminated: %v", e.Cause)
}

func (e *PacketReceiverError) Unwrap() error {
	return e.Cause
}

// IncorrectPacketError reports that Receive's expectedCommand did not
// match the command of the packet that was actually forwarded.
type IncorrectPacketError struct {
	Expected byte
	Got      byte
}

func (e *IncorrectPacketError) Error() string {
	return fmt.Sprintf("transport: expected command 0x%02x, got 0x%02x", e.Expected, e.Got)
}

// OutgoingPacketInfo describes one outgoing transport packet. Command is a
// transport command byte; for CmdData, Payload carries an application-layer
// packet.
type OutgoingPacketInfo struct {
	Command           byte
	CommandClass      bool // copied into the header's command-class bit; no caller in this module sets it
	Reliable          bool
	Payload           []byte
	UsePairingAddress bool
}

// Session owns the invariant pairing data and TX nonce for one pump and
// runs the packet receiver task against an already-open RFCOMM stream.
//
// Non-goals: a Session is single-pump and does not resume
// across process restarts; that is the StateStore's job, not this type's.
type Session struct {
	stream btfacade.Stream
	store  btfacade.StateStore
	pumpID string

	sendMu sync.Mutex

	mu           sync.Mutex
	invariant    btfacade.InvariantData
	invariantSet bool
	txNonce      combo.Nonce
	lastSend     time.Time

	forward    chan *frame.Frame
	failed     chan struct{}
	failedOnce sync.Once
	failErr    error

	receiverDone chan struct{}
	cancelRecv   context.CancelFunc
}

// NewSession constructs a Session bound to an open stream and a state
// store. pumpID may be empty during the early pairing steps, before the
// pump's identity string is known.
func NewSession(stream btfacade.Stream, store btfacade.StateStore, pumpID string) *Session {
	return &Session{
		stream: stream,
		store:  store,
		pumpID: pumpID,
		failed: make(chan struct{}),
	}
}

// SetInvariantData caches the negotiated pairing keys so subsequent sends
// can be authenticated before the pump ID (and thus persistence) is known.
func (s *Session) SetInvariantData(data btfacade.InvariantData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invariant = data
	s.invariantSet = true
}

// SetPumpID finalizes the pump identity once REQUEST_ID/ID_RESPONSE has
// completed.
func (s *Session) SetPumpID(pumpID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pumpID = pumpID
}

// SetTxNonce sets the current outgoing nonce without persisting it. Used
// to seed the initial nonce before
// the first persisted send.
func (s *Session) SetTxNonce(n combo.Nonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txNonce = n
}

// Start launches the packet receiver task. classifier is invoked for
// every successfully authenticated inbound frame.
func (s *Session) Start(ctx context.Context, classifier Classifier) {
	recvCtx, cancel := context.WithCancel(ctx)
	s.cancelRecv = cancel
	s.forward = make(chan *frame.Frame, 1)
	s.receiverDone = make(chan struct{})

	go s.receiveLoop(recvCtx, classifier)
}

func (s *Session) receiveLoop(ctx context.Context, classifier Classifier) {
	defer close(s.receiverDone)

	for {
		raw, err := s.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Stop() cancelled us; this is a clean shutdown, not a
				// fatal receiver failure.
				return
			}
			s.fail(fmt.Errorf("rfcomm receive: %w", err))
			return
		}

		macKey := s.pumpClientKey()
		f, err := frame.Decode(raw, frame.DecodeOptions{
			Authenticate: macKey != nil,
			MACKey:       macKey,
		})
		if err != nil {
			s.fail(fmt.Errorf("frame decode: %w", err))
			return
		}

		switch classifier(f) {
		case ForwardPacket:
			select {
			case s.forward <- f:
			case <-s.forward:
				s.forward <- f // single-slot: newest wins over a stale unread one
			}
		case DropPacket:
			// handled inline by the classifier itself
		}
	}
}

func (s *Session) pumpClientKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.invariantSet {
		return nil
	}
	key := s.invariant.PumpClientCipherKey
	return key[:]
}

func (s *Session) fail(cause error) {
	s.failedOnce.Do(func() {
		s.failErr = &PacketReceiverError{Cause: cause}
		slog.Error("transport session failed", "error", cause)
		close(s.failed)
	})
}

// Failed reports whether the receiver task has terminated, and if so the
// error every waiter is being unblocked with.
func (s *Session) Failed() (bool, error) {
	select {
	case <-s.failed:
		return true, s.failErr
	default:
		return false, nil
	}
}

// Send increments the TX nonce (persisting it once the pump ID is known),
// builds a frame for info.Command (with a MAC once invariant data has been
// set), and writes it to the stream, enforcing PacketSendInterval since
// the previous send.
func (s *Session) Send(ctx context.Context, info OutgoingPacketInfo) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if failed, err := s.Failed(); failed {
		return err
	}

	if wait := s.sendDelay(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	nonce := s.txNonce.Increment()
	invariant := s.invariant
	invariantSet := s.invariantSet
	pumpID := s.pumpID
	s.mu.Unlock()

	if s.store != nil && pumpID != "" {
		if err := s.store.SetCurrentTxNonce(pumpID, nonce); err != nil {
			return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "SetCurrentTxNonce", Cause: err}
		}
	}

	s.mu.Lock()
	s.txNonce = nonce
	s.mu.Unlock()

	address := frame.PairingAddress
	if !info.UsePairingAddress && invariantSet {
		address = invariant.KeyResponseAddress
	}

	var macKey []byte
	if invariantSet {
		key := invariant.ClientPumpCipherKey
		macKey = key[:]
	}

	wire, err := frame.Encode(frame.EncodeOptions{
		Version:      frame.ProtocolVersion,
		CommandClass: info.CommandClass,
		Reliable:     info.Reliable,
		Address:      address,
		Nonce:        nonce.Bytes(),
		Command:      info.Command,
		Payload:      info.Payload,
		Authenticate: invariantSet,
		MACKey:       macKey,
	})
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	if err := s.stream.Send(ctx, wire); err != nil {
		s.fail(fmt.Errorf("rfcomm send: %w", err))
		return err
	}

	s.mu.Lock()
	s.lastSend = nowFunc()
	s.mu.Unlock()
	return nil
}

func (s *Session) sendDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSend.IsZero() {
		return 0
	}
	elapsed := nowFunc().Sub(s.lastSend)
	if elapsed >= PacketSendInterval {
		return 0
	}
	return PacketSendInterval - elapsed
}

// nowFunc is a seam so tests can avoid real sleeps; production code always
// uses time.Now.
var nowFunc = time.Now

// Receive blocks until a forwarded frame is available, the session fails,
// or ctx is cancelled. If expectedCommand is non-nil the received frame's
// command must match it exactly.
func (s *Session) Receive(ctx context.Context, expectedCommand *byte) (*frame.Frame, error) {
	select {
	case f := <-s.forward:
		if expectedCommand != nil && f.Command != *expectedCommand {
			return nil, &IncorrectPacketError{Expected: *expectedCommand, Got: f.Command}
		}
		return f, nil
	case <-s.failed:
		return nil, s.failErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop sends a final outgoing packet (typically CTRL_DISCONNECT wrapped
// as a DATA frame), cancels the receiver, and invokes disconnectCB, all
// under a non-cancellable scope so the caller's own cancellation cannot
// skip teardown.
func (s *Session) Stop(finalOutgoing *OutgoingPacketInfo, disconnectCB func(context.Context) error) error {
	teardownCtx := context.Background()

	var sendErr error
	if finalOutgoing != nil {
		sendErr = s.Send(teardownCtx, *finalOutgoing)
		if sendErr != nil {
			slog.Warn("transport: final outgoing send failed during teardown", "error", sendErr)
		}
	}

	if s.cancelRecv != nil {
		s.cancelRecv()
	}
	if s.receiverDone != nil {
		<-s.receiverDone
	}

	var cbErr error
	if disconnectCB != nil {
		cbErr = disconnectCB(teardownCtx)
	}

	return errors.Join(sendErr, cbErr)
}
