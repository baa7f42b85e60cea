package pumpio

import (
	"context"
	"sync"
	"time"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// NotInRTModeError reports a button-press call outside RT mode.
type NotInRTModeError struct{}

func (e *NotInRTModeError) Error() string { return "pumpio: not in remote-terminal mode" }

// LongPressActiveError reports a short-press attempted while a long press
// is running.
type LongPressActiveError struct{}

func (e *LongPressActiveError) Error() string { return "pumpio: a long button press is already active" }

// NoButtonsError reports a button-press call with an empty button list.
type NoButtonsError struct{}

func (e *NoButtonsError) Error() string { return "pumpio: no buttons given" }

type longPressState struct {
	mu     sync.Mutex
	active bool
	stop   chan struct{}
	done   chan struct{}
}

func (p *PumpIO) checkRTPressPreconditions(buttons []app.Button) error {
	p.mu.Lock()
	connected, mode := p.connected, p.mode
	p.mu.Unlock()
	if !connected {
		return &NotConnectedError{Op: "button press"}
	}
	if mode != ModeRemoteTerminal {
		return &NotInRTModeError{}
	}
	if len(buttons) == 0 {
		return &NoButtonsError{}
	}
	if p.longPress != nil {
		p.longPress.mu.Lock()
		active := p.longPress.active
		p.longPress.mu.Unlock()
		if active {
			return &LongPressActiveError{}
		}
	}
	return nil
}

// PressButtonShort performs a short RT button press: it
// sends RT_BUTTON_STATUS with the combined button code, waits on the
// button-confirmation barrier, then always sends RT_BUTTON_STATUS(NO_BUTTON)
// under a non-cancellable context, pausing PacketSendInterval first if the
// path here was an error.
func (p *PumpIO) PressButtonShort(ctx context.Context, buttons ...app.Button) error {
	if err := p.checkRTPressPreconditions(buttons); err != nil {
		return err
	}
	code := app.CombineButtons(buttons...)

	p.mu.Lock()
	wire := app.BuildRTButtonStatus(&p.rtSeq, code, true)
	p.mu.Unlock()

	sendErr := p.sendApp(ctx, wire)
	var barrierErr error
	if sendErr == nil {
		_, barrierErr = p.buttonBar.receive()
	}

	cause := firstNonNil(sendErr, barrierErr)
	p.releaseButtons(cause)
	return cause
}

// releaseButtons always sends RT_BUTTON_STATUS(NO_BUTTON) in a
// non-cancellable context; if cause is non-nil it pauses
// transport.PacketSendInterval first.
func (p *PumpIO) releaseButtons(cause error) {
	teardownCtx := context.Background()
	if cause != nil {
		time.Sleep(transport.PacketSendInterval)
	}

	p.mu.Lock()
	wire := app.BuildRTButtonStatus(&p.rtSeq, app.ButtonNone, true)
	p.mu.Unlock()

	if err := p.sendApp(teardownCtx, wire); err != nil {
		p.diag.recordError(err)
	}
}

// LongPressKeepGoing is invoked on each iteration of a long press before
// the next RT_BUTTON_STATUS is sent; returning false ends the press.
type LongPressKeepGoing func() bool

// PressButtonLong starts a long RT button press: it repeatedly sends
// RT_BUTTON_STATUS (changed=true on the first iteration only) and waits on
// the button-confirmation barrier, continuing until keepGoing returns
// false, the barrier delivers false, the session is stopped, or ctx is
// cancelled. It blocks until the press ends.
func (p *PumpIO) PressButtonLong(ctx context.Context, keepGoing LongPressKeepGoing, buttons ...app.Button) error {
	if err := p.checkRTPressPreconditions(buttons); err != nil {
		return err
	}
	code := app.CombineButtons(buttons...)

	lp := &longPressState{active: true, stop: make(chan struct{}), done: make(chan struct{})}
	p.mu.Lock()
	p.longPress = lp
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.longPress = nil
		p.mu.Unlock()
		close(lp.done)
	}()

	firstIter := true
	var cause error
loop:
	for {
		if keepGoing != nil && !keepGoing() {
			break
		}
		select {
		case <-ctx.Done():
			cause = ctx.Err()
			break loop
		case <-lp.stop:
			break loop
		default:
		}

		p.mu.Lock()
		wire := app.BuildRTButtonStatus(&p.rtSeq, code, firstIter)
		p.mu.Unlock()
		firstIter = false

		if err := p.sendApp(ctx, wire); err != nil {
			cause = err
			break
		}

		ok, err := p.buttonBar.receive()
		if err != nil {
			cause = err
			break
		}
		if !ok {
			break
		}
	}

	p.releaseButtons(cause)
	return cause
}

// StopLongPress requests an in-progress long press to end on its next
// iteration boundary.
func (p *PumpIO) StopLongPress() {
	p.mu.Lock()
	lp := p.longPress
	p.mu.Unlock()
	if lp == nil {
		return
	}
	lp.mu.Lock()
	if lp.active {
		lp.active = false
		close(lp.stop)
	}
	lp.mu.Unlock()
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
