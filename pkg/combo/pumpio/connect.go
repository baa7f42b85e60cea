package pumpio

import (
	"context"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
	"github.com/comboctl/combodrv/pkg/combo/frame"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// AlreadyConnectedError reports a Connect call against a session that is
// already connected.
type AlreadyConnectedError struct{}

func (e *AlreadyConnectedError) Error() string { return "pumpio: already connected" }

// Connect runs the connect state machine: it requires a
// state store that already has pairing data for pumpID, opens a regular
// transport connection, performs CTRL_CONNECT, and switches into
// initialMode. runHeartbeat controls whether the mode-appropriate
// heartbeat task starts.
func (p *PumpIO) Connect(ctx context.Context, initialMode Mode, runHeartbeat bool) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return &AlreadyConnectedError{}
	}
	p.mu.Unlock()

	has, err := p.store.HasPumpState(p.pumpID)
	if err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: p.pumpID, Op: "HasPumpState", Cause: err}
	}
	if !has {
		return &NotConnectedError{Op: "Connect: no pairing state for pump"}
	}

	invariant, err := p.store.GetInvariantData(p.pumpID)
	if err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: p.pumpID, Op: "GetInvariantData", Cause: err}
	}
	nonce, err := p.store.GetCurrentTxNonce(p.pumpID)
	if err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: p.pumpID, Op: "GetCurrentTxNonce", Cause: err}
	}

	p.assembler.Reset()
	p.buttonBar.reset()

	p.sess = transport.NewSession(p.stream, p.store, p.pumpID)
	p.sess.SetInvariantData(invariant)
	p.sess.SetTxNonce(nonce)
	p.sess.Start(ctx, p.regularClassifier())

	if err := p.sess.Send(ctx, transport.OutgoingPacketInfo{Command: transport.CmdRequestRegularConnection}); err != nil {
		return &IOError{Cause: err}
	}
	accepted := transport.CmdRegularConnectionRequestAccepted
	if _, err := p.sess.Receive(ctx, &accepted); err != nil {
		return &IOError{Cause: err}
	}

	connResp := app.CmdCtrlConnectResponse
	if _, err := p.sendAndReceiveApp(ctx, app.BuildCtrlConnect(), &connResp); err != nil {
		return err
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	if err := p.switchMode(ctx, initialMode, runHeartbeat); err != nil {
		_ = p.Disconnect(ctx)
		return err
	}
	return nil
}

// regularClassifier forwards CMD/CTRL responses to the awaiting caller and
// handles RT display and button-confirmation traffic inline, per the
// transport's FORWARD_PACKET/DROP_PACKET split.
func (p *PumpIO) regularClassifier() transport.Classifier {
	return func(f *frame.Frame) transport.Classification {
		pkt, err := app.Parse(f.Payload)
		if err != nil {
			return transport.ForwardPacket
		}
		switch pkt.Command {
		case app.CmdRTDisplay:
			p.handleRTDisplay(pkt.Payload)
			return transport.DropPacket
		case app.CmdRTButtonConfirmation:
			p.buttonBar.send(true)
			return transport.DropPacket
		default:
			return transport.ForwardPacket
		}
	}
}

func (p *PumpIO) handleRTDisplay(payload []byte) {
	_, rest, err := app.StripRTSequence(payload)
	if err != nil {
		return
	}
	row, err := app.ParseRTDisplay(rest)
	if err != nil {
		return
	}
	if f, complete, err := p.assembler.AddRow(row); err == nil && complete {
		p.publishFrame(f)
		p.buttonBar.send(true)
	}
}

// Disconnect sends CTRL_DISCONNECT, tears down the receiver, and marks the
// session no longer connected. Safe to call even if not connected.
func (p *PumpIO) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	cmdHB, rtHB := p.cmdHeartbeat, p.rtHeartbeat
	p.cmdHeartbeat, p.rtHeartbeat = nil, nil
	p.mode = ModeNone
	p.mu.Unlock()

	if cmdHB != nil {
		cmdHB.stop()
	}
	if rtHB != nil {
		rtHB.stop()
	}
	p.buttonBar.send(false)

	disconnectPayload := app.BuildCtrlDisconnect()
	return p.sess.Stop(&transport.OutgoingPacketInfo{
		Command:  transport.CmdData,
		Reliable: true,
		Payload:  disconnectPayload,
	}, nil)
}

// switchMode always runs under a non-cancellable scope regardless of the
// caller's own context, so the caller's ctx
// is accepted only for symmetry with the rest of the public API and is
// otherwise unused here: it stops both heartbeats, deactivates the
// current service if any, activates the new one, and starts the matching
// heartbeat.
func (p *PumpIO) switchMode(_ context.Context, newMode Mode, runHeartbeat bool) error {
	teardownCtx := context.Background()

	p.mu.Lock()
	cmdHB, rtHB := p.cmdHeartbeat, p.rtHeartbeat
	p.cmdHeartbeat, p.rtHeartbeat = nil, nil
	currentMode := p.mode
	p.mu.Unlock()

	if cmdHB != nil {
		cmdHB.stop()
	}
	if rtHB != nil {
		rtHB.stop()
	}
	p.assembler.Reset()

	if currentMode != ModeNone {
		svcID := modeToServiceID(currentMode)
		resp := app.CmdCtrlDeactivateServiceResp
		if _, err := p.sendAndReceiveApp(teardownCtx, app.BuildCtrlDeactivateService(svcID), &resp); err != nil {
			return err
		}
	}

	if newMode != ModeNone {
		svcID := modeToServiceID(newMode)
		resp := app.CmdCtrlActivateServiceResp
		if _, err := p.sendAndReceiveApp(teardownCtx, app.BuildCtrlActivateService(svcID), &resp); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.mode = newMode
	if newMode == ModeRemoteTerminal {
		p.rtSeq.Reset()
	}
	p.mu.Unlock()

	if runHeartbeat {
		switch newMode {
		case ModeCommand:
			p.mu.Lock()
			p.cmdHeartbeat = startCmdHeartbeat(p)
			p.mu.Unlock()
		case ModeRemoteTerminal:
			p.mu.Lock()
			p.rtHeartbeat = startRTKeepAlive(p)
			p.mu.Unlock()
		}
	}
	return nil
}

// SwitchMode is the exported entry point for changing mode on an already
// connected session.
func (p *PumpIO) SwitchMode(ctx context.Context, newMode Mode, runHeartbeat bool) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return &NotConnectedError{Op: "SwitchMode"}
	}
	return p.switchMode(ctx, newMode, runHeartbeat)
}

func modeToServiceID(m Mode) app.ServiceID {
	if m == ModeRemoteTerminal {
		return app.ServiceIDRemoteTerminal
	}
	return app.ServiceIDCommand
}
