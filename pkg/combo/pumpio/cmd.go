package pumpio

import (
	"context"

	"github.com/comboctl/combodrv/pkg/combo/app"
)

// NotInCommandModeError reports a CMD-mode operation attempted while the
// session is in a different mode.
type NotInCommandModeError struct{}

func (e *NotInCommandModeError) Error() string { return "pumpio: not in command mode" }

func (p *PumpIO) requireCommandMode(op string) error {
	p.mu.Lock()
	connected, mode := p.connected, p.mode
	p.mu.Unlock()
	if !connected {
		return &NotConnectedError{Op: op}
	}
	if mode != ModeCommand {
		return &NotInCommandModeError{}
	}
	return nil
}

// ReadDateTime issues CMD_READ_DATE_TIME.
func (p *PumpIO) ReadDateTime(ctx context.Context) (*app.DateTime, error) {
	if err := p.requireCommandMode("ReadDateTime"); err != nil {
		return nil, err
	}
	resp := app.CmdReadDateTimeResponse
	pkt, err := p.sendAndReceiveApp(ctx, app.BuildCmdReadDateTime(), &resp)
	if err != nil {
		return nil, err
	}
	return app.ParseDateTime(pkt.Payload)
}

// ReadPumpStatus issues CMD_READ_PUMP_STATUS.
func (p *PumpIO) ReadPumpStatus(ctx context.Context) (*app.PumpStatus, error) {
	if err := p.requireCommandMode("ReadPumpStatus"); err != nil {
		return nil, err
	}
	resp := app.CmdReadPumpStatusResponse
	pkt, err := p.sendAndReceiveApp(ctx, app.BuildCmdReadPumpStatus(), &resp)
	if err != nil {
		return nil, err
	}
	return app.ParsePumpStatus(pkt.Payload)
}

// ReadErrorWarningStatus issues CMD_READ_ERROR_WARNING_STATUS.
func (p *PumpIO) ReadErrorWarningStatus(ctx context.Context) (*app.ErrorWarningStatus, error) {
	if err := p.requireCommandMode("ReadErrorWarningStatus"); err != nil {
		return nil, err
	}
	resp := app.CmdReadErrorWarningResp
	pkt, err := p.sendAndReceiveApp(ctx, app.BuildCmdReadErrorWarningStatus(), &resp)
	if err != nil {
		return nil, err
	}
	return app.ParseErrorWarningStatus(pkt.Payload)
}

// GetBolusStatus issues CMD_GET_BOLUS_STATUS.
func (p *PumpIO) GetBolusStatus(ctx context.Context) (*app.BolusStatus, error) {
	if err := p.requireCommandMode("GetBolusStatus"); err != nil {
		return nil, err
	}
	resp := app.CmdGetBolusStatusResponse
	pkt, err := p.sendAndReceiveApp(ctx, app.BuildCmdGetBolusStatus(), &resp)
	if err != nil {
		return nil, err
	}
	return app.ParseBolusStatus(pkt.Payload)
}

// DeliverBolus issues CMD_DELIVER_BOLUS.
func (p *PumpIO) DeliverBolus(ctx context.Context, kind app.BolusKind, amountDeciUnits, durationMinutes uint16) error {
	if err := p.requireCommandMode("DeliverBolus"); err != nil {
		return err
	}
	resp := app.CmdDeliverBolusResponse
	_, err := p.sendAndReceiveApp(ctx, app.BuildCmdDeliverBolus(kind, amountDeciUnits, durationMinutes), &resp)
	return err
}

// CancelBolus issues CMD_CANCEL_BOLUS.
func (p *PumpIO) CancelBolus(ctx context.Context) error {
	if err := p.requireCommandMode("CancelBolus"); err != nil {
		return err
	}
	resp := app.CmdCancelBolusResponse
	_, err := p.sendAndReceiveApp(ctx, app.BuildCmdCancelBolus(), &resp)
	return err
}

// ReadHistory drains the full history delta via the CMD read/confirm loop
//, returning every event along with the supplemented
// HistoryStats describing how much work it took.
func (p *PumpIO) ReadHistory(ctx context.Context, maxRequests int) ([]app.HistoryEvent, app.HistoryStats, error) {
	if err := p.requireCommandMode("ReadHistory"); err != nil {
		return nil, app.HistoryStats{}, err
	}

	readBlock := func() ([]byte, error) {
		resp := app.CmdReadHistoryBlockResp
		pkt, err := p.sendAndReceiveApp(ctx, app.BuildCmdReadHistoryBlock(), &resp)
		if err != nil {
			return nil, err
		}
		return pkt.Payload, nil
	}
	confirmBlock := func() error {
		resp := app.CmdConfirmHistoryBlockResp
		_, err := p.sendAndReceiveApp(ctx, app.BuildCmdConfirmHistoryBlock(), &resp)
		return err
	}

	return app.ReadHistoryDelta(maxRequests, readBlock, confirmBlock)
}
