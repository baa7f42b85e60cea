package pumpio

import (
	"context"
	"fmt"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// IncorrectPacketError reports that an application-layer exchange got a
// response with a different command than the one requested.
type IncorrectPacketError struct {
	Expected app.Command
	Got      app.Command
}

func (e *IncorrectPacketError) Error() string {
	return fmt.Sprintf("pumpio: expected app command 0x%04x, got 0x%04x", uint16(e.Expected), uint16(e.Got))
}

// sendApp wraps an already-built application packet in a transport DATA
// frame and sends it, touching the RT keep-alive idle timer: any other
// outgoing send resets it.
func (p *PumpIO) sendApp(ctx context.Context, wire []byte) error {
	p.mu.Lock()
	rtHB := p.rtHeartbeat
	p.mu.Unlock()
	if rtHB != nil {
		rtHB.touch()
	}

	err := p.sess.Send(ctx, transport.OutgoingPacketInfo{
		Command:  transport.CmdData,
		Reliable: true,
		Payload:  wire,
	})
	if err != nil {
		p.diag.recordError(err)
		return &IOError{Cause: err}
	}
	p.diag.recordSend()
	return nil
}

// sendAndReceiveApp sends wire and blocks for the next forwarded
// application packet. If expected is non-nil the response's command must
// match it. exchangeMu is held across both halves so a concurrent
// heartbeat and a user call can never race over the same forwarded
// response.
func (p *PumpIO) sendAndReceiveApp(ctx context.Context, wire []byte, expected *app.Command) (*app.Packet, error) {
	p.exchangeMu.Lock()
	defer p.exchangeMu.Unlock()

	if err := p.sendApp(ctx, wire); err != nil {
		return nil, err
	}
	return p.receiveApp(ctx, expected)
}

func (p *PumpIO) receiveApp(ctx context.Context, expected *app.Command) (*app.Packet, error) {
	f, err := p.sess.Receive(ctx, nil)
	if err != nil {
		p.diag.recordError(err)
		return nil, &IOError{Cause: err}
	}
	p.diag.recordReceive()

	pkt, err := app.Parse(f.Payload)
	if err != nil {
		return nil, &IOError{Cause: err}
	}

	if pkt.Command == app.CmdCtrlServiceError {
		code := byte(0)
		if len(pkt.Payload) > 0 {
			code = pkt.Payload[0]
		}
		return nil, &ServiceError{Code: code}
	}

	if expected != nil && pkt.Command != *expected {
		return nil, &IncorrectPacketError{Expected: *expected, Got: pkt.Command}
	}
	return pkt, nil
}
