package pumpio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/comboctl/combodrv/pkg/combo/app"
)

// heartbeat runs the CMD-mode ping task: every CmdPingInterval it sends
// CMD_PING and awaits CMD_PING_RESPONSE. An uncaught error cancels only
// this task; the session itself continues.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startCmdHeartbeat(p *PumpIO) *heartbeat {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(CmdPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.sendCmdPing(ctx); err != nil {
					slog.Warn("cmd ping heartbeat failed, stopping heartbeat", "error", err)
					return
				}
			}
		}
	}()

	return hb
}

func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}

func (p *PumpIO) sendCmdPing(ctx context.Context) error {
	wire := app.BuildCmdPing()
	want := app.CmdPingResponse
	_, err := p.sendAndReceiveApp(ctx, wire, &want)
	return err
}

// rtKeepAlive runs the RT-mode keep-alive task. It fires only after
// RTKeepAliveInterval of send inactivity; any other outgoing send resets
// the timer by calling touch, which stops and restarts the RT keep-alive
// task.
type rtKeepAlive struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

func startRTKeepAlive(p *PumpIO) *rtKeepAlive {
	ctx, cancel := context.WithCancel(context.Background())
	k := &rtKeepAlive{cancel: cancel, done: make(chan struct{})}
	k.timer = time.AfterFunc(RTKeepAliveInterval, func() { k.fire(ctx, p) })
	return k
}

func (k *rtKeepAlive) fire(ctx context.Context, p *PumpIO) {
	if ctx.Err() != nil {
		return
	}
	if err := p.sendRTKeepAlive(ctx); err != nil {
		slog.Warn("rt keep-alive failed, stopping heartbeat", "error", err)
		return
	}
	k.mu.Lock()
	if ctx.Err() == nil {
		k.timer.Reset(RTKeepAliveInterval)
	}
	k.mu.Unlock()
}

// touch resets the idle timer; called on every outgoing send while RT
// keep-alive is active.
func (k *rtKeepAlive) touch() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Reset(RTKeepAliveInterval)
	}
}

func (k *rtKeepAlive) stop() {
	k.cancel()
	k.mu.Lock()
	if k.timer != nil {
		k.timer.Stop()
	}
	k.mu.Unlock()
}

func (p *PumpIO) sendRTKeepAlive(ctx context.Context) error {
	p.mu.Lock()
	wire := app.BuildRTKeepAlive(&p.rtSeq)
	p.mu.Unlock()
	return p.sendApp(ctx, wire)
}
