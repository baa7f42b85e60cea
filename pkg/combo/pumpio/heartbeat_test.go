package pumpio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/frame"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

func TestCmdHeartbeatSendsPeriodicPing(t *testing.T) {
	origInterval := CmdPingInterval
	CmdPingInterval = 20 * time.Millisecond
	defer func() { CmdPingInterval = origInterval }()

	invariant := testInvariantData("TESTPUMP")
	var pings int32
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		if f.Command != transport.CmdData {
			return nil
		}
		pkt, err := app.Parse(f.Payload)
		if err != nil || pkt.Command != app.CmdPing {
			return nil
		}
		atomic.AddInt32(&pings, 1)
		return [][]byte{replyAppFrame(invariant, app.CmdPingResponse, nil)}
	})
	p.mode = ModeCommand

	hb := startCmdHeartbeat(p)
	// Successive sends are spaced by transport.PacketSendInterval (200 ms),
	// so the second ping goes out roughly 220 ms after the start.
	time.Sleep(300 * time.Millisecond)
	hb.stop()

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&pings)), 2)
}

func TestRTKeepAliveFiresAfterIdleAndResetsOnTouch(t *testing.T) {
	origInterval := RTKeepAliveInterval
	RTKeepAliveInterval = 20 * time.Millisecond
	defer func() { RTKeepAliveInterval = origInterval }()

	var keepAlives int32
	p, _, _ := newConnectedPumpIO(func(f *frame.Frame) [][]byte {
		pkt, err := app.Parse(f.Payload)
		if err == nil && pkt.Command == app.CmdRTKeepAlive {
			atomic.AddInt32(&keepAlives, 1)
		}
		return nil
	})
	p.mode = ModeRemoteTerminal

	k := startRTKeepAlive(p)
	defer k.stop()

	time.Sleep(50 * time.Millisecond)
	require.GreaterOrEqual(t, int(atomic.LoadInt32(&keepAlives)), 1)

	// touch repeatedly for longer than one interval: the timer should keep
	// being pushed back, so no further keep-alive fires while touched.
	atomic.StoreInt32(&keepAlives, 0)
	stopTouch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.touch()
			case <-stopTouch:
				return
			}
		}
	}()
	time.Sleep(50 * time.Millisecond)
	close(stopTouch)
	assert.Equal(t, 0, int(atomic.LoadInt32(&keepAlives)))
}
