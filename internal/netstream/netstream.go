// Package netstream adapts a net.Conn into btfacade.Stream: splitting the
// byte stream on the frame header's declared-length field (pkg/combo/frame
// §4.1) so Receive always returns exactly one frame's worth of bytes. It
// is the one concrete Stream this module ships, suitable for an RFCOMM
// device exposed as a character device/socket, or for talking to
// cmd/pump-emulator over TCP or a Unix socket; a host Bluetooth stack
// integration is left to the embedding application.
package netstream

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/comboctl/combodrv/pkg/combo/btfacade"
)

// Conn wraps a net.Conn, reading one length-prefixed frame per Receive
// call; Close is idempotent.
type Conn struct {
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

// New wraps an already-connected net.Conn.
func New(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dial opens a new connection (network is "tcp" or "unix", matching
// cmd/pump-emulator's own flags) and wraps it.
func Dial(ctx context.Context, network, address string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, &btfacade.StreamError{Op: "dial", Cause: err}
	}
	return New(conn), nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(data); err != nil {
		return &btfacade.StreamError{Op: "send", Cause: err}
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	head := make([]byte, 3)
	if _, err := io.ReadFull(c.conn, head); err != nil {
		return nil, &btfacade.StreamError{Op: "receive", Cause: err}
	}
	declaredLen := int(binary.LittleEndian.Uint16(head[1:3]))
	if declaredLen < 3 {
		return nil, &btfacade.StreamError{Op: "receive", Cause: io.ErrUnexpectedEOF}
	}
	rest := make([]byte, declaredLen-3)
	if _, err := io.ReadFull(c.conn, rest); err != nil {
		return nil, &btfacade.StreamError{Op: "receive", Cause: err}
	}
	return append(head, rest...), nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
