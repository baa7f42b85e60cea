package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/cipher"
	"github.com/comboctl/combodrv/pkg/combo/frame"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// pumpState holds the emulator's view of one client session, standing in
// for the real pump's firmware state machine, played from the other side.
type pumpState struct {
	pumpID      string
	pin         [10]byte
	keyAddress  byte
	clientPump  [16]byte // client->pump, pump verifies with this
	pumpClient  [16]byte // pump->client, pump signs with this
	authed      bool
	regularConn int // count of RequestRegularConnection accepted, informational only
}

// readFrame reads exactly one length-prefixed wire frame from conn: three
// header bytes give the declared total length (little-endian, offset 1),
// then that many bytes minus three follow.
func readFrame(conn net.Conn) ([]byte, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(conn, head); err != nil {
		return nil, err
	}
	declaredLen := int(binary.LittleEndian.Uint16(head[1:3]))
	if declaredLen < 3 {
		return nil, fmt.Errorf("emulator: declared frame length %d too short", declaredLen)
	}
	rest := make([]byte, declaredLen-3)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return nil, err
	}
	return append(head, rest...), nil
}

// serve runs the emulator's protocol state machine over one accepted
// connection until the client disconnects or a fatal frame error occurs.
func serve(ctx context.Context, conn net.Conn, st *pumpState) {
	defer conn.Close()
	log := slog.With("remote", conn.RemoteAddr())
	log.Info("client connected")

	for {
		raw, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Warn("read frame failed", "error", err)
			}
			return
		}

		f, err := frame.Decode(raw, frame.DecodeOptions{Authenticate: st.authed, MACKey: st.clientPumpKeyOrNil()})
		if err != nil {
			log.Warn("decode frame failed", "error", err)
			return
		}

		switch f.Command {
		case transport.CmdRequestPairingConnection:
			send(log, conn, st, transport.CmdPairingConnectionRequestAccepted, frame.PairingAddress, nil)
		case transport.CmdRequestKeys:
			// No reply: the pump acknowledges only implicitly by later
			// answering GET_AVAILABLE_KEYS.
		case transport.CmdGetAvailableKeys:
			payload := buildKeyResponse(st)
			send(log, conn, st, transport.CmdKeyResponse, st.keyAddress, payload)
		case transport.CmdRequestID:
			// The client holds the keys by now and expects a MAC on the reply.
			st.authed = true
			send(log, conn, st, transport.CmdIDResponse, st.keyAddress, []byte(st.pumpID))
		case transport.CmdRequestRegularConnection:
			st.regularConn++
			// A paired client authenticates from its first frame on a new
			// connection, so the reply carries a MAC as well.
			st.authed = true
			send(log, conn, st, transport.CmdRegularConnectionRequestAccepted, st.keyAddress, nil)
		case transport.CmdDisconnect:
			log.Info("client disconnected (CMD_DISCONNECT)")
			return
		case transport.CmdData:
			if !handleData(log, conn, st, f.Payload) {
				return
			}
		default:
			log.Warn("unhandled transport command", "command", fmt.Sprintf("0x%02x", f.Command))
		}
	}
}

func (st *pumpState) clientPumpKeyOrNil() []byte {
	if !st.authed {
		return nil
	}
	return st.clientPump[:]
}

func buildKeyResponse(st *pumpState) []byte {
	weakKey, err := cipher.WeakKeyFromPIN(st.pin)
	if err != nil {
		panic(err)
	}
	encPumpClient, err := cipher.EncryptBlock(weakKey, st.pumpClient[:])
	if err != nil {
		panic(err)
	}
	encClientPump, err := cipher.EncryptBlock(weakKey, st.clientPump[:])
	if err != nil {
		panic(err)
	}
	body := append(append([]byte{}, encPumpClient...), encClientPump...)
	mac, err := cipher.MAC(weakKey, body)
	if err != nil {
		panic(err)
	}
	return append(body, mac...)
}

func send(log *slog.Logger, conn net.Conn, st *pumpState, command byte, address byte, payload []byte) {
	wire, err := frame.Encode(frame.EncodeOptions{
		Version:      frame.ProtocolVersion,
		Address:      address,
		Nonce:        make([]byte, frame.NonceSize),
		Command:      command,
		Payload:      payload,
		Authenticate: st.authed,
		MACKey:       st.pumpClientKeyOrNil(),
	})
	if err != nil {
		log.Error("encode reply failed", "error", err)
		return
	}
	if _, err := conn.Write(wire); err != nil {
		log.Warn("write reply failed", "error", err)
	}
}

func (st *pumpState) pumpClientKeyOrNil() []byte {
	if !st.authed {
		return nil
	}
	return st.pumpClient[:]
}

// handleData answers one application-layer packet carried in a CmdData
// frame. Returns false when the session should be torn down.
func handleData(log *slog.Logger, conn net.Conn, st *pumpState, payload []byte) bool {
	pkt, err := app.Parse(payload)
	if err != nil {
		log.Warn("parse app packet failed", "error", err)
		return false
	}

	reply := func(respCommand app.Command, respPayload []byte) {
		wire := app.Build(pkt.Service, respCommand, respPayload)
		send(log, conn, st, transport.CmdData, st.keyAddress, wire)
	}

	switch pkt.Command {
	case app.CmdCtrlConnect:
		reply(app.CmdCtrlConnectResponse, nil)
	case app.CmdCtrlGetServiceVersion:
		reply(app.CmdCtrlServiceVersionResp, []byte{pkt.Payload[0], app.AppVersion})
	case app.CmdCtrlBind:
		reply(app.CmdCtrlBindResponse, nil)
	case app.CmdCtrlActivateService:
		reply(app.CmdCtrlActivateServiceResp, nil)
	case app.CmdCtrlDeactivateService:
		reply(app.CmdCtrlDeactivateServiceResp, nil)
	case app.CmdCtrlDisconnect:
		log.Info("client sent CTRL_DISCONNECT")
		return false
	case app.CmdPing:
		reply(app.CmdPingResponse, nil)
	case app.CmdReadDateTime:
		reply(app.CmdReadDateTimeResponse, []byte{0xE8, 0x07, 7, 31, 12, 0, 0})
	case app.CmdReadPumpStatus:
		reply(app.CmdReadPumpStatusResponse, []byte{0x01, 0, 0})
	case app.CmdGetBolusStatus:
		reply(app.CmdGetBolusStatusResponse, []byte{0, 0, 0, 0, 0, 0})
	case app.CmdDeliverBolus:
		reply(app.CmdDeliverBolusResponse, nil)
	case app.CmdCancelBolus:
		reply(app.CmdCancelBolusResponse, nil)
	case app.CmdReadHistoryBlock:
		reply(app.CmdReadHistoryBlockResp, emptyHistoryBlock())
	case app.CmdConfirmHistoryBlock:
		reply(app.CmdConfirmHistoryBlockResp, nil)
	case app.CmdRTButtonStatus:
		reply(app.CmdRTButtonConfirmation, nil)
	default:
		log.Warn("unhandled app command", "command", fmt.Sprintf("0x%04x", uint16(pkt.Command)))
	}
	return true
}

// emptyHistoryBlock builds a CMD_READ_HISTORY_BLOCK_RESPONSE with zero
// events and no more data pending, so cmd/pump-bolus's history demo
// against the emulator terminates immediately instead of looping.
func emptyHistoryBlock() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0}) // event count = 0
	buf.Write([]byte{0})    // more = false
	buf.Write([]byte{0, 0}) // remaining = 0
	return buf.Bytes()
}
