package pumpio

import (
	"context"
	"sync"

	"github.com/comboctl/combodrv/pkg/combo"
	"github.com/comboctl/combodrv/pkg/combo/app"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
	"github.com/comboctl/combodrv/pkg/combo/cipher"
	"github.com/comboctl/combodrv/pkg/combo/frame"
	"github.com/comboctl/combodrv/pkg/combo/transport"
)

// scriptedStream is a fake btfacade.Stream that hands every frame it
// receives from Send to a responder function, queuing whatever frames the
// responder returns for later Receive calls.
type scriptedStream struct {
	inbound       chan []byte
	respond       func(f *frame.Frame) [][]byte
	authenticated bool
	macKey        []byte
}

func newScriptedStream(respond func(f *frame.Frame) [][]byte) *scriptedStream {
	return &scriptedStream{inbound: make(chan []byte, 16), respond: respond}
}

func (s *scriptedStream) Send(ctx context.Context, data []byte) error {
	f, err := frame.Decode(data, frame.DecodeOptions{Authenticate: s.authenticated, MACKey: s.macKey})
	if err != nil {
		return err
	}
	for _, reply := range s.respond(f) {
		s.inbound <- reply
	}
	return nil
}

func (s *scriptedStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.inbound:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedStream) Close() error { return nil }

// inMemoryStore is a fake btfacade.StateStore.
type inMemoryStore struct {
	mu    sync.Mutex
	state map[string]btfacade.InvariantData
	nonce map[string]combo.Nonce
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{state: make(map[string]btfacade.InvariantData), nonce: make(map[string]combo.Nonce)}
}

func (s *inMemoryStore) HasPumpState(pumpID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[pumpID]
	return ok, nil
}

func (s *inMemoryStore) CreatePumpState(pumpID string, data btfacade.InvariantData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[pumpID] = data
	return nil
}

func (s *inMemoryStore) GetInvariantData(pumpID string) (btfacade.InvariantData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[pumpID], nil
}

func (s *inMemoryStore) GetCurrentTxNonce(pumpID string) (combo.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce[pumpID], nil
}

func (s *inMemoryStore) SetCurrentTxNonce(pumpID string, n combo.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce[pumpID] = n
	return nil
}

func (s *inMemoryStore) DeletePumpState(pumpID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, pumpID)
	return nil
}

const testPIN = "1234567890"

func testPINBytes() [10]byte {
	var out [10]byte
	copy(out[:], testPIN)
	return out
}

// encodeKeyResponsePayload builds a valid KEY_RESPONSE payload for testPIN
// wrapping the given pump<->client keys.
func encodeKeyResponsePayload(pumpClientKey, clientPumpKey [16]byte) []byte {
	weakKey, err := cipher.WeakKeyFromPIN(testPINBytes())
	if err != nil {
		panic(err)
	}
	encPumpClient, err := cipher.EncryptBlock(weakKey, pumpClientKey[:])
	if err != nil {
		panic(err)
	}
	encClientPump, err := cipher.EncryptBlock(weakKey, clientPumpKey[:])
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

// testInvariantData returns fixed, arbitrary pairing keys for tests that
// start already past pairing.
func testInvariantData(pumpID string) btfacade.InvariantData {
	var pumpClient, clientPump [16]byte
	for i := range pumpClient {
		pumpClient[i] = byte(0x10 + i)
	}
	for i := range clientPump {
		clientPump[i] = byte(0x30 + i)
	}
	return btfacade.InvariantData{
		PumpClientCipherKey: pumpClient,
		ClientPumpCipherKey: clientPump,
		KeyResponseAddress:  0x42,
		PumpID:              pumpID,
	}
}

// newConnectedPumpIO builds a PumpIO whose transport.Session is already
// past pairing (invariant data set, receiver running) and marked
// connected, against a scriptedStream driven by respond. It does not run
// the Connect state machine itself, so tests can drive mode switches and
// app-level exchanges directly.
func newConnectedPumpIO(respond func(f *frame.Frame) [][]byte) (*PumpIO, *scriptedStream, *inMemoryStore) {
	invariant := testInvariantData("TESTPUMP")
	stream := newScriptedStream(respond)
	stream.authenticated = true
	stream.macKey = invariant.ClientPumpCipherKey[:]

	store := newInMemoryStore()
	_ = store.CreatePumpState(invariant.PumpID, invariant)
	_ = store.SetCurrentTxNonce(invariant.PumpID, combo.InitialNonce)

	p := New(stream, store, invariant.PumpID)
	p.sess = transport.NewSession(stream, store, invariant.PumpID)
	p.sess.SetInvariantData(invariant)
	p.sess.SetTxNonce(combo.InitialNonce)
	p.sess.Start(context.Background(), p.regularClassifier())
	p.connected = true
	return p, stream, store
}

// replyAppFrame builds a pump->client DATA frame carrying an application
// packet, authenticated with the given invariant data.
func replyAppFrame(invariant btfacade.InvariantData, respCommand app.Command, payload []byte) []byte {
	appWire := app.Build(app.ServiceControl, respCommand, payload)
	macKey := invariant.PumpClientCipherKey
	wire, err := frame.Encode(frame.EncodeOptions{
		Version:      frame.ProtocolVersion,
		Address:      invariant.KeyResponseAddress,
		Nonce:        combo.NullNonce.Bytes(),
		Command:      transport.CmdData,
		Payload:      appWire,
		Authenticate: true,
		MACKey:       macKey[:],
	})
	if err != nil {
		panic(err)
	}
	return wire
}
