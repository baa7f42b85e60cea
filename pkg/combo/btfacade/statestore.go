package btfacade

import (
	"fmt"

	"github.com/comboctl/combodrv/pkg/combo"
)

// InvariantData is the information established once during pairing that
// never changes for the lifetime of a pump pairing: the negotiated
// client/pump ciphers, the address the pump expects key-response traffic
// on, and the pump's own identifying string.
type InvariantData struct {
	ClientPumpCipherKey [16]byte
	PumpClientCipherKey [16]byte
	KeyResponseAddress  byte
	PumpID              string
}

// StateStore persists everything needed to resume a session with a pump
// across process restarts: the invariant pairing data plus the current
// outgoing nonce, which MUST survive a restart intact or the pump will
// reject every subsequent frame as a replay.
//
// Implementations are expected to make CreatePumpState and
// SetCurrentTxNonce durable (fsync-equivalent) before returning, since a
// torn write here is indistinguishable to the pump from a replay attack.
type StateStore interface {
	HasPumpState(pumpID string) (bool, error)
	CreatePumpState(pumpID string, data InvariantData) error
	GetInvariantData(pumpID string) (InvariantData, error)
	GetCurrentTxNonce(pumpID string) (combo.Nonce, error)
	SetCurrentTxNonce(pumpID string, nonce combo.Nonce) error
	DeletePumpState(pumpID string) error
}

// PumpStateStoreAccessError reports a failure to read or write persisted
// pump state. Distinguished from a plain I/O error so callers can tell a
// broken state store apart from a broken pump connection.
type PumpStateStoreAccessError struct {
	PumpID string
	Op     string
	Cause  error
}

func (e *PumpStateStoreAccessError) Error() string {
	return fmt.Sprintf("btfacade: pump state store %s for %q: %v", e.Op, e.PumpID, e.Cause)
}

func (e *PumpStateStoreAccessError) Unwrap() error {
	return e.Cause
}
