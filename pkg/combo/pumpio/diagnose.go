package pumpio

import (
	"context"
	"fmt"

	"github.com/comboctl/combodrv/pkg/combo/btfacade"
)

// PairingDiagnosis is a supplemented feature: a best-effort report on why
// a pump cannot currently be connected to, useful for a pairing wizard's
// error screen without exposing wire-level detail.
type PairingDiagnosis struct {
	HasPairingState bool
	PumpID          string
	StateStoreError error
}

// DiagnosePairing inspects the state store for pumpID without touching the
// RFCOMM stream, so it is safe to call even while disconnected or before a
// stream has been opened.
func DiagnosePairing(ctx context.Context, store btfacade.StateStore, pumpID string) PairingDiagnosis {
	has, err := store.HasPumpState(pumpID)
	if err != nil {
		return PairingDiagnosis{StateStoreError: fmt.Errorf("pumpio: checking pairing state: %w", err)}
	}
	return PairingDiagnosis{HasPairingState: has, PumpID: pumpID}
}
