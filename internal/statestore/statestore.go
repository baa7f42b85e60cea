// Package statestore implements btfacade.StateStore on local disk, one
// JSON file per pump under a configured directory. It is the concrete
// store cmd/pump-pair, cmd/pump-rt and cmd/pump-bolus all share so a
// pairing done by one binary can be resumed by another.
package statestore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/comboctl/combodrv/pkg/combo"
	"github.com/comboctl/combodrv/pkg/combo/btfacade"
)

// FileStore persists pump pairing state as one JSON file per pump. Writes
// go to a temp file in the same directory followed by os.Rename, so a
// crash mid-write never leaves a torn file behind — the pump treats a
// stale-but-intact nonce as a replay, so a torn one is worse than useless.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore opens (creating if necessary) a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &btfacade.PumpStateStoreAccessError{Op: "open", Cause: err}
	}
	return &FileStore{dir: dir}, nil
}

type record struct {
	ClientPumpCipherKey string `json:"client_pump_cipher_key"`
	PumpClientCipherKey string `json:"pump_client_cipher_key"`
	KeyResponseAddress  byte   `json:"key_response_address"`
	PumpID              string `json:"pump_id"`
	TxNonce             string `json:"tx_nonce"`
}

func (s *FileStore) path(pumpID string) string {
	return filepath.Join(s.dir, pumpID+".json")
}

func (s *FileStore) read(pumpID string) (record, bool, error) {
	data, err := os.ReadFile(s.path(pumpID))
	if os.IsNotExist(err) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "read", Cause: err}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "decode", Cause: err}
	}
	return rec, true, nil
}

func (s *FileStore) write(pumpID string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "encode", Cause: err}
	}

	final := s.path(pumpID)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "write", Cause: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "write", Cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "sync", Cause: err}
	}
	if err := f.Close(); err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "close", Cause: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "rename", Cause: err}
	}
	return nil
}

func (s *FileStore) HasPumpState(pumpID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.read(pumpID)
	return ok, err
}

func (s *FileStore) CreatePumpState(pumpID string, data btfacade.InvariantData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record{
		ClientPumpCipherKey: hex.EncodeToString(data.ClientPumpCipherKey[:]),
		PumpClientCipherKey: hex.EncodeToString(data.PumpClientCipherKey[:]),
		KeyResponseAddress:  data.KeyResponseAddress,
		PumpID:              data.PumpID,
		TxNonce:             hex.EncodeToString(combo.NullNonce.Bytes()),
	}
	return s.write(pumpID, rec)
}

func (s *FileStore) GetInvariantData(pumpID string) (btfacade.InvariantData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(pumpID)
	if err != nil {
		return btfacade.InvariantData{}, err
	}
	if !ok {
		return btfacade.InvariantData{}, &btfacade.PumpStateStoreAccessError{
			PumpID: pumpID, Op: "read", Cause: fmt.Errorf("no pairing state for pump %q", pumpID),
		}
	}
	return recordToInvariant(rec)
}

func (s *FileStore) GetCurrentTxNonce(pumpID string) (combo.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(pumpID)
	if err != nil {
		return combo.Nonce{}, err
	}
	if !ok {
		return combo.Nonce{}, nil
	}
	raw, err := hex.DecodeString(rec.TxNonce)
	if err != nil {
		return combo.Nonce{}, &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "decode", Cause: err}
	}
	return combo.NewNonce(raw)
}

func (s *FileStore) SetCurrentTxNonce(pumpID string, nonce combo.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(pumpID)
	if err != nil {
		return err
	}
	if !ok {
		return &btfacade.PumpStateStoreAccessError{
			PumpID: pumpID, Op: "write", Cause: fmt.Errorf("no pairing state for pump %q", pumpID),
		}
	}
	rec.TxNonce = hex.EncodeToString(nonce.Bytes())
	return s.write(pumpID, rec)
}

func (s *FileStore) DeletePumpState(pumpID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(pumpID)); err != nil && !os.IsNotExist(err) {
		return &btfacade.PumpStateStoreAccessError{PumpID: pumpID, Op: "delete", Cause: err}
	}
	return nil
}

func recordToInvariant(rec record) (btfacade.InvariantData, error) {
	clientPump, err := decodeKey(rec.ClientPumpCipherKey)
	if err != nil {
		return btfacade.InvariantData{}, &btfacade.PumpStateStoreAccessError{PumpID: rec.PumpID, Op: "decode", Cause: err}
	}
	pumpClient, err := decodeKey(rec.PumpClientCipherKey)
	if err != nil {
		return btfacade.InvariantData{}, &btfacade.PumpStateStoreAccessError{PumpID: rec.PumpID, Op: "decode", Cause: err}
	}
	return btfacade.InvariantData{
		ClientPumpCipherKey: clientPump,
		PumpClientCipherKey: pumpClient,
		KeyResponseAddress:  rec.KeyResponseAddress,
		PumpID:              rec.PumpID,
	}, nil
}

func decodeKey(s string) ([16]byte, error) {
	var out [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 16 {
		return out, fmt.Errorf("key must be 16 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
