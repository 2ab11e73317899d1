package statecell

import (
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

// DefaultRetryAttempts bounds Set/CompareAndSet's OCC retry loop.
const DefaultRetryAttempts = 5

// StateCell is the per-database handle for the single-cell state
// primitive. It keeps no state of its own; every read and write goes
// through storage.Substrate/storage.TxnManager.
type StateCell struct {
	substrate *storage.Substrate
	txn       *storage.TxnManager
	maxKeyLen int
}

// New builds a StateCell facade. maxKeyLen of 0 uses storage.DefaultMaxKeyLength.
func New(substrate *storage.Substrate, txn *storage.TxnManager, maxKeyLen int) *StateCell {
	if maxKeyLen <= 0 {
		maxKeyLen = storage.DefaultMaxKeyLength
	}
	return &StateCell{substrate: substrate, txn: txn, maxKeyLen: maxKeyLen}
}

func (s *StateCell) key(run string, name []byte) (storage.Key, error) {
	key := storage.NewKey(run, storage.TagState, name)
	if err := key.Validate(s.maxKeyLen, false); err != nil {
		return storage.Key{}, err
	}
	return key, nil
}

// Get returns name's current value and its counter version.
func (s *StateCell) Get(run string, name []byte) (value.Value, uint64, bool, error) {
	key, err := s.key(run, name)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	sv, ok := s.substrate.Get(key)
	if !ok {
		return value.Value{}, 0, false, nil
	}
	counter, v, err := decodePayload(sv.Payload)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	return v, counter, true, nil
}

// GetVersion returns name's value as of atVersion: the newest write with
// Version.N <= atVersion. If that version was removed by a prior
// compaction, it returns a HistoryTrimmed error carrying earliest_retained
// rather than a plain miss.
func (s *StateCell) GetVersion(run string, name []byte, atVersion uint64) (value.Value, uint64, bool, error) {
	key, err := s.key(run, name)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	floor, floorOK := storage.RetainedFloor(s.substrate, run, storage.TagState, name)
	sv, ok, err := s.substrate.GetAtChecked(key, storage.SnapshotView{Watermark: atVersion}, floor, floorOK)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	if !ok || sv.Tombstone {
		return value.Value{}, 0, false, nil
	}
	counter, v, err := decodePayload(sv.Payload)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	return v, counter, true, nil
}

// Set unconditionally replaces name's value and returns the new counter
// version.
func (s *StateCell) Set(run string, name []byte, val value.Value) (uint64, error) {
	key, err := s.key(run, name)
	if err != nil {
		return 0, err
	}

	var newCounter uint64
	_, err = s.txn.WithRetry(run, func(t *storage.Txn) error {
		counter := uint64(0)
		if sv, ok := t.Read(key); ok {
			prevCounter, _, err := decodePayload(sv.Payload)
			if err != nil {
				return err
			}
			counter = prevCounter
		}
		newCounter = counter + 1
		payload, err := encodePayload(newCounter, val)
		if err != nil {
			return err
		}
		return t.Put(key, payload)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return 0, err
	}
	return newCounter, nil
}

// CompareAndSet replaces name's value only if its current counter version
// equals expectedVersion (0 meaning "must not exist yet"), returning
// errs.VersionMismatch otherwise. Unlike Set, a mismatch is not retried:
// it reflects a real conflict the caller must resolve.
func (s *StateCell) CompareAndSet(run string, name []byte, expectedVersion uint64, val value.Value) (uint64, error) {
	key, err := s.key(run, name)
	if err != nil {
		return 0, err
	}

	var newCounter uint64
	_, err = s.txn.WithRetry(run, func(t *storage.Txn) error {
		actual := uint64(0)
		if sv, ok := t.Read(key); ok {
			prevCounter, _, err := decodePayload(sv.Payload)
			if err != nil {
				return err
			}
			actual = prevCounter
		}
		if actual != expectedVersion {
			return errs.New(errs.VersionMismatch, "statecell.CompareAndSet", "expected version does not match current version").
				WithDetails("expected", expectedVersion).WithDetails("actual", actual)
		}
		newCounter = actual + 1
		payload, err := encodePayload(newCounter, val)
		if err != nil {
			return err
		}
		return t.Put(key, payload)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return 0, err
	}
	return newCounter, nil
}
