package jsondoc

import (
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

// DefaultRetryAttempts bounds Set/Delete's OCC retry loop.
const DefaultRetryAttempts = 5

// JSONDoc is the per-database handle for the JSON document primitive. It
// keeps no state of its own; every read and write goes through
// storage.Substrate/storage.TxnManager.
type JSONDoc struct {
	substrate *storage.Substrate
	txn       *storage.TxnManager
	maxKeyLen int
}

// New builds a JSONDoc facade. maxKeyLen of 0 uses storage.DefaultMaxKeyLength.
func New(substrate *storage.Substrate, txn *storage.TxnManager, maxKeyLen int) *JSONDoc {
	if maxKeyLen <= 0 {
		maxKeyLen = storage.DefaultMaxKeyLength
	}
	return &JSONDoc{substrate: substrate, txn: txn, maxKeyLen: maxKeyLen}
}

func (j *JSONDoc) key(run string, userKey []byte) (storage.Key, error) {
	key := storage.NewKey(run, storage.TagJSON, userKey)
	if err := key.Validate(j.maxKeyLen, false); err != nil {
		return storage.Key{}, err
	}
	return key, nil
}

func validateDocument(v value.Value) error {
	if _, ok := v.AsObject(); ok {
		return nil
	}
	if _, ok := v.AsArray(); ok {
		return nil
	}
	return errs.New(errs.WrongType, "jsondoc.validateDocument", "document must be an Object or Array")
}

// Entry is one historical version of a document, as returned by History.
type Entry struct {
	Value     value.Value
	Counter   uint64
	TimeMicro int64
	Tombstone bool
}

// Get returns key's current document and its counter version.
func (j *JSONDoc) Get(run string, userKey []byte) (value.Value, uint64, bool, error) {
	key, err := j.key(run, userKey)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	sv, ok := j.substrate.Get(key)
	if !ok {
		return value.Value{}, 0, false, nil
	}
	counter, v, err := decodePayload(sv.Payload)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	return v, counter, true, nil
}

// GetVersion returns key's document as of atVersion: the newest write with
// Version.N <= atVersion. If that version was removed by a prior
// compaction, it returns a HistoryTrimmed error carrying earliest_retained
// rather than a plain miss.
func (j *JSONDoc) GetVersion(run string, userKey []byte, atVersion uint64) (value.Value, uint64, bool, error) {
	key, err := j.key(run, userKey)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	floor, floorOK := storage.RetainedFloor(j.substrate, run, storage.TagJSON, userKey)
	sv, ok, err := j.substrate.GetAtChecked(key, storage.SnapshotView{Watermark: atVersion}, floor, floorOK)
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

// Set replaces key's whole document value and returns the new counter
// version. There is no partial update: the previous document, if any, is
// discarded in full.
func (j *JSONDoc) Set(run string, userKey []byte, doc value.Value) (uint64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}
	key, err := j.key(run, userKey)
	if err != nil {
		return 0, err
	}

	var newCounter uint64
	_, err = j.txn.WithRetry(run, func(t *storage.Txn) error {
		counter := uint64(0)
		if sv, ok := t.Read(key); ok {
			prevCounter, _, err := decodePayload(sv.Payload)
			if err != nil {
				return err
			}
			counter = prevCounter
		}
		newCounter = counter + 1
		payload, err := encodePayload(newCounter, doc)
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

// Delete tombstones key. Deleting a missing key is not an error.
func (j *JSONDoc) Delete(run string, userKey []byte) error {
	key, err := j.key(run, userKey)
	if err != nil {
		return err
	}
	_, err = j.txn.WithRetry(run, func(t *storage.Txn) error {
		return t.Delete(key)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return err
}

// History returns up to limit versions of key, newest-first. limit of 0
// means unbounded.
func (j *JSONDoc) History(run string, userKey []byte, limit int) ([]Entry, error) {
	key, err := j.key(run, userKey)
	if err != nil {
		return nil, err
	}
	raw := j.substrate.GetHistory(key, limit, 0)
	out := make([]Entry, 0, len(raw))
	for _, sv := range raw {
		entry := Entry{TimeMicro: sv.TimeMicro, Tombstone: sv.Tombstone}
		if !sv.Tombstone {
			counter, v, err := decodePayload(sv.Payload)
			if err != nil {
				return nil, err
			}
			entry.Counter = counter
			entry.Value = v
		}
		out = append(out, entry)
	}
	return out, nil
}
