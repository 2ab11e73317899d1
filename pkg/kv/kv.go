package kv

import (
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

// DefaultRetryAttempts bounds Put/Delete's OCC retry loop.
const DefaultRetryAttempts = 5

// KV is the per-database handle for the key/value primitive.
type KV struct {
	substrate *storage.Substrate
	txn       *storage.TxnManager
	maxKeyLen int
}

// New builds a KV facade. maxKeyLen of 0 uses storage.DefaultMaxKeyLength.
func New(substrate *storage.Substrate, txn *storage.TxnManager, maxKeyLen int) *KV {
	if maxKeyLen <= 0 {
		maxKeyLen = storage.DefaultMaxKeyLength
	}
	return &KV{substrate: substrate, txn: txn, maxKeyLen: maxKeyLen}
}

func (k *KV) key(run string, userKey []byte) (storage.Key, error) {
	key := storage.NewKey(run, storage.TagKV, userKey)
	if err := key.Validate(k.maxKeyLen, false); err != nil {
		return storage.Key{}, err
	}
	return key, nil
}

// Entry is one historical version of a key, as returned by History.
type Entry struct {
	Value     value.Value
	Version   uint64
	TimeMicro int64
	Tombstone bool
}

// Get returns key's latest non-tombstone value.
func (k *KV) Get(run string, userKey []byte) (value.Value, uint64, bool, error) {
	key, err := k.key(run, userKey)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	sv, ok := k.substrate.Get(key)
	if !ok {
		return value.Value{}, 0, false, nil
	}
	v, err := value.UnmarshalJSON(sv.Payload)
	if err != nil {
		return value.Value{}, 0, false, errs.Wrap(errs.Serialization, "kv.Get", "decoding value", err)
	}
	return v, sv.Version.N, true, nil
}

// GetVersion returns key's value as of atVersion: the newest write with
// Version.N <= atVersion. If that version was removed by a prior
// compaction, it returns a HistoryTrimmed error carrying earliest_retained
// rather than a plain miss.
func (k *KV) GetVersion(run string, userKey []byte, atVersion uint64) (value.Value, uint64, bool, error) {
	key, err := k.key(run, userKey)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	floor, floorOK := storage.RetainedFloor(k.substrate, run, storage.TagKV, userKey)
	sv, ok, err := k.substrate.GetAtChecked(key, storage.SnapshotView{Watermark: atVersion}, floor, floorOK)
	if err != nil {
		return value.Value{}, 0, false, err
	}
	if !ok || sv.Tombstone {
		return value.Value{}, 0, false, nil
	}
	v, err := value.UnmarshalJSON(sv.Payload)
	if err != nil {
		return value.Value{}, 0, false, errs.Wrap(errs.Serialization, "kv.GetVersion", "decoding value", err)
	}
	return v, sv.Version.N, true, nil
}

// Put writes val as key's newest version.
func (k *KV) Put(run string, userKey []byte, val value.Value) error {
	key, err := k.key(run, userKey)
	if err != nil {
		return err
	}
	payload, err := value.MarshalJSON(val)
	if err != nil {
		return errs.Wrap(errs.Serialization, "kv.Put", "encoding value", err)
	}
	_, err = k.txn.WithRetry(run, func(t *storage.Txn) error {
		return t.Put(key, payload)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return err
}

// PutIn buffers a put into an already-open transaction t, for callers
// composing a multi-primitive commit. t's run must match run. The caller
// owns commit/rollback.
func (k *KV) PutIn(t *storage.Txn, run string, userKey []byte, val value.Value) error {
	key, err := k.key(run, userKey)
	if err != nil {
		return err
	}
	payload, err := value.MarshalJSON(val)
	if err != nil {
		return errs.Wrap(errs.Serialization, "kv.PutIn", "encoding value", err)
	}
	return t.Put(key, payload)
}

// Delete tombstones key. Deleting a missing key is not an error.
func (k *KV) Delete(run string, userKey []byte) error {
	key, err := k.key(run, userKey)
	if err != nil {
		return err
	}
	_, err = k.txn.WithRetry(run, func(t *storage.Txn) error {
		return t.Delete(key)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	return err
}

// DeleteIn buffers a tombstone into an already-open transaction t. See PutIn.
func (k *KV) DeleteIn(t *storage.Txn, run string, userKey []byte) error {
	key, err := k.key(run, userKey)
	if err != nil {
		return err
	}
	return t.Delete(key)
}

// History returns up to limit versions of key, newest-first. limit of 0
// means unbounded.
func (k *KV) History(run string, userKey []byte, limit int) ([]Entry, error) {
	key, err := k.key(run, userKey)
	if err != nil {
		return nil, err
	}
	raw := k.substrate.GetHistory(key, limit, 0)
	out := make([]Entry, 0, len(raw))
	for _, sv := range raw {
		entry := Entry{Version: sv.Version.N, TimeMicro: sv.TimeMicro, Tombstone: sv.Tombstone}
		if !sv.Tombstone {
			v, err := value.UnmarshalJSON(sv.Payload)
			if err != nil {
				return nil, errs.Wrap(errs.Serialization, "kv.History", "decoding value", err)
			}
			entry.Value = v
		}
		out = append(out, entry)
	}
	return out, nil
}
