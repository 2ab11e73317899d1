package storage

import (
	"encoding/json"
	"time"

	"github.com/cuemby/strata/pkg/errs"
)

// RetentionKind is the policy family (spec.md §4.6).
type RetentionKind int

const (
	KeepAll RetentionKind = iota
	KeepLast
	KeepFor
	Composite
)

// RetentionPolicy bounds how much version history a (run, primitive) pair
// keeps. Composite policies keep a version if any child would keep it —
// the least-aggressive union, so combining policies never deletes more
// than the most lenient member alone would.
type RetentionPolicy struct {
	Kind     RetentionKind     `json:"kind"`
	N        int               `json:"n,omitempty"`
	For      time.Duration     `json:"for,omitempty"`
	Children []RetentionPolicy `json:"children,omitempty"`
}

func KeepAllPolicy() RetentionPolicy             { return RetentionPolicy{Kind: KeepAll} }
func KeepLastPolicy(n int) RetentionPolicy       { return RetentionPolicy{Kind: KeepLast, N: n} }
func KeepForPolicy(d time.Duration) RetentionPolicy { return RetentionPolicy{Kind: KeepFor, For: d} }
func CompositePolicy(children ...RetentionPolicy) RetentionPolicy {
	return RetentionPolicy{Kind: Composite, Children: children}
}

// keeps reports whether entry at position idx (0 = newest, within history
// ordered newest-first) survives p, evaluated at now.
func (p RetentionPolicy) keeps(history []StoredValue, idx int, now time.Time) bool {
	switch p.Kind {
	case KeepAll:
		return true
	case KeepLast:
		return idx < p.N
	case KeepFor:
		age := now.Sub(time.UnixMicro(history[idx].TimeMicro))
		return age <= p.For
	case Composite:
		for _, c := range p.Children {
			if c.keeps(history, idx, now) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Evaluate partitions history (newest-first) into retained and removable
// entries under p, as of now. The newest entry is always retained
// regardless of policy, so a key with at least one write never vanishes
// outright from compaction alone (deletion is the user's prerogative via
// a tombstone write, not retention).
func (p RetentionPolicy) Evaluate(history []StoredValue, now time.Time) (retained, removable []StoredValue) {
	for i, sv := range history {
		if i == 0 || p.keeps(history, i, now) {
			retained = append(retained, sv)
		} else {
			removable = append(removable, sv)
		}
	}
	return retained, removable
}

// retentionKey is the reserved-namespace location a (run, primitive)
// pair's policy is stored at.
func retentionKey(runID string, tag PrimitiveTag) Key {
	return reservedKey(runID, TagKV, "retention/"+tag.String())
}

// SetRetentionPolicy durably stores policy for (runID, tag) via a
// transaction, so it is itself subject to the same WAL/recovery
// guarantees as any other run-scoped record.
func SetRetentionPolicy(mgr *TxnManager, runID string, tag PrimitiveTag, policy RetentionPolicy) error {
	payload, err := json.Marshal(policy)
	if err != nil {
		return errs.Wrap(errs.Serialization, "storage.SetRetentionPolicy", "marshaling policy", err)
	}
	key := retentionKey(runID, tag)
	_, err = mgr.WithRetry(runID, func(txn *Txn) error {
		return txn.PutAs(key, payload, RecKVPut)
	}, RetryPolicy{MaxAttempts: 3})
	return err
}

// GetRetentionPolicy returns the policy for (runID, tag), or ok=false if
// none was ever set (callers should default to KeepAll).
func GetRetentionPolicy(substrate *Substrate, runID string, tag PrimitiveTag) (RetentionPolicy, bool, error) {
	sv, ok := substrate.Get(retentionKey(runID, tag))
	if !ok {
		return RetentionPolicy{}, false, nil
	}
	var p RetentionPolicy
	if err := json.Unmarshal(sv.Payload, &p); err != nil {
		return RetentionPolicy{}, false, errs.Wrap(errs.Serialization, "storage.GetRetentionPolicy", "unmarshaling policy", err)
	}
	return p, true, nil
}

// Tombstone records why and when a version was removed, for distinguishing
// NotFound (never existed) from HistoryTrimmed (removed by policy or
// compaction) at read time.
type Tombstone struct {
	EntityRef string          `json:"entity_ref"`
	Version   Version         `json:"version"`
	CreatedAt int64           `json:"created_at"`
	Reason    TombstoneReason `json:"reason"`
}

type TombstoneReason string

const (
	ReasonUserDelete      TombstoneReason = "UserDelete"
	ReasonRetentionPolicy TombstoneReason = "RetentionPolicy"
	ReasonCompaction      TombstoneReason = "Compaction"
)

func retainedFloorKey(runID string, tag PrimitiveTag, userKey []byte) Key {
	return reservedKey(runID, TagKV, "retained-floor/"+tag.String()+"/"+string(userKey))
}

// RetainedFloor returns the earliest version still retained for
// (runID, tag, userKey) after compaction, or ok=false if no floor has ever
// been recorded (i.e. full history is available).
func RetainedFloor(substrate *Substrate, runID string, tag PrimitiveTag, userKey []byte) (uint64, bool) {
	sv, ok := substrate.Get(retainedFloorKey(runID, tag, userKey))
	if !ok || len(sv.Payload) < 8 {
		return 0, false
	}
	return getU64(sv.Payload), true
}

func setRetainedFloor(substrate *Substrate, version Version, timeMicro int64, runID string, tag PrimitiveTag, userKey []byte, floor uint64) {
	payload := make([]byte, 8)
	putU64(payload, floor)
	substrate.Install(version, timeMicro, []Write{{Key: retainedFloorKey(runID, tag, userKey), Payload: payload}})
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
