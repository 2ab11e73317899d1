package replay

import (
	"bytes"
	"path/filepath"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
)

// eventKeyPrefix mirrors pkg/eventlog's own event key prefix so replay can
// tell an event record apart from that primitive's stream meta and
// consumer-cursor keys (which share TagEvent but carry no timestamp).
const eventKeyPrefix = "ev/"

// Entry is one key's final resolved state as of the end of the scanned
// WAL, with the transaction that last wrote it.
type Entry struct {
	Tag       storage.PrimitiveTag
	UserKey   []byte
	Payload   []byte
	Tombstone bool
	TxnID     uint64
}

// ReadOnlyView is a run's reconstructed logical state: the last-write-wins
// resolution of every generic (non-Vector) record belonging to the run, in
// the order replay applied them.
type ReadOnlyView struct {
	RunID   string
	Entries map[string]Entry // tag byte + user key (see entryKey) -> Entry
}

func newView(runID string) ReadOnlyView {
	return ReadOnlyView{RunID: runID, Entries: make(map[string]Entry)}
}

func entryKey(tag storage.PrimitiveTag, userKey []byte) string {
	return string(append([]byte{byte(tag)}, userKey...))
}

// primitiveTagFor mirrors storage's unexported recordPrimitiveTag: which
// tag and tombstone-ness a generic WAL record type belongs to. Vector
// record types are deliberately excluded — they never land in the generic
// Substrate keyspace replay reconstructs; pkg/vectorstore owns their own
// recovery path.
func primitiveTagFor(rt storage.RecordType) (tag storage.PrimitiveTag, tombstone bool, ok bool) {
	switch rt {
	case storage.RecKVPut:
		return storage.TagKV, false, true
	case storage.RecKVDelete:
		return storage.TagKV, true, true
	case storage.RecJSONSet:
		return storage.TagJSON, false, true
	case storage.RecJSONDelete:
		return storage.TagJSON, true, true
	case storage.RecEventAppend:
		return storage.TagEvent, false, true
	case storage.RecStateSet:
		return storage.TagState, false, true
	case storage.RecRunCreate, storage.RecRunUpdate, storage.RecRunSetState:
		return storage.TagRun, false, true
	case storage.RecRunDelete:
		return storage.TagRun, true, true
	default:
		return 0, false, false
	}
}

// timestampFilter decides whether a generic record should be applied.
// Event records are filtered by their own embedded TimestampMicro; every
// other generic record type has no persisted wall-clock time in the WAL
// (spec.md §4.3's framing carries only txn id, run id, and a type-specific
// body) and is always applied regardless of bound.
type timestampFilter func(tag storage.PrimitiveTag, userKey []byte, payload []byte) bool

func noFilter(storage.PrimitiveTag, []byte, []byte) bool { return true }

func boundedFilter(from, to int64) timestampFilter {
	return func(tag storage.PrimitiveTag, userKey []byte, payload []byte) bool {
		if tag != storage.TagEvent || !bytes.HasPrefix(userKey, []byte(eventKeyPrefix)) {
			return true
		}
		ts, ok := parseEventTimestamp(payload)
		if !ok {
			return true
		}
		return ts >= from && ts <= to
	}
}

func replayWith(dbDir, runID string, filter timestampFilter) (ReadOnlyView, error) {
	walDir := filepath.Join(dbDir, "WAL")
	records, _, err := storage.ScanWAL(walDir, 0, storage.PolicyDefault)
	if err != nil {
		return ReadOnlyView{}, err
	}
	groups, _ := storage.GroupCommitted(records)

	view := newView(runID)
	for _, g := range groups {
		for _, rec := range g.Records {
			if rec.RunID != runID {
				continue
			}
			tag, tomb, ok := primitiveTagFor(rec.Type)
			if !ok {
				continue // Vector record, out of replay's scope
			}
			userKey, payload, valid := parseGenericBody(rec.Body)
			if !valid {
				return ReadOnlyView{}, errs.New(errs.Serialization, "replay.replayWith", "malformed generic WAL body")
			}
			if !filter(tag, userKey, payload) {
				continue
			}
			view.Entries[entryKey(tag, userKey)] = Entry{
				Tag: tag, UserKey: append([]byte(nil), userKey...), Payload: append([]byte(nil), payload...),
				Tombstone: tomb, TxnID: g.TxnID,
			}
		}
	}
	return view, nil
}

// Replay reconstructs run's full logical state: the last-write-wins
// resolution of every generic WAL record belonging to it, applied in
// ascending txn_id order. It is a pure function — two invocations over an
// unchanged database directory return equal views.
func Replay(dbDir, runID string) (ReadOnlyView, error) {
	return replayWith(dbDir, runID, noFilter)
}

// ReplayUntil restricts Replay to event records timestamped at or before
// tsMicro; every other generic record type is unaffected (see
// timestampFilter's doc comment).
func ReplayUntil(dbDir, runID string, tsMicro int64) (ReadOnlyView, error) {
	return replayWith(dbDir, runID, boundedFilter(0, tsMicro))
}

// ReplayRange restricts Replay to event records timestamped within
// [fromMicro, toMicro]; every other generic record type is unaffected.
func ReplayRange(dbDir, runID string, fromMicro, toMicro int64) (ReadOnlyView, error) {
	return replayWith(dbDir, runID, boundedFilter(fromMicro, toMicro))
}

// SortedKeys returns view's entry keys sorted, for deterministic iteration
// in callers and tests.
func SortedKeys(view ReadOnlyView) []string {
	keys := make([]string, 0, len(view.Entries))
	for k := range view.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
