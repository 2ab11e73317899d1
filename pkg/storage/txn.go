package storage

import (
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
)

var txnLogger = log.WithComponent("txn")

// TxnState is a transaction's position in the Begin -> Active ->
// (Committing) -> Committed | Aborted state machine (spec.md §4.2).
type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

// readObservation is the version a transaction saw for a key the first
// time it read it, used for OCC validation at commit.
type readObservation struct {
	key      Key
	existed  bool
	observed Version
}

// txnOp is one buffered mutation: either a Substrate-backed write (the
// common case — KV, JSON, Event, State, Run lifecycle) or a side effect
// owned entirely by a primitive that keeps its own state outside the
// Substrate (VectorStore's heap). Both kinds share one commit and one
// ordered position in the WAL.
type txnOp struct {
	write   *Write // non-nil for a substrate-backed write
	recType RecordType
	body    []byte // WAL record body; for substrate writes this is genericBody(userKey, payload)

	install func(v Version, timeMicro int64) // non-nil for a side effect
}

// Txn is a single transaction: a pinned snapshot, a private write-set, and
// a read-set used for OCC validation at commit. A Txn is not safe for
// concurrent use by more than one goroutine.
type Txn struct {
	run      string
	snapshot SnapshotView
	state    TxnState

	mgr *TxnManager

	writeIndex map[string]int // key.encode() within run -> index into ops, for read-your-writes and overwrite-in-place
	ops        []txnOp
	reads      map[string]readObservation
}

func (t *Txn) Run() string             { return t.run }
func (t *Txn) Snapshot() SnapshotView  { return t.snapshot }
func (t *Txn) State() TxnState         { return t.state }

// Read returns the value visible to this transaction: its own write-set
// first (read-your-writes), then the substrate as of the transaction's
// snapshot. The first read of any key is recorded in the read-set for OCC
// validation at commit.
func (t *Txn) Read(key Key) (StoredValue, bool) {
	composite := key.encode()
	if idx, ok := t.writeIndex[composite]; ok {
		op := t.ops[idx]
		if op.write != nil {
			if op.write.Tombstone {
				return StoredValue{}, false
			}
			return StoredValue{Payload: op.write.Payload, Tombstone: false}, true
		}
	}
	sv, ok := t.mgr.substrate.GetAt(key, t.snapshot)
	if _, recorded := t.reads[composite]; !recorded {
		obs := readObservation{key: key}
		if ok {
			obs.existed = true
			obs.observed = sv.Version
		}
		t.reads[composite] = obs
	}
	return sv, ok
}

// Put buffers a write for key under the record type implied by its
// primitive tag (the common KV/JSON/Event/State case). Use PutAs for the
// Run-lifecycle record types, which don't collapse to one-tag-one-type.
func (t *Txn) Put(key Key, payload []byte) error {
	rt, ok := defaultPutType(key.Tag)
	if !ok {
		return errs.New(errs.Internal, "storage.Txn.Put", "tag has no default put record type; use PutAs")
	}
	return t.PutAs(key, payload, rt)
}

// PutAs buffers a write for key with an explicit WAL record type.
func (t *Txn) PutAs(key Key, payload []byte, recType RecordType) error {
	w := Write{Key: key, Payload: append([]byte(nil), payload...)}
	return t.bufferWrite(key, w, recType)
}

// Delete buffers a tombstone for key under the record type implied by its
// primitive tag. Use DeleteAs for tags without a single default.
func (t *Txn) Delete(key Key) error {
	rt, ok := defaultDeleteType(key.Tag)
	if !ok {
		return errs.New(errs.Internal, "storage.Txn.Delete", "tag has no default delete record type; use DeleteAs")
	}
	return t.DeleteAs(key, rt)
}

// DeleteAs buffers a tombstone for key with an explicit WAL record type.
func (t *Txn) DeleteAs(key Key, recType RecordType) error {
	w := Write{Key: key, Tombstone: true}
	return t.bufferWrite(key, w, recType)
}

func (t *Txn) bufferWrite(key Key, w Write, recType RecordType) error {
	composite := key.encode()
	body := genericBody(key.UserKey, w.Payload)
	op := txnOp{write: &w, recType: recType, body: body}
	if idx, exists := t.writeIndex[composite]; exists {
		t.ops[idx] = op
		return nil
	}
	t.writeIndex[composite] = len(t.ops)
	t.ops = append(t.ops, op)
	return nil
}

// AddSideEffect appends a WAL record owned by a primitive that manages its
// own state outside the Substrate (VectorStore). install runs once the
// transaction's commit is durable, with the freshly allocated version and
// wall-clock timestamp, in the same order AddSideEffect was called.
func (t *Txn) AddSideEffect(runID string, recType RecordType, body []byte, install func(v Version, timeMicro int64)) {
	t.ops = append(t.ops, txnOp{recType: recType, body: append([]byte(nil), body...), install: install})
}

func defaultPutType(tag PrimitiveTag) (RecordType, bool) {
	switch tag {
	case TagKV:
		return RecKVPut, true
	case TagJSON:
		return RecJSONSet, true
	case TagEvent:
		return RecEventAppend, true
	case TagState:
		return RecStateSet, true
	default:
		return 0, false
	}
}

func defaultDeleteType(tag PrimitiveTag) (RecordType, bool) {
	switch tag {
	case TagKV:
		return RecKVDelete, true
	case TagJSON:
		return RecJSONDelete, true
	default:
		return 0, false
	}
}

// genericBody frames a Substrate-backed WAL record body as
// u32(len(userKey)) | userKey | payload. The owning run is already in the
// record header; this is the rest.
func genericBody(userKey, payload []byte) []byte {
	body := make([]byte, 4+len(userKey)+len(payload))
	putU32(body[:4], uint32(len(userKey)))
	copy(body[4:4+len(userKey)], userKey)
	copy(body[4+len(userKey):], payload)
	return body
}

func parseGenericBody(body []byte) (userKey, payload []byte, ok bool) {
	if len(body) < 4 {
		return nil, nil, false
	}
	n := getU32(body[:4])
	if uint32(len(body)-4) < n {
		return nil, nil, false
	}
	return body[4 : 4+n], body[4+n:], true
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// recordPrimitiveTag maps a generic (non-Vector) record type back onto the
// primitive tag and tombstone-ness it belongs to, for recovery and replay.
func recordPrimitiveTag(rt RecordType) (tag PrimitiveTag, tombstone bool, ok bool) {
	switch rt {
	case RecKVPut:
		return TagKV, false, true
	case RecKVDelete:
		return TagKV, true, true
	case RecJSONSet:
		return TagJSON, false, true
	case RecJSONDelete:
		return TagJSON, true, true
	case RecEventAppend:
		return TagEvent, false, true
	case RecStateSet:
		return TagState, false, true
	case RecRunCreate, RecRunUpdate, RecRunSetState:
		return TagRun, false, true
	case RecRunDelete:
		return TagRun, true, true
	default:
		return 0, false, false
	}
}

// TxnManager issues transactions, validates and installs commits, and
// owns the commit-order mutex that serializes every commit against the
// WAL and the Substrate.
type TxnManager struct {
	substrate *Substrate
	wal       *WAL

	commitMu sync.Mutex
	counter  uint64 // guarded by commitMu; next txn version to allocate

	clock func() int64 // overridable for tests; defaults to time.Now().UnixMicro
}

// NewTxnManager builds a manager over substrate and wal, restoring the
// transaction counter strictly above restoreAbove (the recovery engine's
// R6-derived "max applied txn id").
func NewTxnManager(substrate *Substrate, wal *WAL, restoreAbove uint64) *TxnManager {
	return &TxnManager{
		substrate: substrate,
		wal:       wal,
		counter:   restoreAbove,
		clock:     func() int64 { return time.Now().UnixMicro() },
	}
}

// Begin starts a transaction scoped to run, pinned to the current
// committed watermark.
func (m *TxnManager) Begin(run string) *Txn {
	return &Txn{
		run:        run,
		snapshot:   m.substrate.Snapshot(),
		state:      TxnActive,
		mgr:        m,
		writeIndex: make(map[string]int),
		reads:      make(map[string]readObservation),
	}
}

// Rollback discards a transaction's buffered state. No WAL traffic.
func (m *TxnManager) Rollback(t *Txn) {
	t.state = TxnAborted
}

// Commit validates the read-set, allocates the next version, appends WAL
// records, installs writes into the substrate, and returns the new
// version. A read-set conflict aborts with errs.Conflict and appends
// nothing.
func (m *TxnManager) Commit(t *Txn) (Version, error) {
	if t.state != TxnActive {
		return Version{}, errs.New(errs.ConstraintViolation, "storage.TxnManager.Commit", "transaction is not active")
	}
	timer := metrics.NewTimer()
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	for _, obs := range t.reads {
		latest, ok := m.substrate.Get(obs.key)
		if ok != obs.existed {
			t.state = TxnAborted
			metrics.ConflictsTotal.Inc()
			return Version{}, errs.New(errs.Conflict, "storage.TxnManager.Commit", "read-set existence mismatch").
				WithDetails("run", t.run)
		}
		if ok && latest.Version != obs.observed {
			t.state = TxnAborted
			metrics.ConflictsTotal.Inc()
			return Version{}, errs.New(errs.Conflict, "storage.TxnManager.Commit", "read-set version mismatch").
				WithDetails("run", t.run)
		}
	}

	m.counter++
	version := Version{Kind: VersionTxn, N: m.counter}
	timeMicro := m.clock()

	if len(t.ops) > 0 {
		for _, op := range t.ops {
			rec := Record{Type: op.recType, TxnID: version.N, RunID: t.run, Body: op.body}
			if err := m.wal.Append(rec); err != nil {
				return Version{}, err
			}
		}
	}
	commitRec := Record{Type: RecCommit, TxnID: version.N, RunID: t.run}
	if err := m.wal.Append(commitRec); err != nil {
		return Version{}, err
	}

	var writes []Write
	for _, op := range t.ops {
		if op.write != nil {
			writes = append(writes, *op.write)
		}
	}
	if len(writes) > 0 {
		m.substrate.Install(version, timeMicro, writes)
	}
	for _, op := range t.ops {
		if op.install != nil {
			op.install(version, timeMicro)
		}
	}

	t.state = TxnCommitted
	metrics.CommitsTotal.Inc()
	timer.ObserveDuration(metrics.CommitDuration)
	log.WithTxn(log.WithRun(txnLogger, t.run), version.N).Debug().Int("ops", len(t.ops)).Msg("committed")
	return version, nil
}

// RetryPolicy bounds TxnManager.WithRetry's attempts.
type RetryPolicy struct {
	MaxAttempts int
}

// WithRetry runs fn inside a fresh transaction and commits it, retrying
// the whole begin/fn/commit cycle while commit fails with Conflict, up to
// policy.MaxAttempts times.
func (m *TxnManager) WithRetry(run string, fn func(*Txn) error, policy RetryPolicy) (Version, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		txn := m.Begin(run)
		if err := fn(txn); err != nil {
			m.Rollback(txn)
			return Version{}, err
		}
		version, err := m.Commit(txn)
		if err == nil {
			return version, nil
		}
		if !errs.Is(err, errs.Conflict) {
			return Version{}, err
		}
		lastErr = err
	}
	return Version{}, lastErr
}

// CounterAbove reports the current txn counter, for snapshot/checkpoint
// bookkeeping.
func (m *TxnManager) CounterAbove() uint64 {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	return m.counter
}
