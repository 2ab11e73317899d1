package eventlog

import (
	"bytes"
	"sort"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

func currentTimeMicro() int64 { return time.Now().UnixMicro() }

// DefaultRetryAttempts bounds append's OCC retry loop against concurrent
// writers touching the same run's meta record.
const DefaultRetryAttempts = 5

// EventLog is the per-database handle for the EventLog primitive. It reads
// and writes exclusively through storage.Substrate/storage.TxnManager; it
// keeps no state of its own, so it is safe to construct more than one over
// the same database.
type EventLog struct {
	substrate *storage.Substrate
	txn       *storage.TxnManager
}

// New builds an EventLog over an already-open storage database.
func New(substrate *storage.Substrate, txn *storage.TxnManager) *EventLog {
	return &EventLog{substrate: substrate, txn: txn}
}

func validateStream(stream string) error {
	if stream == "" {
		return errs.New(errs.ConstraintViolation, "eventlog.validateStream", "stream must not be empty")
	}
	if len(stream) > maxStreamLen {
		return errs.New(errs.ConstraintViolation, "eventlog.validateStream", "stream exceeds 1024 bytes")
	}
	if bytes.IndexByte([]byte(stream), 0) >= 0 {
		return errs.New(errs.ConstraintViolation, "eventlog.validateStream", "stream must not contain NUL")
	}
	return nil
}

func validatePayload(payload value.Value) error {
	if _, ok := payload.AsObject(); !ok {
		return errs.New(errs.ConstraintViolation, "eventlog.validatePayload", "payload must be an Object")
	}
	if value.HasNonFinite(payload) {
		return errs.New(errs.ConstraintViolation, "eventlog.validatePayload", "payload must not contain NaN/Inf")
	}
	return nil
}

func loadMeta(t *storage.Txn, run string) (EventLogMeta, error) {
	sv, ok := t.Read(metaKey(run))
	if !ok {
		return newMeta(), nil
	}
	return decodeMeta(sv.Payload)
}

// appendOne buffers one event's record + updated meta into txn, returning
// the event's assigned sequence. Caller commits.
func appendOne(t *storage.Txn, run, stream string, payload value.Value, tsMicro int64, meta *EventLogMeta) (uint64, error) {
	seq := meta.NextSequence
	hash, err := chainHash(seq, stream, tsMicro, payload, meta.HeadHash)
	if err != nil {
		return 0, err
	}
	ev := Event{Seq: seq, Stream: stream, Payload: payload, TimestampMicro: tsMicro, PrevHash: meta.HeadHash, Hash: hash}
	body, err := encodeEvent(ev)
	if err != nil {
		return 0, err
	}
	if err := t.PutAs(eventKey(run, seq), body, storage.RecEventAppend); err != nil {
		return 0, err
	}

	meta.NextSequence = seq + 1
	meta.HeadHash = hash
	info := meta.Streams[stream]
	if info.Count == 0 {
		info.FirstSeq = seq
		info.FirstTS = tsMicro
	}
	info.Count++
	info.LastSeq = seq
	info.LastTS = tsMicro
	meta.Streams[stream] = info
	return seq, nil
}

// Append appends one event to stream and returns its assigned sequence.
func (e *EventLog) Append(run, stream string, payload value.Value) (uint64, error) {
	if err := validateStream(stream); err != nil {
		return 0, err
	}
	if err := validatePayload(payload); err != nil {
		return 0, err
	}

	var seq uint64
	_, err := e.txn.WithRetry(run, func(t *storage.Txn) error {
		meta, err := loadMeta(t, run)
		if err != nil {
			return err
		}
		// Timestamp is pinned once per commit attempt so a retried append
		// (on OCC conflict) doesn't leak a clock read across attempts; the
		// transaction manager stamps the real commit time at install, but
		// the hash chain needs a timestamp decided before WAL append.
		tsMicro := currentTimeMicro()
		seq, err = appendOne(t, run, stream, payload, tsMicro, &meta)
		if err != nil {
			return err
		}
		body := encodeMeta(meta)
		return t.PutAs(metaKey(run), body, storage.RecEventAppend)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return 0, err
	}
	metrics.EventsAppendedTotal.Inc()
	return seq, nil
}

// AppendIn buffers an append into an already-open transaction t, for
// callers composing a multi-primitive commit. t's run must match run.
// The caller owns commit/rollback; the assigned sequence is only final
// once t commits.
func (e *EventLog) AppendIn(t *storage.Txn, run, stream string, payload value.Value) (uint64, error) {
	if err := validateStream(stream); err != nil {
		return 0, err
	}
	if err := validatePayload(payload); err != nil {
		return 0, err
	}
	meta, err := loadMeta(t, run)
	if err != nil {
		return 0, err
	}
	tsMicro := currentTimeMicro()
	seq, err := appendOne(t, run, stream, payload, tsMicro, &meta)
	if err != nil {
		return 0, err
	}
	body := encodeMeta(meta)
	if err := t.PutAs(metaKey(run), body, storage.RecEventAppend); err != nil {
		return 0, err
	}
	return seq, nil
}

// BatchItem is one (stream, payload) pair for AppendBatch.
type BatchItem struct {
	Stream  string
	Payload value.Value
}

// AppendBatch appends every item atomically: all events get consecutive
// global sequences and the hash chain proceeds across them in commit
// order. Empty input returns an empty result without touching storage.
func (e *EventLog) AppendBatch(run string, items []BatchItem) ([]uint64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for _, it := range items {
		if err := validateStream(it.Stream); err != nil {
			return nil, err
		}
		if err := validatePayload(it.Payload); err != nil {
			return nil, err
		}
	}

	var seqs []uint64
	_, err := e.txn.WithRetry(run, func(t *storage.Txn) error {
		meta, err := loadMeta(t, run)
		if err != nil {
			return err
		}
		seqs = make([]uint64, 0, len(items))
		tsMicro := currentTimeMicro()
		for _, it := range items {
			seq, err := appendOne(t, run, it.Stream, it.Payload, tsMicro, &meta)
			if err != nil {
				return err
			}
			seqs = append(seqs, seq)
		}
		body := encodeMeta(meta)
		return t.PutAs(metaKey(run), body, storage.RecEventAppend)
	}, storage.RetryPolicy{MaxAttempts: DefaultRetryAttempts})
	if err != nil {
		return nil, err
	}
	metrics.EventsAppendedTotal.Add(float64(len(seqs)))
	return seqs, nil
}

// Read returns the event at seq, if any.
func (e *EventLog) Read(run string, seq uint64) (Event, bool, error) {
	sv, ok := e.substrate.Get(eventKey(run, seq))
	if !ok {
		return Event{}, false, nil
	}
	ev, err := decodeEvent(sv.Payload)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// allEvents scans every event in run, ascending by sequence. It is the
// shared base for range/range_reverse/range_by_time/read_by_type; this
// reference implementation favors a single straightforward scan path over
// maintaining separate secondary indexes for each query shape.
func (e *EventLog) allEvents(run string) ([]Event, error) {
	snap := e.substrate.Snapshot()
	rows, _ := e.substrate.ScanPrefix(run, storage.TagEvent, []byte(eventKeyPrefix), snap, 0, "")
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := decodeEvent(row.Value.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Range returns events with start <= seq < end (end of 0 means unbounded),
// ascending, capped at limit (0 means unbounded).
func (e *EventLog) Range(run string, start uint64, end uint64, limit int) ([]Event, error) {
	all, err := e.allEvents(run)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.Seq < start {
			continue
		}
		if end > 0 && ev.Seq >= end {
			break
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RangeReverse is Range's mirror: descending order, same bounds.
func (e *EventLog) RangeReverse(run string, start uint64, end uint64, limit int) ([]Event, error) {
	all, err := e.allEvents(run)
	if err != nil {
		return nil, err
	}
	var filtered []Event
	for _, ev := range all {
		if ev.Seq < start {
			continue
		}
		if end > 0 && ev.Seq >= end {
			continue
		}
		filtered = append(filtered, ev)
	}
	out := make([]Event, 0, len(filtered))
	for i := len(filtered) - 1; i >= 0; i-- {
		out = append(out, filtered[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RangeByTime returns events whose timestamp falls in [startTS, endTS)
// (endTS of 0 means unbounded), ascending by sequence, capped at limit.
func (e *EventLog) RangeByTime(run string, startTS, endTS int64, limit int) ([]Event, error) {
	all, err := e.allEvents(run)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.TimestampMicro < startTS {
			continue
		}
		if endTS > 0 && ev.TimestampMicro >= endTS {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ReadByType returns every event in stream, ascending by sequence.
func (e *EventLog) ReadByType(run, stream string) ([]Event, error) {
	all, err := e.allEvents(run)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.Stream == stream {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (e *EventLog) meta(run string) (EventLogMeta, error) {
	sv, ok := e.substrate.Get(metaKey(run))
	if !ok {
		return newMeta(), nil
	}
	return decodeMeta(sv.Payload)
}

// Len returns the total number of events ever appended to run.
func (e *EventLog) Len(run string) (uint64, error) {
	meta, err := e.meta(run)
	if err != nil {
		return 0, err
	}
	return meta.NextSequence, nil
}

// LenByType returns the number of events appended to stream.
func (e *EventLog) LenByType(run, stream string) (uint64, error) {
	meta, err := e.meta(run)
	if err != nil {
		return 0, err
	}
	return meta.Streams[stream].Count, nil
}

// LatestSequence returns the most recently assigned sequence, if any.
func (e *EventLog) LatestSequence(run string) (uint64, bool, error) {
	meta, err := e.meta(run)
	if err != nil {
		return 0, false, err
	}
	if meta.NextSequence == 0 {
		return 0, false, nil
	}
	return meta.NextSequence - 1, true, nil
}

// LatestSequenceByType returns stream's most recent sequence, if any.
func (e *EventLog) LatestSequenceByType(run, stream string) (uint64, bool, error) {
	meta, err := e.meta(run)
	if err != nil {
		return 0, false, err
	}
	info, ok := meta.Streams[stream]
	if !ok || info.Count == 0 {
		return 0, false, nil
	}
	return info.LastSeq, true, nil
}

// StreamInfoOf returns stream's O(1) summary.
func (e *EventLog) StreamInfoOf(run, stream string) (StreamInfo, bool, error) {
	meta, err := e.meta(run)
	if err != nil {
		return StreamInfo{}, false, err
	}
	info, ok := meta.Streams[stream]
	return info, ok, nil
}

// Streams returns every stream name that has at least one event, sorted.
func (e *EventLog) Streams(run string) ([]string, error) {
	meta, err := e.meta(run)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(meta.Streams))
	for name := range meta.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Head returns the most recently appended event, if any.
func (e *EventLog) Head(run string) (Event, bool, error) {
	seq, ok, err := e.LatestSequence(run)
	if err != nil || !ok {
		return Event{}, false, err
	}
	return e.Read(run, seq)
}

// HeadByType returns stream's most recently appended event, if any.
func (e *EventLog) HeadByType(run, stream string) (Event, bool, error) {
	seq, ok, err := e.LatestSequenceByType(run, stream)
	if err != nil || !ok {
		return Event{}, false, err
	}
	return e.Read(run, seq)
}

// VerifyChain recomputes the hash chain end-to-end and reports whether it
// is internally consistent.
func (e *EventLog) VerifyChain(run string) (ChainVerdict, error) {
	all, err := e.allEvents(run)
	if err != nil {
		return ChainVerdict{}, err
	}
	prev := zeroHash
	for _, ev := range all {
		want, err := chainHash(ev.Seq, ev.Stream, ev.TimestampMicro, ev.Payload, prev)
		if err != nil {
			return ChainVerdict{}, err
		}
		if ev.PrevHash != prev || ev.Hash != want {
			seq := ev.Seq
			return ChainVerdict{
				IsValid:      false,
				Length:       uint64(len(all)),
				FirstInvalid: &seq,
				Error:        "hash chain mismatch at sequence",
			}, nil
		}
		prev = ev.Hash
	}
	return ChainVerdict{IsValid: true, Length: uint64(len(all))}, nil
}
