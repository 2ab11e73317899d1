package eventlog

import (
	"encoding/binary"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/value"
)

// encodeEvent renders an Event into the storage payload bytes: seq,
// stream, the payload's canonical JSON, timestamp, and both chain hashes.
// Storing the canonical JSON directly (rather than re-deriving it) keeps
// verify_chain's recomputation independent of any later change to the
// value package's marshaling.
func encodeEvent(ev Event) ([]byte, error) {
	canonical, err := value.MarshalJSON(ev.Payload)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "eventlog.encodeEvent", "canonicalizing payload", err)
	}
	buf := make([]byte, 0, 8+4+len(ev.Stream)+8+4+len(canonical)+32+32)
	buf = appendU64(buf, ev.Seq)
	buf = appendU32(buf, uint32(len(ev.Stream)))
	buf = append(buf, ev.Stream...)
	buf = appendU64(buf, uint64(ev.TimestampMicro))
	buf = appendU32(buf, uint32(len(canonical)))
	buf = append(buf, canonical...)
	buf = append(buf, ev.PrevHash[:]...)
	buf = append(buf, ev.Hash[:]...)
	return buf, nil
}

func decodeEvent(b []byte) (Event, error) {
	var ev Event
	r := b
	seq, r, err := takeU64(r)
	if err != nil {
		return Event{}, err
	}
	ev.Seq = seq

	streamLen, r, err := takeU32(r)
	if err != nil {
		return Event{}, err
	}
	stream, r, err := takeBytes(r, int(streamLen))
	if err != nil {
		return Event{}, err
	}
	ev.Stream = string(stream)

	ts, r, err := takeU64(r)
	if err != nil {
		return Event{}, err
	}
	ev.TimestampMicro = int64(ts)

	payloadLen, r, err := takeU32(r)
	if err != nil {
		return Event{}, err
	}
	payloadJSON, r, err := takeBytes(r, int(payloadLen))
	if err != nil {
		return Event{}, err
	}
	ev.Payload, err = value.UnmarshalJSON(payloadJSON)
	if err != nil {
		return Event{}, errs.Wrap(errs.Serialization, "eventlog.decodeEvent", "decoding payload", err)
	}

	prevHash, r, err := takeBytes(r, 32)
	if err != nil {
		return Event{}, err
	}
	copy(ev.PrevHash[:], prevHash)

	hash, _, err := takeBytes(r, 32)
	if err != nil {
		return Event{}, err
	}
	copy(ev.Hash[:], hash)

	return ev, nil
}

// encodeMeta / decodeMeta serialize EventLogMeta: next_sequence, head_hash,
// hash_version, then each stream's name and StreamInfo.
func encodeMeta(m EventLogMeta) []byte {
	buf := make([]byte, 0, 64)
	buf = appendU64(buf, m.NextSequence)
	buf = append(buf, m.HeadHash[:]...)
	buf = append(buf, m.HashVersion)
	buf = appendU32(buf, uint32(len(m.Streams)))
	for _, name := range sortedStreamKeys(m.Streams) {
		info := m.Streams[name]
		buf = appendU32(buf, uint32(len(name)))
		buf = append(buf, name...)
		buf = appendU64(buf, info.Count)
		buf = appendU64(buf, info.FirstSeq)
		buf = appendU64(buf, info.LastSeq)
		buf = appendU64(buf, uint64(info.FirstTS))
		buf = appendU64(buf, uint64(info.LastTS))
	}
	return buf
}

func decodeMeta(b []byte) (EventLogMeta, error) {
	m := newMeta()
	r := b
	next, r, err := takeU64(r)
	if err != nil {
		return EventLogMeta{}, err
	}
	m.NextSequence = next

	headHash, r, err := takeBytes(r, 32)
	if err != nil {
		return EventLogMeta{}, err
	}
	copy(m.HeadHash[:], headHash)

	version, r, err := takeByte(r)
	if err != nil {
		return EventLogMeta{}, err
	}
	m.HashVersion = version

	count, r, err := takeU32(r)
	if err != nil {
		return EventLogMeta{}, err
	}
	for i := uint32(0); i < count; i++ {
		nameLen, rest, err := takeU32(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		r = rest
		nameBytes, rest, err := takeBytes(r, int(nameLen))
		if err != nil {
			return EventLogMeta{}, err
		}
		r = rest
		var info StreamInfo
		var u64 uint64
		u64, r, err = takeU64(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		info.Count = u64
		u64, r, err = takeU64(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		info.FirstSeq = u64
		u64, r, err = takeU64(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		info.LastSeq = u64
		u64, r, err = takeU64(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		info.FirstTS = int64(u64)
		u64, r, err = takeU64(r)
		if err != nil {
			return EventLogMeta{}, err
		}
		info.LastTS = int64(u64)
		m.Streams[string(nameBytes)] = info
	}
	return m, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errs.New(errs.Serialization, "eventlog.takeU32", "short read")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func takeU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errs.New(errs.Serialization, "eventlog.takeU64", "short read")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func takeByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, errs.New(errs.Serialization, "eventlog.takeByte", "short read")
	}
	return b[0], b[1:], nil
}

func takeBytes(b []byte, n int) ([]byte, []byte, error) {
	if len(b) < n {
		return nil, nil, errs.New(errs.Serialization, "eventlog.takeBytes", "short read")
	}
	return b[:n], b[n:], nil
}

// sortedStreamKeys returns m's stream names in lexicographic order, so
// encodeMeta produces a deterministic byte layout independent of map
// iteration order.
func sortedStreamKeys(m map[string]StreamInfo) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
