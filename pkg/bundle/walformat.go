package bundle

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
)

// walRunlogMagic and walRunlogVersion identify WAL.runlog's own framing,
// independent of the live engine's on-disk segment format (spec.md §4.3) —
// a bundle is a portable snapshot of a run's records, not a segment file.
var walRunlogMagic = []byte("STRATA_WAL")

const walRunlogVersion uint16 = 1

// encodeWALRunlog renders records (in the order they must replay) as
// WAL.runlog: magic | u16 version | u32 count | then, per record,
// u32 length | record bytes | u32 CRC32. Each record's own bytes are
// storage.Record's header+body, re-encoded locally (storage's
// encodeRecordPayload is unexported) by recordBytes below.
func encodeWALRunlog(records []storage.Record) []byte {
	var buf bytes.Buffer
	buf.Write(walRunlogMagic)
	writeU16(&buf, walRunlogVersion)
	writeU32(&buf, uint32(len(records)))
	for _, rec := range records {
		body := recordBytes(rec)
		writeU32(&buf, uint32(len(body)))
		buf.Write(body)
		writeU32(&buf, crc32.ChecksumIEEE(body))
	}
	return buf.Bytes()
}

// decodeWALRunlog parses encodeWALRunlog's output, verifying every
// record's CRC32 and rejecting a magic/version mismatch outright.
func decodeWALRunlog(data []byte) ([]storage.Record, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(walRunlogMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, walRunlogMagic) {
		return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "bad WAL.runlog magic")
	}
	version, err := readU16(r)
	if err != nil {
		return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "truncated WAL.runlog header")
	}
	if version != walRunlogVersion {
		return nil, errs.New(errs.UnsupportedVersion, "bundle.decodeWALRunlog", "unsupported WAL.runlog version")
	}
	count, err := readU32(r)
	if err != nil {
		return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "truncated WAL.runlog header")
	}

	out := make([]storage.Record, 0, count)
	for i := uint32(0); i < count; i++ {
		length, err := readU32(r)
		if err != nil {
			return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "truncated record length")
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "truncated record body")
		}
		wantCRC, err := readU32(r)
		if err != nil {
			return nil, errs.New(errs.Serialization, "bundle.decodeWALRunlog", "truncated record CRC")
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			return nil, errs.New(errs.ChecksumMismatch, "bundle.decodeWALRunlog", "record CRC mismatch").WithDetails("index", i)
		}
		rec, err := parseRecordBytes(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// recordBytes and parseRecordBytes are a local copy of storage's
// unexported encodeRecordPayload/decodeRecordPayload framing (u8 type |
// u64 txn_id | u16 run_id_len | run_id | body), duplicated because the
// storage package does not export it — the same local-helper convention
// pkg/replay and pkg/eventlog already follow.
func recordBytes(r storage.Record) []byte {
	runIDBytes := []byte(r.RunID)
	buf := make([]byte, 0, 1+8+2+len(runIDBytes)+len(r.Body))
	buf = append(buf, byte(r.Type))
	var txnBuf [8]byte
	binary.BigEndian.PutUint64(txnBuf[:], r.TxnID)
	buf = append(buf, txnBuf[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(runIDBytes)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, runIDBytes...)
	buf = append(buf, r.Body...)
	return buf
}

func parseRecordBytes(payload []byte) (storage.Record, error) {
	if len(payload) < 1+8+2 {
		return storage.Record{}, errs.New(errs.Serialization, "bundle.parseRecordBytes", "payload too short for header")
	}
	rt := storage.RecordType(payload[0])
	txnID := binary.BigEndian.Uint64(payload[1:9])
	runIDLen := int(binary.BigEndian.Uint16(payload[9:11]))
	if len(payload) < 11+runIDLen {
		return storage.Record{}, errs.New(errs.Serialization, "bundle.parseRecordBytes", "payload too short for run id")
	}
	runID := string(payload[11 : 11+runIDLen])
	body := payload[11+runIDLen:]
	return storage.Record{Type: rt, TxnID: txnID, RunID: runID, Body: append([]byte(nil), body...)}, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
