package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/strata/pkg/errs"
)

// RecordType identifies a WAL record's logical meaning. Ranges are
// reserved per spec.md §4.3 to allow each primitive room to grow.
type RecordType byte

const (
	RecCommit         RecordType = 0x00
	RecAbort          RecordType = 0x01
	RecSnapshotMarker RecordType = 0x02

	RecKVPut    RecordType = 0x10
	RecKVDelete RecordType = 0x11

	RecJSONSet    RecordType = 0x20
	RecJSONDelete RecordType = 0x21

	RecEventAppend RecordType = 0x30

	RecStateSet RecordType = 0x40

	RecRunCreate   RecordType = 0x60
	RecRunUpdate   RecordType = 0x61
	RecRunSetState RecordType = 0x62
	RecRunDelete   RecordType = 0x63

	RecVectorCollectionCreate RecordType = 0x70
	RecVectorCollectionDelete RecordType = 0x71
	RecVectorUpsert           RecordType = 0x72
	RecVectorDelete           RecordType = 0x73
)

// Record is one logical WAL entry: a record type, the owning transaction
// id, the run it belongs to, and a type-specific body.
type Record struct {
	Type  RecordType
	TxnID uint64
	RunID string
	Body  []byte
}

// encodeRecordPayload renders the record header + body (everything that
// gets length-prefixed and CRC-checked by the segment frame, see frame.go).
func encodeRecordPayload(r Record) []byte {
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

// decodeRecordPayload parses the header + body produced by
// encodeRecordPayload.
func decodeRecordPayload(payload []byte) (Record, error) {
	if len(payload) < 1+8+2 {
		return Record{}, errs.New(errs.Serialization, "storage.decodeRecordPayload", "payload too short for header")
	}
	rt := RecordType(payload[0])
	txnID := binary.BigEndian.Uint64(payload[1:9])
	runIDLen := int(binary.BigEndian.Uint16(payload[9:11]))
	if len(payload) < 11+runIDLen {
		return Record{}, errs.New(errs.Serialization, "storage.decodeRecordPayload", "payload too short for run id")
	}
	runID := string(payload[11 : 11+runIDLen])
	body := payload[11+runIDLen:]
	return Record{Type: rt, TxnID: txnID, RunID: runID, Body: append([]byte(nil), body...)}, nil
}

func (r RecordType) String() string {
	switch r {
	case RecCommit:
		return "commit"
	case RecAbort:
		return "abort"
	case RecSnapshotMarker:
		return "snapshot-marker"
	case RecKVPut:
		return "kv-put"
	case RecKVDelete:
		return "kv-delete"
	case RecJSONSet:
		return "json-set"
	case RecJSONDelete:
		return "json-delete"
	case RecEventAppend:
		return "event-append"
	case RecStateSet:
		return "state-set"
	case RecRunCreate:
		return "run-create"
	case RecRunUpdate:
		return "run-update"
	case RecRunSetState:
		return "run-set-state"
	case RecRunDelete:
		return "run-delete"
	case RecVectorCollectionCreate:
		return "vector-collection-create"
	case RecVectorCollectionDelete:
		return "vector-collection-delete"
	case RecVectorUpsert:
		return "vector-upsert"
	case RecVectorDelete:
		return "vector-delete"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(r))
	}
}
