package replay

import "encoding/binary"

// parseGenericBody mirrors storage's unexported genericBody framing:
// u32(len(userKey)) | userKey | payload. Duplicated locally because the
// storage package does not export it, the same local-helper convention
// pkg/eventlog and pkg/vectorstore already follow.
func parseGenericBody(body []byte) (userKey, payload []byte, ok bool) {
	if len(body) < 4 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint32(body[:4])
	if uint32(len(body)-4) < n {
		return nil, nil, false
	}
	return body[4 : 4+n], body[4+n:], true
}

// parseEventTimestamp extracts just the TimestampMicro field embedded in
// an eventlog-encoded event body (u64 seq | u32 len(stream) | stream |
// u64 ts | ...), without needing pkg/eventlog's full decode/hash-chain
// verification. Returns ok=false only for bodies too short to carry a
// timestamp; it does not tell an event body from a stream-meta or cursor
// body, so callers pick event records by key prefix first.
func parseEventTimestamp(body []byte) (ts int64, ok bool) {
	if len(body) < 8 {
		return 0, false
	}
	r := body[8:]
	if len(r) < 4 {
		return 0, false
	}
	streamLen := binary.BigEndian.Uint32(r[:4])
	r = r[4:]
	if uint32(len(r)) < streamLen+8 {
		return 0, false
	}
	r = r[streamLen:]
	return int64(binary.BigEndian.Uint64(r[:8])), true
}
