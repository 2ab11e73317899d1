package eventlog

import (
	"github.com/cuemby/strata/pkg/value"
)

// maxStreamLen bounds the stream contract spec.md §4.7 fixes for append:
// stream is non-empty, NUL-free, at most 1024 bytes.
const maxStreamLen = 1024

// Event is one immutable, appended-once record (spec.md §3.1).
type Event struct {
	Seq            uint64
	Stream         string
	Payload        value.Value
	TimestampMicro int64
	PrevHash       [32]byte
	Hash           [32]byte
}

// StreamInfo is the O(1) per-stream summary carried in EventLogMeta.
type StreamInfo struct {
	Count    uint64
	FirstSeq uint64
	LastSeq  uint64
	FirstTS  int64
	LastTS   int64
}

// EventLogMeta is the per-run control block updated inside the same
// transaction as every append (spec.md §4.7).
type EventLogMeta struct {
	NextSequence uint64
	HeadHash     [32]byte
	HashVersion  byte
	Streams      map[string]StreamInfo
}

func newMeta() EventLogMeta {
	return EventLogMeta{HashVersion: hashVersionSHA256, Streams: make(map[string]StreamInfo)}
}

// ChainVerdict is verify_chain's result (spec.md §4.7).
type ChainVerdict struct {
	IsValid      bool
	Length       uint64
	FirstInvalid *uint64
	Error        string
}
