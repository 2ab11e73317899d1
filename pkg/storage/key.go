package storage

import (
	"bytes"
	"fmt"

	"github.com/cuemby/strata/pkg/errs"
)

// PrimitiveTag identifies which content primitive a Key addresses. The
// numeric values match the snapshot section type ids in spec.md §4.4.
type PrimitiveTag byte

const (
	TagKV     PrimitiveTag = 1
	TagJSON   PrimitiveTag = 2
	TagEvent  PrimitiveTag = 3
	TagState  PrimitiveTag = 4
	TagTrace  PrimitiveTag = 5
	TagRun    PrimitiveTag = 6
	TagVector PrimitiveTag = 7
)

func (t PrimitiveTag) String() string {
	switch t {
	case TagKV:
		return "kv"
	case TagJSON:
		return "json"
	case TagEvent:
		return "event"
	case TagState:
		return "state"
	case TagTrace:
		return "trace"
	case TagRun:
		return "run"
	case TagVector:
		return "vector"
	default:
		return "unknown"
	}
}

// ReservedPrefix marks system-internal user keys (retention policy
// records and retained-floor markers). User calls may never address a key
// starting with this prefix.
var ReservedPrefix = []byte("__strata_sys/")

// DefaultMaxKeyLength is the default ceiling on UserKey length (spec.md §6).
const DefaultMaxKeyLength = 4096

// Key is an addressable location: a run, a primitive, and a user key. Keys
// sort by RunID, then Tag, then UserKey — the order prefix scans honor.
type Key struct {
	RunID   string
	Tag     PrimitiveTag
	UserKey []byte
}

// NewKey builds a Key. The caller-facing UserKey is copied.
func NewKey(runID string, tag PrimitiveTag, userKey []byte) Key {
	return Key{RunID: runID, Tag: tag, UserKey: append([]byte(nil), userKey...)}
}

// reservedKey builds a Key under the system-reserved sub-namespace; used
// internally for metadata kept alongside user data in the same run
// (retention policies and retained-floor markers).
func reservedKey(runID string, tag PrimitiveTag, suffix string) Key {
	return Key{RunID: runID, Tag: tag, UserKey: append(append([]byte(nil), ReservedPrefix...), suffix...)}
}

// Validate enforces spec.md §6's key constraints: non-empty, NUL-free, not
// starting with the reserved prefix (unless internal=true), at most maxLen
// bytes.
func (k Key) Validate(maxLen int, internal bool) error {
	if len(k.UserKey) == 0 {
		return errs.New(errs.InvalidKey, "storage.Key.Validate", "user key must not be empty")
	}
	if bytes.IndexByte(k.UserKey, 0) >= 0 {
		return errs.New(errs.InvalidKey, "storage.Key.Validate", "user key must not contain NUL")
	}
	if !internal && bytes.HasPrefix(k.UserKey, ReservedPrefix) {
		return errs.New(errs.InvalidKey, "storage.Key.Validate", "user key must not use the reserved prefix")
	}
	if maxLen > 0 && len(k.UserKey) > maxLen {
		return errs.New(errs.InvalidInput, "storage.Key.Validate",
			fmt.Sprintf("user key length %d exceeds maximum %d", len(k.UserKey), maxLen))
	}
	return nil
}

// encode produces the composite ordering key used by the substrate's
// per-run sorted index: the tag byte followed by the raw user key. Since
// the tag is a single fixed-width byte, byte order of the encoding is
// (Tag, UserKey) order.
func (k Key) encode() string {
	buf := make([]byte, 0, len(k.UserKey)+1)
	buf = append(buf, byte(k.Tag))
	buf = append(buf, k.UserKey...)
	return string(buf)
}

// Less reports whether k sorts before other under (RunID, Tag, UserKey)
// lexicographic order.
func (k Key) Less(other Key) bool {
	if k.RunID != other.RunID {
		return k.RunID < other.RunID
	}
	if k.Tag != other.Tag {
		return k.Tag < other.Tag
	}
	return bytes.Compare(k.UserKey, other.UserKey) < 0
}
