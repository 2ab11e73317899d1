package eventlog

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/value"
)

// hashVersionSHA256 is the only hash_version in scope; it travels with the
// per-run meta so a future algorithm change can coexist during transition
// (spec.md §4.7).
const hashVersionSHA256 byte = 1

// zeroHash is hash_0's predecessor (I5).
var zeroHash [32]byte

// chainHash computes I5's canonical framing:
//
//	SHA256(seq ‖ len(stream) ‖ stream ‖ ts ‖ len(payload) ‖ canonical(payload) ‖ prevHash)
func chainHash(seq uint64, stream string, tsMicro int64, payload value.Value, prevHash [32]byte) ([32]byte, error) {
	canonical, err := value.MarshalJSON(payload)
	if err != nil {
		return [32]byte{}, errs.Wrap(errs.Serialization, "eventlog.chainHash", "canonicalizing payload", err)
	}

	h := sha256.New()
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], seq)
	h.Write(u64[:])

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(stream)))
	h.Write(u32[:])
	h.Write([]byte(stream))

	binary.BigEndian.PutUint64(u64[:], uint64(tsMicro))
	h.Write(u64[:])

	binary.BigEndian.PutUint32(u32[:], uint32(len(canonical)))
	h.Write(u32[:])
	h.Write(canonical)

	h.Write(prevHash[:])

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
