package storage

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cuemby/strata/pkg/errs"
)

// writeFrame writes one record in the `u32 length | payload | u32 CRC32`
// framing from spec.md §4.3 and returns the total bytes written.
func writeFrame(w io.Writer, payload []byte) (int, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}
	sum := crc32.ChecksumIEEE(payload)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	if _, err := w.Write(crcBuf[:]); err != nil {
		return 0, err
	}
	return 4 + len(payload) + 4, nil
}

// frameReadResult is the outcome of reading one frame from a segment.
type frameReadResult struct {
	payload []byte
	bytes   int
}

// readFrame reads one frame. It returns io.EOF cleanly at a segment
// boundary. A short read of the length or payload that leaves nothing but
// zero or partial bytes is treated as a torn tail: io.ErrUnexpectedEOF.
// A CRC mismatch is reported as a *errs.Error with Kind ChecksumMismatch so
// callers can distinguish "torn tail" from "corruption".
func readFrame(r io.Reader) (frameReadResult, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err == io.EOF {
		return frameReadResult{}, io.EOF
	}
	if err != nil || n < 4 {
		return frameReadResult{}, io.ErrUnexpectedEOF
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frameReadResult{}, io.ErrUnexpectedEOF
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return frameReadResult{}, io.ErrUnexpectedEOF
	}
	want := binary.BigEndian.Uint32(crcBuf[:])
	got := crc32.ChecksumIEEE(payload)
	if want != got {
		return frameReadResult{}, errs.New(errs.ChecksumMismatch, "storage.readFrame", "record CRC32 mismatch")
	}
	return frameReadResult{payload: payload, bytes: 4 + len(payload) + 4}, nil
}
