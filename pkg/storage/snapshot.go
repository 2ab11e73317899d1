package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/metrics"
)

const (
	snapshotMagic         = "INMEM_SNAP"
	snapshotFormatVersion = uint32(1)
)

// SnapshotSection is one primitive's materialized state: an opaque,
// already-encoded blob tagged with the primitive it belongs to. Only the
// owning primitive understands the blob's internal layout; storage just
// frames and checksums it.
type SnapshotSection struct {
	Tag  PrimitiveTag
	Blob []byte
}

// SnapshotHeader is the fixed-size metadata preceding a snapshot's
// sections.
type SnapshotHeader struct {
	FormatVersion  uint32
	TimestampMicro int64
	WALWatermark   uint64
	TxnCount       uint64
}

// WriteSnapshot materializes sections into path using the spec.md §4.4
// file layout: magic, header, sections, trailing CRC32 over everything
// preceding it. The write goes to a ".tmp" sibling, is fsynced, then
// renamed atomically into place; on any failure the temp file is removed.
func WriteSnapshot(path string, watermark uint64, txnCount uint64, timestampMicro int64, sections []SnapshotSection) (err error) {
	tmp := path + ".tmp"
	f, createErr := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if createErr != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "creating temp snapshot", createErr)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	writeU32(&buf, snapshotFormatVersion)
	writeU64(&buf, uint64(timestampMicro))
	writeU64(&buf, watermark)
	writeU64(&buf, txnCount)
	buf.WriteByte(byte(len(sections)))
	for _, s := range sections {
		buf.WriteByte(byte(s.Tag))
		writeU64(&buf, uint64(len(s.Blob)))
		buf.Write(s.Blob)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	if _, err = f.Write(buf.Bytes()); err != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "writing snapshot body", err)
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	if _, err = f.Write(crcBuf[:]); err != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "writing snapshot crc", err)
	}
	if err = f.Sync(); err != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "fsync snapshot", err)
	}
	if err = f.Close(); err != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "closing snapshot", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.IO, "storage.WriteSnapshot", "renaming snapshot into place", err)
	}
	metrics.SnapshotsTotal.Inc()
	return nil
}

// ReadSnapshot validates magic, version, and CRC32, then parses the header
// and sections. A corrupt snapshot returns a *errs.Error with Kind
// ChecksumMismatch or Serialization; callers are expected to fall back to
// an older snapshot or a pure WAL replay.
func ReadSnapshot(path string) (SnapshotHeader, []SnapshotSection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SnapshotHeader{}, nil, errs.Wrap(errs.IO, "storage.ReadSnapshot", "reading snapshot file", err)
	}
	if len(raw) < 4 {
		return SnapshotHeader{}, nil, errs.New(errs.Serialization, "storage.ReadSnapshot", "snapshot file too short")
	}
	body, crcBytes := raw[:len(raw)-4], raw[len(raw)-4:]
	want := binary.BigEndian.Uint32(crcBytes)
	got := crc32.ChecksumIEEE(body)
	if want != got {
		return SnapshotHeader{}, nil, errs.New(errs.ChecksumMismatch, "storage.ReadSnapshot", "snapshot CRC32 mismatch")
	}

	r := bytes.NewReader(body)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return SnapshotHeader{}, nil, errs.New(errs.Serialization, "storage.ReadSnapshot", "bad snapshot magic")
	}
	version, err := readU32(r)
	if err != nil {
		return SnapshotHeader{}, nil, err
	}
	if version != snapshotFormatVersion {
		return SnapshotHeader{}, nil, errs.New(errs.UnsupportedVersion, "storage.ReadSnapshot",
			fmt.Sprintf("snapshot format version %d unsupported", version))
	}
	tsMicro, err := readU64(r)
	if err != nil {
		return SnapshotHeader{}, nil, err
	}
	watermark, err := readU64(r)
	if err != nil {
		return SnapshotHeader{}, nil, err
	}
	txnCount, err := readU64(r)
	if err != nil {
		return SnapshotHeader{}, nil, err
	}
	sectionCountByte, err := r.ReadByte()
	if err != nil {
		return SnapshotHeader{}, nil, errs.Wrap(errs.Serialization, "storage.ReadSnapshot", "reading section count", err)
	}

	header := SnapshotHeader{FormatVersion: version, TimestampMicro: int64(tsMicro), WALWatermark: watermark, TxnCount: txnCount}
	sections := make([]SnapshotSection, 0, sectionCountByte)
	for i := 0; i < int(sectionCountByte); i++ {
		tagByte, err := r.ReadByte()
		if err != nil {
			return header, nil, errs.Wrap(errs.Serialization, "storage.ReadSnapshot", "reading section tag", err)
		}
		length, err := readU64(r)
		if err != nil {
			return header, nil, err
		}
		blob := make([]byte, length)
		if _, err := io.ReadFull(r, blob); err != nil {
			return header, nil, errs.Wrap(errs.Serialization, "storage.ReadSnapshot", "reading section blob", err)
		}
		sections = append(sections, SnapshotSection{Tag: PrimitiveTag(tagByte), Blob: blob})
	}
	return header, sections, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errs.Wrap(errs.Serialization, "storage.readU32", "short read", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errs.Wrap(errs.Serialization, "storage.readU64", "short read", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// SubstrateEntry is one (run, key, value) triple as materialized into a
// generic snapshot section. KV, JSON, Event, State, and Run all share this
// encoding; only Vector uses a bespoke section (its heap needs next_id and
// free_slots alongside the per-key records).
type SubstrateEntry struct {
	RunID string
	Key   Key
	Value StoredValue
}

// EncodeSubstrateSection renders entries into the blob format a generic
// section carries: u64 count, then per entry run_id, user_key, version
// kind+n, time_micros, tombstone flag, payload.
func EncodeSubstrateSection(entries []SubstrateEntry) []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(len(entries)))
	for _, e := range entries {
		writeLenPrefixedString(&buf, e.RunID)
		writeLenPrefixedBytes(&buf, e.Key.UserKey)
		buf.WriteByte(byte(e.Value.Version.Kind))
		writeU64(&buf, e.Value.Version.N)
		writeU64(&buf, uint64(e.Value.TimeMicro))
		if e.Value.Tombstone {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeLenPrefixedBytes(&buf, e.Value.Payload)
	}
	return buf.Bytes()
}

// DecodeSubstrateSection parses a blob produced by EncodeSubstrateSection.
// tag is supplied by the caller since it is constant across a section;
// each entry carries its own run id, since a section spans every run.
func DecodeSubstrateSection(tag PrimitiveTag, blob []byte) ([]SubstrateEntry, error) {
	r := bytes.NewReader(blob)
	count, err := readU64(r)
	if err != nil {
		return nil, err
	}
	entries := make([]SubstrateEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		runID, err := readLenPrefixedString(r)
		if err != nil {
			return nil, err
		}
		userKey, err := readLenPrefixedBytes(r)
		if err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "storage.DecodeSubstrateSection", "reading version kind", err)
		}
		n, err := readU64(r)
		if err != nil {
			return nil, err
		}
		timeMicro, err := readU64(r)
		if err != nil {
			return nil, err
		}
		tombByte, err := r.ReadByte()
		if err != nil {
			return nil, errs.Wrap(errs.Serialization, "storage.DecodeSubstrateSection", "reading tombstone flag", err)
		}
		payload, err := readLenPrefixedBytes(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, SubstrateEntry{
			RunID: runID,
			Key:   Key{RunID: runID, Tag: tag, UserKey: userKey},
			Value: StoredValue{
				Payload:   payload,
				Version:   Version{Kind: VersionKind(kindByte), N: n},
				TimeMicro: int64(timeMicro),
				Tombstone: tombByte == 1,
			},
		})
	}
	return entries, nil
}

func writeLenPrefixedBytes(buf *bytes.Buffer, b []byte) {
	writeU64(buf, uint64(len(b)))
	buf.Write(b)
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	writeLenPrefixedBytes(buf, []byte(s))
}

func readLenPrefixedBytes(r io.Reader) ([]byte, error) {
	length, err := readU64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errs.Wrap(errs.Serialization, "storage.readLenPrefixedBytes", "short read", err)
	}
	return b, nil
}

func readLenPrefixedString(r io.Reader) (string, error) {
	b, err := readLenPrefixedBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// latestSnapshotPath returns the path of the newest snapshot file in dir
// by lexicographic (hence numeric, given the fixed-width name) order, or
// ok=false if none exist.
func latestSnapshotPath(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.IO, "storage.latestSnapshotPath", "reading snapshot directory", err)
	}
	var best string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".dat" {
			continue
		}
		if e.Name() > best {
			best = e.Name()
		}
	}
	if best == "" {
		return "", false, nil
	}
	return filepath.Join(dir, best), true, nil
}

func snapshotFileName(watermark uint64, takenAt time.Time) string {
	return fmt.Sprintf("snapshot_%020d-%020d.dat", watermark, takenAt.UnixMicro())
}
