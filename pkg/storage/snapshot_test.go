package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/errs"
)

func TestSnapshotWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot_1.dat")

	entries := []SubstrateEntry{
		{RunID: "run-1", Key: NewKey("run-1", TagKV, []byte("a")), Value: StoredValue{
			Payload: []byte("v1"), Version: Version{Kind: VersionTxn, N: 1}, TimeMicro: 100,
		}},
		{RunID: "run-1", Key: NewKey("run-1", TagKV, []byte("b")), Value: StoredValue{
			Tombstone: true, Version: Version{Kind: VersionTxn, N: 2}, TimeMicro: 200,
		}},
	}
	sections := []SnapshotSection{{Tag: TagKV, Blob: EncodeSubstrateSection(entries)}}

	require.NoError(t, WriteSnapshot(path, 42, 7, 12345, sections))

	header, readSections, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), header.WALWatermark)
	assert.Equal(t, uint64(7), header.TxnCount)
	require.Len(t, readSections, 1)
	assert.Equal(t, TagKV, readSections[0].Tag)

	decoded, err := DecodeSubstrateSection(TagKV, readSections[0].Blob)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "v1", string(decoded[0].Value.Payload))
	assert.True(t, decoded[1].Value.Tombstone)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotCRCMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot_1.dat")
	require.NoError(t, WriteSnapshot(path, 1, 1, 1, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = ReadSnapshot(path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}

func TestLatestSnapshotPathPicksNewestByWatermark(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMicro(1000)
	older := filepath.Join(dir, snapshotFileName(5, now))
	newer := filepath.Join(dir, snapshotFileName(10, now))
	require.NoError(t, WriteSnapshot(older, 5, 0, 0, nil))
	require.NoError(t, WriteSnapshot(newer, 10, 0, 0, nil))

	path, ok, err := latestSnapshotPath(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer, path)
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest()
	m.ActiveSegment = 3
	m.TxnCounter = 99
	require.NoError(t, m.Save(dir))

	loaded, ok, err := LoadManifest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.DatabaseID, loaded.DatabaseID)
	assert.Equal(t, uint32(3), loaded.ActiveSegment)
	assert.Equal(t, uint64(99), loaded.TxnCounter)
}

func TestLoadManifestMissingIsNotAnError(t *testing.T) {
	_, ok, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}
