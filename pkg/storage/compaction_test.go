package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactWALOnlyRemovesFullyAppliedSegmentsOnly(t *testing.T) {
	dir := t.TempDir()
	walDir := filepath.Join(dir, walDirName)
	wal, err := OpenWAL(walDir, DurabilityStrict, 64, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, wal.Append(Record{Type: RecKVPut, TxnID: uint64(i + 1), RunID: "r", Body: []byte("0123456789012345678901234567890123456789")}))
		require.NoError(t, wal.Append(Record{Type: RecCommit, TxnID: uint64(i + 1), RunID: "r"}))
	}
	active := wal.ActiveSegment()
	require.NoError(t, wal.Close())

	segmentsBefore, err := listSegments(walDir)
	require.NoError(t, err)
	require.True(t, len(segmentsBefore) >= 2)

	removed, err := CompactWALOnly(dir, 3, active)
	require.NoError(t, err)
	assert.NotEmpty(t, removed)
	for _, num := range removed {
		assert.NotEqual(t, active, num)
	}

	segmentsAfter, err := listSegments(walDir)
	require.NoError(t, err)
	assert.Contains(t, segmentsAfter, active)
	assert.Less(t, len(segmentsAfter), len(segmentsBefore))
}

func TestCompactFullTrimsHistoryPerRetentionPolicy(t *testing.T) {
	sub := NewSubstrate()
	wal, err := OpenWAL(t.TempDir(), DurabilityInMemory, 0, nil, nil)
	require.NoError(t, err)
	mgr := NewTxnManager(sub, wal, 0)

	key := NewKey("run-1", TagKV, []byte("a"))
	for i := 0; i < 5; i++ {
		txn := mgr.Begin("run-1")
		require.NoError(t, txn.Put(key, []byte{byte(i)}))
		_, err := mgr.Commit(txn)
		require.NoError(t, err)
	}

	require.NoError(t, SetRetentionPolicy(mgr, "run-1", TagKV, KeepLastPolicy(2)))

	histBefore := sub.GetHistory(key, 0, 0)
	require.Len(t, histBefore, 5)

	trimmed, err := CompactFull(sub, []PrimitiveTag{TagKV}, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, trimmed, 1)

	histAfter := sub.GetHistory(key, 0, 0)
	assert.Len(t, histAfter, 2)
	assert.Equal(t, byte(4), histAfter[0].Payload[0]) // newest is always retained

	floor, ok := RetainedFloor(sub, "run-1", TagKV, key.UserKey)
	require.True(t, ok)
	assert.Greater(t, floor, uint64(0))
}

func TestCompactFullLeavesKeepAllUntouched(t *testing.T) {
	sub := NewSubstrate()
	wal, err := OpenWAL(t.TempDir(), DurabilityInMemory, 0, nil, nil)
	require.NoError(t, err)
	mgr := NewTxnManager(sub, wal, 0)

	key := NewKey("run-1", TagKV, []byte("a"))
	for i := 0; i < 3; i++ {
		txn := mgr.Begin("run-1")
		require.NoError(t, txn.Put(key, []byte{byte(i)}))
		_, err := mgr.Commit(txn)
		require.NoError(t, err)
	}

	trimmed, err := CompactFull(sub, []PrimitiveTag{TagKV}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, trimmed)
	assert.Len(t, sub.GetHistory(key, 0, 0), 3)
}
