package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstrateGetAtRespectsSnapshot(t *testing.T) {
	s := NewSubstrate()
	key := NewKey("run-1", TagKV, []byte("a"))

	s.Install(Version{Kind: VersionTxn, N: 1}, 100, []Write{{Key: key, Payload: []byte("v1")}})
	snap1 := s.Snapshot()

	s.Install(Version{Kind: VersionTxn, N: 2}, 200, []Write{{Key: key, Payload: []byte("v2")}})
	snap2 := s.Snapshot()

	v1, ok := s.GetAt(key, snap1)
	require.True(t, ok)
	assert.Equal(t, "v1", string(v1.Payload))

	v2, ok := s.GetAt(key, snap2)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v2.Payload))

	latest, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "v2", string(latest.Payload))
}

func TestSubstrateTombstone(t *testing.T) {
	s := NewSubstrate()
	key := NewKey("run-1", TagKV, []byte("a"))
	s.Install(Version{Kind: VersionTxn, N: 1}, 0, []Write{{Key: key, Payload: []byte("v1")}})
	s.Install(Version{Kind: VersionTxn, N: 2}, 0, []Write{{Key: key, Tombstone: true}})

	_, ok := s.Get(key)
	assert.False(t, ok)

	hist := s.GetHistory(key, 0, 0)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Tombstone)
	assert.False(t, hist[1].Tombstone)
}

func TestSubstrateGetHistoryBeforeVersionExclusive(t *testing.T) {
	s := NewSubstrate()
	key := NewKey("run-1", TagKV, []byte("a"))
	for n := uint64(1); n <= 3; n++ {
		s.Install(Version{Kind: VersionTxn, N: n}, 0, []Write{{Key: key, Payload: []byte{byte(n)}}})
	}
	hist := s.GetHistory(key, 0, 3)
	require.Len(t, hist, 2)
	assert.Equal(t, uint64(2), hist[0].Version.N)
	assert.Equal(t, uint64(1), hist[1].Version.N)
}

func TestSubstrateScanPrefixOrderAndLimit(t *testing.T) {
	s := NewSubstrate()
	for _, k := range []string{"b", "a", "c", "ab"} {
		key := NewKey("run-1", TagKV, []byte(k))
		s.Install(Version{Kind: VersionTxn, N: 1}, 0, []Write{{Key: key, Payload: []byte(k)}})
	}
	snap := s.Snapshot()
	rows, cursor := s.ScanPrefix("run-1", TagKV, nil, snap, 0, "")
	require.Len(t, rows, 4)
	assert.Equal(t, "", cursor)
	assert.Equal(t, []string{"a", "ab", "b", "c"}, keysOf(rows))

	first, next := s.ScanPrefix("run-1", TagKV, nil, snap, 2, "")
	assert.Equal(t, []string{"a", "ab"}, keysOf(first))
	require.NotEmpty(t, next)

	rest, next2 := s.ScanPrefix("run-1", TagKV, nil, snap, 2, next)
	assert.Equal(t, []string{"b", "c"}, keysOf(rest))
	assert.Equal(t, "", next2)
}

func TestSubstrateScanPrefixFiltersPrefixAndTag(t *testing.T) {
	s := NewSubstrate()
	s.Install(Version{Kind: VersionTxn, N: 1}, 0, []Write{
		{Key: NewKey("run-1", TagKV, []byte("user/1")), Payload: []byte("x")},
		{Key: NewKey("run-1", TagKV, []byte("user/2")), Payload: []byte("y")},
		{Key: NewKey("run-1", TagKV, []byte("order/1")), Payload: []byte("z")},
		{Key: NewKey("run-1", TagJSON, []byte("user/1")), Payload: []byte("j")},
	})
	snap := s.Snapshot()
	rows, _ := s.ScanPrefix("run-1", TagKV, []byte("user/"), snap, 0, "")
	assert.Equal(t, []string{"user/1", "user/2"}, keysOf(rows))
}

func TestSubstrateListRunIDsAndDropRun(t *testing.T) {
	s := NewSubstrate()
	s.Install(Version{Kind: VersionTxn, N: 1}, 0, []Write{{Key: NewKey("run-a", TagKV, []byte("x")), Payload: []byte("1")}})
	s.Install(Version{Kind: VersionTxn, N: 2}, 0, []Write{{Key: NewKey("run-b", TagKV, []byte("x")), Payload: []byte("1")}})
	assert.Equal(t, []string{"run-a", "run-b"}, s.ListRunIDs())

	s.DropRun("run-a")
	assert.Equal(t, []string{"run-b"}, s.ListRunIDs())
	_, ok := s.Get(NewKey("run-a", TagKV, []byte("x")))
	assert.False(t, ok)
}

func keysOf(rows []ScanResult) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r.Key.UserKey)
	}
	return out
}
