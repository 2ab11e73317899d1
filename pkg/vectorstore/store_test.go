package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

func newTestStore(t *testing.T) *VectorStore {
	t.Helper()
	sub := storage.NewSubstrate()
	wal, err := storage.OpenWAL(t.TempDir(), storage.DurabilityInMemory, 0, nil, nil)
	require.NoError(t, err)
	mgr := storage.NewTxnManager(sub, wal, 0)
	return New(mgr)
}

func meta(kv ...interface{}) value.Value {
	m := make(map[string]value.Value, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1].(value.Value)
	}
	return value.Object(m)
}

func TestCreateCollectionRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 3, MetricCosine))

	err := s.CreateCollection("run-1", "docs", 3, MetricCosine)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CollectionAlreadyExists))
}

func TestCreateCollectionValidatesName(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.CreateCollection("run-1", "", 3, MetricCosine))
	assert.Error(t, s.CreateCollection("run-1", "_internal", 3, MetricCosine))
	assert.Error(t, s.CreateCollection("run-1", "bad name", 3, MetricCosine))
	assert.Error(t, s.CreateCollection("run-1", "ok", 0, MetricCosine))
}

func TestGetAndListCollections(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 3, MetricCosine))
	require.NoError(t, s.CreateCollection("run-1", "images", 4, MetricEuclidean))

	_, ok := s.GetCollection("run-1", "missing")
	assert.False(t, ok)

	cfg, ok := s.GetCollection("run-1", "docs")
	require.True(t, ok)
	assert.Equal(t, 3, cfg.Dimension)
	assert.Equal(t, MetricCosine, cfg.Metric)

	assert.Equal(t, []string{"docs", "images"}, s.ListCollections("run-1"))
}

func TestDeleteCollectionRemovesItAndRejectsMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 3, MetricCosine))
	require.NoError(t, s.DeleteCollection("run-1", "docs"))
	assert.Empty(t, s.ListCollections("run-1"))

	assert.Error(t, s.DeleteCollection("run-1", "docs"))
}

func TestUpsertAssignsMonotonicIDsAndReusesOnSameKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 3, MetricCosine))

	id1, err := s.Upsert("run-1", "docs", "a", []float32{1, 0, 0}, meta("tag", value.String("x")))
	require.NoError(t, err)
	id2, err := s.Upsert("run-1", "docs", "b", []float32{0, 1, 0}, meta("tag", value.String("y")))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	reused, err := s.Upsert("run-1", "docs", "a", []float32{1, 1, 0}, meta("tag", value.String("z")))
	require.NoError(t, err)
	assert.Equal(t, id1, reused)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 3, MetricCosine))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1, 0}, value.Null())
	assert.Error(t, err)
}

func TestUpsertRejectsUnknownCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Upsert("run-1", "missing", "a", []float32{1}, value.Null())
	assert.Error(t, err)
}

func TestDeleteRemovesVectorAndFreesSlot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 2, MetricCosine))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1, 0}, value.Null())
	require.NoError(t, err)

	require.NoError(t, s.Delete("run-1", "docs", "a"))
	assert.Error(t, s.Delete("run-1", "docs", "a"))

	_, err = s.Search("run-1", "docs", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
}

func TestSearchOrdersByScoreDescThenKeyAsc(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 2, MetricCosine))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1, 0}, value.Null())
	require.NoError(t, err)
	_, err = s.Upsert("run-1", "docs", "b", []float32{1, 0}, value.Null())
	require.NoError(t, err)
	_, err = s.Upsert("run-1", "docs", "c", []float32{0, 1}, value.Null())
	require.NoError(t, err)

	matches, err := s.Search("run-1", "docs", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].Key)
	assert.Equal(t, "b", matches[1].Key)
	assert.Equal(t, "c", matches[2].Key)
	assert.Greater(t, matches[0].Score, matches[2].Score)
}

func TestSearchTruncatesToK(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))
	for i, key := range []string{"a", "b", "c", "d"} {
		_, err := s.Upsert("run-1", "docs", key, []float32{float32(i + 1)}, value.Null())
		require.NoError(t, err)
	}

	matches, err := s.Search("run-1", "docs", []float32{1}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchZeroKReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1}, value.Null())
	require.NoError(t, err)

	matches, err := s.Search("run-1", "docs", []float32{1}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchOnEmptyCollectionReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))

	matches, err := s.Search("run-1", "docs", []float32{1}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchRejectsNegativeK(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))

	_, err := s.Search("run-1", "docs", []float32{1}, -1, nil)
	assert.Error(t, err)
}

func TestSearchAppliesMetadataFilter(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1}, meta("kind", value.String("x")))
	require.NoError(t, err)
	_, err = s.Upsert("run-1", "docs", "b", []float32{2}, meta("kind", value.String("y")))
	require.NoError(t, err)

	matches, err := s.Search("run-1", "docs", []float32{1}, 10, MetadataFilter{"kind": value.String("y")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Key)
}

func TestSearchIsReadOnly(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 1, MetricDotProduct))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1}, value.Null())
	require.NoError(t, err)

	before, err := s.SnapshotSection()
	require.NoError(t, err)
	_, err = s.Search("run-1", "docs", []float32{1}, 1, nil)
	require.NoError(t, err)
	after, err := s.SnapshotSection()
	require.NoError(t, err)
	assert.Equal(t, before.Blob, after.Blob)
}

func TestSnapshotRoundTripPreservesHeapAndKeys(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCollection("run-1", "docs", 2, MetricCosine))
	_, err := s.Upsert("run-1", "docs", "a", []float32{1, 0}, meta("tag", value.Int(1)))
	require.NoError(t, err)
	id2, err := s.Upsert("run-1", "docs", "b", []float32{0, 1}, meta("tag", value.Int(2)))
	require.NoError(t, err)
	require.NoError(t, s.Delete("run-1", "docs", "a"))

	section, err := s.SnapshotSection()
	require.NoError(t, err)

	restored := New(s.txn)
	require.NoError(t, restored.LoadFromRecovery(section.Blob, nil))

	cfg, ok := restored.GetCollection("run-1", "docs")
	require.True(t, ok)
	assert.Equal(t, 2, cfg.Dimension)

	matches, err := restored.Search("run-1", "docs", []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Key)

	nextID, err := restored.Upsert("run-1", "docs", "c", []float32{1, 1}, value.Null())
	require.NoError(t, err)
	assert.Greater(t, uint64(nextID), uint64(id2))
}
