package strata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/runindex"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
	"github.com/cuemby/strata/pkg/vectorstore"
)

func testOptions() storage.Options {
	return storage.Options{Durability: "strict"}
}

func TestOpenWiresEveryPrimitive(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	require.NotNil(t, db.KV)
	require.NotNil(t, db.Documents)
	require.NotNil(t, db.Cells)
	require.NotNil(t, db.Events)
	require.NotNil(t, db.Vectors)
	require.NotNil(t, db.Runs)

	_, err = db.CreateRun("run-1", "demo", "", nil)
	require.NoError(t, err)

	require.NoError(t, db.KV.Put("run-1", []byte("k"), value.Int(7)))
	v, _, ok, err := db.KV.Get("run-1", []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := v.AsInt()
	assert.Equal(t, int64(7), n)

	require.NoError(t, db.Cells.Set("run-1", "counter", value.Int(1)))
	require.NoError(t, db.Vectors.CreateCollection("run-1", "docs", 3, vectorstore.MetricCosine))

	_, err = db.Events.Append("run-1", "orders", value.Object(map[string]value.Value{"n": value.Int(1)}))
	require.NoError(t, err)
}

func TestCheckpointAndReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)

	_, err = db.CreateRun("run-1", "demo", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.KV.Put("run-1", []byte("a"), value.String("hello")))
	require.NoError(t, db.Vectors.CreateCollection("run-1", "docs", 2, vectorstore.MetricCosine))
	_, err = db.Vectors.Upsert("run-1", "docs", "doc-1", []float32{1, 0}, value.Null())
	require.NoError(t, err)

	path, err := db.Checkpoint()
	require.NoError(t, err)
	assert.FileExists(t, path)
	require.NoError(t, db.Close())

	reopened, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	v, _, ok, err := reopened.KV.Get("run-1", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "hello", s)

	cols := reopened.Vectors.ListCollections("run-1")
	assert.Contains(t, cols, "docs")
}

func TestCompactWALOnlyRemovesInactiveSegments(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRun("run-1", "demo", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.KV.Put("run-1", []byte("a"), value.Int(1)))

	_, err = db.Checkpoint()
	require.NoError(t, err)

	_, _, err = db.Compact(storage.WALOnly, nil)
	require.NoError(t, err)
}

func TestExportImportAcrossDatabases(t *testing.T) {
	srcDir := t.TempDir()
	src, err := Open(srcDir, testOptions())
	require.NoError(t, err)

	_, err = src.CreateRun("run-1", "demo", "", []string{"nightly"})
	require.NoError(t, err)
	require.NoError(t, src.KV.Put("run-1", []byte("a"), value.Int(9)))
	_, err = src.Runs.SetState("run-1", runindex.Completed, "")
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "run-1.runbundle.tar.zst")
	require.NoError(t, src.ExportRun("run-1", archivePath, 3))
	require.NoError(t, src.Close())

	dstDir := t.TempDir()
	meta, err := ImportRun(dstDir, archivePath)
	require.NoError(t, err)
	assert.Equal(t, runindex.Completed, meta.State)

	dst, err := Open(dstDir, testOptions())
	require.NoError(t, err)
	defer dst.Close()

	v, _, ok, err := dst.KV.Get("run-1", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := v.AsInt()
	assert.Equal(t, int64(9), n)

	got, ok, err := dst.Runs.Get("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"nightly"}, got.Tags)
}

func TestReplayReconstructsWithoutOpenDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)

	_, err = db.CreateRun("run-1", "demo", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.KV.Put("run-1", []byte("a"), value.Int(1)))
	require.NoError(t, db.Close())

	view, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer view.Close()

	r, err := view.Replay("run-1")
	require.NoError(t, err)
	assert.NotEmpty(t, r.Entries)
}
