package strata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/pkg/bundle"
	"github.com/cuemby/strata/pkg/runindex"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
	"github.com/cuemby/strata/pkg/vectorstore"
)

// TestKVHistoryScenario exercises the literal KV history walk: three
// commits to the same key, latest read, bounded history, and a
// version-pinned read of an older value.
func TestKVHistoryScenario(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)

	key := []byte("k")
	require.NoError(t, db.KV.Put("R", key, value.Int(1)))
	require.NoError(t, db.KV.Put("R", key, value.Int(2)))
	require.NoError(t, db.KV.Put("R", key, value.Int(3)))

	v, v3, ok, err := db.KV.Get("R", key)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := v.AsInt()
	assert.Equal(t, int64(3), n)

	hist, err := db.KV.History("R", key, 10)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	h0, _ := hist[0].Value.AsInt()
	h1, _ := hist[1].Value.AsInt()
	h2, _ := hist[2].Value.AsInt()
	assert.Equal(t, []int64{3, 2, 1}, []int64{h0, h1, h2})
	assert.Equal(t, v3, hist[0].Version)

	v2 := hist[1].Version
	got, ok := db.engine.Substrate.GetAt(storage.NewKey("R", storage.TagKV, key), storage.SnapshotView{Watermark: v2})
	require.True(t, ok)
	decoded, err := value.UnmarshalJSON(got.Payload)
	require.NoError(t, err)
	n2, _ := decoded.AsInt()
	assert.Equal(t, int64(2), n2)
}

// TestCrossPrimitiveAtomicityScenario commits a KV put and an Event
// append in one transaction; both become visible at the same version,
// or (on an error from the transaction body) neither does.
func TestCrossPrimitiveAtomicityScenario(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)

	var seq uint64
	version, err := db.WithTxn("R", func(t *storage.Txn) error {
		if err := db.KV.PutIn(t, "R", []byte("processed"), value.Bool(true)); err != nil {
			return err
		}
		var err error
		seq, err = db.Events.AppendIn(t, "R", "api", value.Object(map[string]value.Value{
			"data": value.String("response"),
		}))
		return err
	})
	require.NoError(t, err)

	v, kvVersion, ok, err := db.KV.Get("R", []byte("processed"))
	require.NoError(t, err)
	require.True(t, ok)
	b, _ := v.AsBool()
	assert.True(t, b)
	assert.Equal(t, version.N, kvVersion)

	ev, ok, err := db.Events.Read("R", seq)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "api", ev.Stream)

	failErr := errors.New("boom")
	_, err = db.WithTxn("R", func(t *storage.Txn) error {
		if err := db.KV.PutIn(t, "R", []byte("aborted-key"), value.Int(1)); err != nil {
			return err
		}
		if _, err := db.Events.AppendIn(t, "R", "api", value.Object(map[string]value.Value{"data": value.String("never")})); err != nil {
			return err
		}
		return failErr
	})
	require.ErrorIs(t, err, failErr)

	_, _, ok, err = db.KV.Get("R", []byte("aborted-key"))
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := db.Events.LenByType("R", "api")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

// TestEventDeterminismScenario checks interleaved-stream sequencing,
// per-type counts and latest sequence, and hash chain validity.
func TestEventDeterminismScenario(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)

	seq0, err := db.Events.Append("R", "orders", value.Object(map[string]value.Value{"o": value.Int(1)}))
	require.NoError(t, err)
	seq1, err := db.Events.Append("R", "payments", value.Object(map[string]value.Value{"p": value.Int(1)}))
	require.NoError(t, err)
	seq2, err := db.Events.Append("R", "orders", value.Object(map[string]value.Value{"o": value.Int(2)}))
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 1, 2}, []uint64{seq0, seq1, seq2})

	n, err := db.Events.LenByType("R", "orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	last, ok, err := db.Events.LatestSequenceByType("R", "payments")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), last)

	verdict, err := db.Events.VerifyChain("R")
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)
}

// TestVectorIDMonotonicityUnderCrashScenario upserts into a fresh
// collection, abandons the handle without a clean Close to simulate a
// crash, reopens, and checks assigned ids keep climbing past the
// pre-crash high-water mark.
func TestVectorIDMonotonicityUnderCrashScenario(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)

	_, err = db.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)
	require.NoError(t, db.Vectors.CreateCollection("R", "docs", 4, vectorstore.MetricCosine))

	var max vectorstore.VectorID
	for i := 0; i < 50; i++ {
		id, err := db.Vectors.Upsert("R", "docs", keyFor(i), []float32{1, 0, 0, 0}, value.Null())
		require.NoError(t, err)
		if id > max {
			max = id
		}
	}

	// Simulate a crash: abandon db without calling Close. Durability is
	// strict, so every commit above is already fsynced; reopening mimics
	// what recovery sees after a hard kill.
	reopened, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	id, err := reopened.Vectors.Upsert("R", "docs", "post-crash", []float32{0, 1, 0, 0}, value.Null())
	require.NoError(t, err)
	assert.Greater(t, id, max)

	for i := 0; i < 5; i++ {
		require.NoError(t, reopened.Vectors.Delete("R", "docs", keyFor(i)))
	}
	for i := 50; i < 55; i++ {
		newID, err := reopened.Vectors.Upsert("R", "docs", keyFor(i), []float32{0, 0, 1, 0}, value.Null())
		require.NoError(t, err)
		assert.Greater(t, newID, max+50)
	}
}

func keyFor(i int) string {
	return fmt.Sprintf("key-%d", i)
}

// TestRecoveryOrphanedTransactionScenario commits 100 KV puts, then
// writes one more KV record directly to the WAL with no commit marker,
// and checks recovery keeps the 100, drops the orphan, and reports it.
func TestRecoveryOrphanedTransactionScenario(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	require.NoError(t, err)

	_, err = db.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, db.KV.Put("R", []byte{byte(i)}, value.Int(int64(i))))
	}
	require.NoError(t, db.Close())

	result, err := storage.Recover(dir, storage.PolicyDefault)
	require.NoError(t, err)
	orphanTxnID := result.RestoreAbove + 1
	wal, err := storage.OpenWAL(filepath.Join(dir, "WAL"), storage.DurabilityStrict, storage.DefaultSegmentSize, &result.Manifest.ActiveSegment, nil)
	require.NoError(t, err)
	key := storage.NewKey("R", storage.TagKV, []byte("uncommitted"))
	body, err := value.MarshalJSON(value.Int(999))
	require.NoError(t, err)
	require.NoError(t, wal.Append(storage.Record{
		Type: storage.RecKVPut, TxnID: orphanTxnID, RunID: "R",
		Body: append(append([]byte{0, 0, 0, byte(len("uncommitted"))}, "uncommitted"...), body...),
	}))
	require.NoError(t, wal.Close())

	again, err := storage.Recover(dir, storage.PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again.Stats.OrphanedTransactions)

	reopened, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	for i := 0; i < 100; i++ {
		v, _, ok, err := reopened.KV.Get("R", []byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
		n, _ := v.AsInt()
		assert.Equal(t, int64(i), n)
	}

	_, _, ok, err := reopened.KV.Get("R", key.UserKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRunBundleRoundTripScenario exports a completed run's full mixed
// workload, verifies the bundle, imports it into an empty database, and
// checks the imported state matches byte-for-byte.
func TestRunBundleRoundTripScenario(t *testing.T) {
	srcDir := t.TempDir()
	src, err := Open(srcDir, testOptions())
	require.NoError(t, err)

	_, err = src.CreateRun("R", "scenario", "", nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, src.KV.Put("R", []byte{byte(i)}, value.Int(int64(i))))
	}
	for i := 0; i < 5; i++ {
		_, err := src.Documents.Set("R", []byte{byte(i)}, value.Object(map[string]value.Value{"i": value.Int(int64(i))}))
		require.NoError(t, err)
	}
	for i := 0; i < 20; i++ {
		_, err := src.Events.Append("R", "stream", value.Object(map[string]value.Value{"i": value.Int(int64(i))}))
		require.NoError(t, err)
	}
	_, err = src.Runs.SetState("R", runindex.Completed, "")
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "R.runbundle.tar.zst")
	require.NoError(t, src.ExportRun("R", archivePath, 3))
	require.NoError(t, src.Close())

	vb, err := bundle.VerifyBundle(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "R", vb.RunMeta.RunID)
	assert.Equal(t, len(vb.Records), vb.Manifest.Contents.RecordCount)

	dstDir := t.TempDir()
	_, err = ImportRun(dstDir, archivePath)
	require.NoError(t, err)

	dst, err := Open(dstDir, testOptions())
	require.NoError(t, err)
	defer dst.Close()

	for i := 0; i < 10; i++ {
		v, _, ok, err := dst.KV.Get("R", []byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
		n, _ := v.AsInt()
		assert.Equal(t, int64(i), n)
	}
	for i := 0; i < 5; i++ {
		v, _, ok, err := dst.Documents.Get("R", []byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
		obj, ok := v.AsObject()
		require.True(t, ok)
		got, _ := obj["i"].AsInt()
		assert.Equal(t, int64(i), got)
	}
	n, err := dst.Events.Len("R")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), n)

	reExportPath := filepath.Join(t.TempDir(), "R-reexport.runbundle.tar.zst")
	require.NoError(t, dst.ExportRun("R", reExportPath, 3))
	assertFilesByteIdentical(t, archivePath, reExportPath)
}

func assertFilesByteIdentical(t *testing.T, a, b string) {
	t.Helper()
	wantBytes, err := os.ReadFile(a)
	require.NoError(t, err)
	gotBytes, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)
}
