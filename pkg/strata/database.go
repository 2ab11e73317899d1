package strata

import (
	"github.com/cuemby/strata/pkg/bundle"
	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/eventlog"
	"github.com/cuemby/strata/pkg/jsondoc"
	"github.com/cuemby/strata/pkg/kv"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/replay"
	"github.com/cuemby/strata/pkg/runindex"
	"github.com/cuemby/strata/pkg/statecell"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
	"github.com/cuemby/strata/pkg/vectorstore"
)

// Database is the library's single public handle. It owns one
// storage.Database (the engine) and one instance of every content
// primitive built on top of it, all sharing the same Substrate and
// TxnManager.
type Database struct {
	engine *storage.Database

	KV        *kv.KV
	Documents *jsondoc.JSONDoc
	Cells     *statecell.StateCell
	Events    *eventlog.EventLog
	Vectors   *vectorstore.VectorStore
	Runs      *runindex.RunIndex
}

// Open recovers (or initializes) the database rooted at dir and wires
// every primitive on top of it, restoring the VectorStore's in-memory
// index from whatever Vector-tagged records the engine's recovery pass
// set aside for it.
func Open(dir string, opts storage.Options) (*Database, error) {
	engine, err := storage.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	resolved := opts.WithDefaults()

	vectors := vectorstore.New(engine.Txn)
	if err := vectors.LoadFromRecovery(engine.VectorBlob, engine.VectorGroups); err != nil {
		engine.Close()
		return nil, err
	}

	db := &Database{
		engine:    engine,
		KV:        kv.New(engine.Substrate, engine.Txn, resolved.MaxKeyLength),
		Documents: jsondoc.New(engine.Substrate, engine.Txn, resolved.MaxKeyLength),
		Cells:     statecell.New(engine.Substrate, engine.Txn, resolved.MaxKeyLength),
		Events:    eventlog.New(engine.Substrate, engine.Txn),
		Vectors:   vectors,
		Runs:      runindex.New(engine.Substrate, engine.Txn),
	}
	log.WithComponent("strata").Info().Str("dir", dir).Msg("database ready")
	return db, nil
}

// Dir returns the database's root directory.
func (db *Database) Dir() string { return db.engine.Dir() }

// Close flushes and closes the underlying WAL.
func (db *Database) Close() error { return db.engine.Close() }

// Checkpoint materializes a new snapshot of every primitive's current
// state, including the VectorStore's section (which the storage engine
// cannot build on its own — it never deserializes Vector records).
func (db *Database) Checkpoint() (string, error) {
	vecSection, err := db.Vectors.SnapshotSection()
	if err != nil {
		return "", err
	}
	return db.engine.Checkpoint(vecSection)
}

// Compact runs the engine's WAL/history compaction. See
// storage.Database.Compact for mode semantics.
func (db *Database) Compact(mode storage.CompactionMode, tags []storage.PrimitiveTag) (removedSegments []uint32, trimmedKeys int, err error) {
	return db.engine.Compact(mode, tags)
}

// ExportRun writes runID's run bundle to destPath. The run must be
// terminal (Completed, Failed, Cancelled, or Archived).
func (db *Database) ExportRun(runID, destPath string, zstdLevel int) error {
	return bundle.ExportRun(db.Dir(), db.Runs, runID, destPath, zstdLevel)
}

// ImportRun loads a run bundle into a fresh database directory. Per
// spec.md §4.10's MVP scope, call this before Open against that
// directory — import writes directly to the on-disk WAL and manifest,
// outside any live Database's TxnManager, and a subsequent Open replays
// the imported records like any other recovered transaction.
func ImportRun(dbDir, archivePath string) (runindex.Metadata, error) {
	return bundle.ImportRun(dbDir, archivePath)
}

// Replay reconstructs runID's logical state by scanning this database's
// WAL directly, independent of the live Substrate. See pkg/replay's
// package doc for how this differs from what Open/recovery produce.
func (db *Database) Replay(runID string) (replay.ReadOnlyView, error) {
	return replay.Replay(db.Dir(), runID)
}

// ReplayUntil restricts Replay's event records to those timestamped at
// or before tsMicro.
func (db *Database) ReplayUntil(runID string, tsMicro int64) (replay.ReadOnlyView, error) {
	return replay.ReplayUntil(db.Dir(), runID, tsMicro)
}

// ReplayRange restricts Replay's event records to the inclusive window
// [fromMicro, toMicro].
func (db *Database) ReplayRange(runID string, fromMicro, toMicro int64) (replay.ReadOnlyView, error) {
	return replay.ReplayRange(db.Dir(), runID, fromMicro, toMicro)
}

// DefaultTxnRetryAttempts bounds WithTxn's OCC retry loop, matching the
// per-primitive default (kv.DefaultRetryAttempts).
const DefaultTxnRetryAttempts = 5

// WithTxn runs fn inside a single transaction shared across primitives,
// for callers that need several writes (e.g. a KV put and an Event
// append) to become visible at the same version or not at all. fn
// composes writes with the primitives' *In methods (KV.PutIn,
// EventLog.AppendIn, ...) against the supplied txn; fn must not call a
// primitive's ordinary (auto-committing) methods with this txn's run, as
// that begins and commits a second, independent transaction. Returning
// an error from fn aborts the whole transaction; on an OCC conflict the
// body is retried from scratch against a fresh snapshot.
func (db *Database) WithTxn(run string, fn func(*storage.Txn) error) (storage.Version, error) {
	return db.engine.Txn.WithRetry(run, fn, storage.RetryPolicy{MaxAttempts: DefaultTxnRetryAttempts})
}

// CreateRun registers a new run and returns its registry entry. It is a
// thin pass-through to Runs.Create kept on Database for symmetry with
// ExportRun/ImportRun/Replay, which all key off a run id.
func (db *Database) CreateRun(runID, name, parentRunID string, tags []string) (runindex.Metadata, error) {
	if runID == "" {
		return runindex.Metadata{}, errs.New(errs.InvalidInput, "strata.CreateRun", "run id must not be empty")
	}
	return db.Runs.Create(runID, name, parentRunID, tags, value.Null())
}
