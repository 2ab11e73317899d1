package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
)

// Database is the MVCC storage engine's top-level handle: one run-sharded
// Substrate, one WAL, one Manifest, and the TxnManager that ties commits
// to both. Every content primitive (KV, JSON documents, state cells,
// EventLog, VectorStore, the run index) is built on top of a shared
// Database rather than owning its own persistence.
//
// On-disk layout under the database directory:
//
//	<dir>/MANIFEST.json
//	<dir>/WAL/wal-000000.seg, wal-000001.seg, ...
//	<dir>/SNAPSHOTS/snapshot_<watermark>-<timestamp>.dat
//	<dir>/DATA/   (reserved for future out-of-band blob storage)
type Database struct {
	dir      string
	opts     Options
	mu       sync.RWMutex
	manifest *Manifest

	Substrate *Substrate
	Txn       *TxnManager
	wal       *WAL

	// VectorBlob is the raw Vector snapshot section recovered on open, if
	// any; the vectorstore package consumes it once and then owns its own
	// in-memory reconstruction from VectorGroups.
	VectorBlob   []byte
	VectorGroups []CommittedGroup

	RecoveryStats ReplayStats
}

// Open recovers (or initializes) the database at dir and returns a live
// handle ready to accept transactions.
func Open(dir string, opts Options) (*Database, error) {
	opts = opts.WithDefaults()
	durability, err := opts.DurabilityMode()
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("database")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "storage.Open", "creating database directory", err)
	}
	for _, sub := range []string{walDirName, snapshotsDirName, dataDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.IO, "storage.Open", "creating "+sub+" directory", err)
		}
	}

	policy := PolicyDefault
	if opts.Durability == "permissive_recovery" {
		policy = PolicyPermissive
	}
	result, err := Recover(dir, policy)
	if err != nil {
		return nil, err
	}

	manifest := result.Manifest
	var startSegment *uint32
	if manifest.ActiveSegment != 0 || fileExists(filepath.Join(dir, walDirName, segmentFileName(0))) {
		seg := manifest.ActiveSegment
		startSegment = &seg
	}

	var activeSeg uint32
	wal, err := OpenWAL(filepath.Join(dir, walDirName), durability, opts.SegmentSizeBytes, startSegment, func(newSeg uint32) {
		activeSeg = newSeg
	})
	if err != nil {
		return nil, err
	}
	activeSeg = wal.ActiveSegment()

	manifest.ActiveSegment = activeSeg
	manifest.TxnCounter = result.RestoreAbove
	if err := manifest.Save(dir); err != nil {
		wal.Close()
		return nil, err
	}

	txnMgr := NewTxnManager(result.Substrate, wal, result.RestoreAbove)

	db := &Database{
		dir:           dir,
		opts:          opts,
		manifest:      manifest,
		Substrate:     result.Substrate,
		Txn:           txnMgr,
		wal:           wal,
		VectorBlob:    result.VectorBlob,
		VectorGroups:  result.VectorGroups,
		RecoveryStats: result.Stats,
	}
	logger.Info().Str("dir", dir).Str("durability", durability.String()).Msg("database opened")
	return db, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Dir returns the database's root directory.
func (db *Database) Dir() string { return db.dir }

// Options returns the resolved options the database was opened with.
func (db *Database) Options() Options { return db.opts }

// ActiveSegment returns the WAL's currently active segment number.
func (db *Database) ActiveSegment() uint32 { return db.wal.ActiveSegment() }

// Close flushes and closes the WAL. The substrate is in-memory only and
// is discarded; the next Open recovers it from the manifest/snapshot/WAL.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.wal.Close()
}

// genericSections gathers the KV, JSON, Event, State, and Run tags'
// current live state into snapshot sections. Vector is excluded; callers
// that also carry a VectorStore must append its section themselves.
func (db *Database) genericSections() []SnapshotSection {
	tags := []PrimitiveTag{TagKV, TagJSON, TagEvent, TagState, TagRun}
	sections := make([]SnapshotSection, 0, len(tags))
	for _, tag := range tags {
		var entries []SubstrateEntry
		for _, runID := range db.Substrate.ListRunIDs() {
			rows, cursor := db.Substrate.ScanPrefix(runID, tag, nil, db.Substrate.Snapshot(), 0, "")
			for _, row := range rows {
				entries = append(entries, SubstrateEntry{RunID: runID, Key: row.Key, Value: row.Value})
			}
			_ = cursor // genericSections always scans to exhaustion (limit=0)
		}
		sections = append(sections, SnapshotSection{Tag: tag, Blob: EncodeSubstrateSection(entries)})
	}
	return sections
}

// Checkpoint materializes the current committed state to a new snapshot
// file, including any extra sections the caller supplies (typically the
// VectorStore's own section, which this package cannot build itself).
// It updates the manifest to point at the new snapshot and returns its
// path.
func (db *Database) Checkpoint(extra ...SnapshotSection) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	watermark := db.Substrate.Watermark()
	now := time.Now()
	sections := append(db.genericSections(), extra...)

	path := filepath.Join(db.dir, snapshotsDirName, snapshotFileName(watermark, now))
	if err := WriteSnapshot(path, watermark, db.Txn.CounterAbove(), now.UnixMicro(), sections); err != nil {
		return "", err
	}

	db.manifest.SnapshotID = filepath.Base(path)
	db.manifest.SnapshotWatermark = watermark
	if err := db.manifest.Save(db.dir); err != nil {
		return "", err
	}
	return path, nil
}

// Compact runs compaction in the given mode. WALOnly removes fully
// applied, inactive WAL segments. Full additionally trims history per
// each run's retention policies for tags; pass the tags your deployment
// actually uses retention on (typically TagKV, TagJSON, TagEvent).
func (db *Database) Compact(mode CompactionMode, tags []PrimitiveTag) (removedSegments []uint32, trimmedKeys int, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	removedSegments, err = CompactWALOnly(db.dir, db.Substrate.Watermark(), db.wal.ActiveSegment())
	if err != nil || mode == WALOnly {
		return removedSegments, 0, err
	}
	trimmedKeys, err = CompactFull(db.Substrate, tags, time.Now())
	return removedSegments, trimmedKeys, err
}
