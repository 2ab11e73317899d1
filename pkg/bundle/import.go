package bundle

import (
	"path/filepath"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/runindex"
	"github.com/cuemby/strata/pkg/storage"
)

// ImportRun validates archivePath and appends its WAL records directly
// into dbDir's on-disk WAL, preserving their original txn ids and commit
// markers, then folds the run's registry snapshot in as one more record
// and updates dbDir's manifest so the txn counter and active segment stay
// consistent for whoever opens the database next.
//
// Import is at-rest: it operates on a database directory with no live
// TxnManager attached, the same way storage.Recover itself installs
// historical records without going through TxnManager.Commit. The caller
// must (re)open the database — via storage.Recover, which rebuilds
// restoreAbove from the manifest's txn_counter — after import returns;
// this is the MVP scope spec.md §4.10 describes ("empty database" —
// nothing else may be writing to dbDir concurrently with ImportRun).
func ImportRun(dbDir, archivePath string) (runindex.Metadata, error) {
	vb, err := VerifyBundle(archivePath)
	if err != nil {
		return runindex.Metadata{}, err
	}
	runID := vb.RunMeta.RunID
	if runID == "" {
		return runindex.Metadata{}, errs.New(errs.Serialization, "bundle.ImportRun", "bundle RUN.json missing run_id")
	}

	rr, err := storage.Recover(dbDir, storage.PolicyDefault)
	if err != nil {
		return runindex.Metadata{}, err
	}
	for _, existing := range rr.Substrate.ListRunIDs() {
		if existing == runID {
			return runindex.Metadata{}, errs.New(errs.RunAlreadyExists, "bundle.ImportRun", "run already present in target database").
				WithDetails("run_id", runID)
		}
	}

	meta, err := vb.RunMeta.toMetadata()
	if err != nil {
		return runindex.Metadata{}, err
	}

	records := append([]storage.Record(nil), vb.Records...)
	maxTxnID := rr.Manifest.TxnCounter
	for _, rec := range records {
		if rec.TxnID > maxTxnID {
			maxTxnID = rec.TxnID
		}
	}

	// RUN.json is authoritative for the run's registry entry even when
	// WAL.runlog's own lifecycle records were compacted away before
	// export; fold it in as one more committed group so the imported
	// run is always discoverable via runindex.List after reopening,
	// regardless of what WAL.runlog happened to still carry.
	metaTxnID := maxTxnID + 1
	metaBody, err := runindex.RunRecordBody(meta)
	if err != nil {
		return runindex.Metadata{}, err
	}
	records = append(records,
		storage.Record{Type: storage.RecRunCreate, TxnID: metaTxnID, RunID: runID, Body: metaBody},
		storage.Record{Type: storage.RecCommit, TxnID: metaTxnID, RunID: runID},
	)
	maxTxnID = metaTxnID

	walDir := filepath.Join(dbDir, "WAL")
	startSegment := rr.Manifest.ActiveSegment
	wal, err := storage.OpenWAL(walDir, storage.DurabilityStrict, storage.DefaultSegmentSize, &startSegment, nil)
	if err != nil {
		return runindex.Metadata{}, err
	}
	for _, rec := range records {
		if err := wal.Append(rec); err != nil {
			wal.Close()
			return runindex.Metadata{}, err
		}
	}
	if err := wal.Close(); err != nil {
		return runindex.Metadata{}, err
	}

	rr.Manifest.ActiveSegment = wal.ActiveSegment()
	if maxTxnID > rr.Manifest.TxnCounter {
		rr.Manifest.TxnCounter = maxTxnID
	}
	if err := rr.Manifest.Save(dbDir); err != nil {
		return runindex.Metadata{}, err
	}

	return meta, nil
}
