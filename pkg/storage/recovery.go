package storage

import (
	"path/filepath"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
)

// RecoveryResult is everything the Database facade needs after rebuilding
// the substrate on open: the live substrate, the manifest as found (or
// freshly minted), the txn counter to resume from, the generic groups
// already installed, any Vector-tagged records the caller must replay
// through its own (non-Substrate) state, and the statistics the recovery
// policy promises.
type RecoveryResult struct {
	Substrate     *Substrate
	Manifest      *Manifest
	RestoreAbove  uint64
	VectorGroups  []CommittedGroup // Vector-tagged records, grouped by txn, ascending order
	VectorBlob    []byte           // the Vector snapshot section, if a snapshot was used
	Stats         ReplayStats
}

// snapshotsDirName and walDirName are the fixed subdirectories under a
// database directory (spec.md §6).
const (
	snapshotsDirName = "SNAPSHOTS"
	walDirName       = "WAL"
	dataDirName      = "DATA"
)

// Recover implements the six-step procedure in spec.md §4.5: load the
// manifest, pick the newest valid snapshot, apply it, scan the WAL past
// its watermark, group by txn id, and install committed groups in
// ascending order.
func Recover(dbDir string, policy ReplayPolicy) (RecoveryResult, error) {
	logger := log.WithComponent("recovery")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RecoveryDuration)

	manifest, exists, err := LoadManifest(dbDir)
	if err != nil {
		return RecoveryResult{}, err
	}
	if !exists {
		logger.Info().Msg("no manifest found, initializing fresh database")
		return RecoveryResult{Substrate: NewSubstrate(), Manifest: NewManifest()}, nil
	}

	substrate := NewSubstrate()
	var watermark uint64
	var stats ReplayStats
	var vectorBlob []byte

	snapDir := filepath.Join(dbDir, snapshotsDirName)
	if path, ok, err := latestSnapshotPath(snapDir); err != nil {
		return RecoveryResult{}, err
	} else if ok {
		header, sections, err := ReadSnapshot(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("discarding corrupt snapshot, falling back to WAL replay")
		} else {
			applySnapshotSections(substrate, sections)
			for _, s := range sections {
				if s.Tag == TagVector {
					vectorBlob = s.Blob
				}
			}
			watermark = header.WALWatermark
			substrate.ForceWatermark(watermark)
			stats.SnapshotUsed = true
		}
	}

	walDir := filepath.Join(dbDir, walDirName)
	records, scanStats, err := ScanWAL(walDir, 0, policy)
	if err != nil {
		return RecoveryResult{}, err
	}
	stats.WALEntriesReplayed += scanStats.WALEntriesReplayed
	stats.CorruptEntriesSkipped += scanStats.CorruptEntriesSkipped

	groups, orphaned := GroupCommitted(records)
	stats.OrphanedTransactions += orphaned

	var maxSeenTxnID uint64
	for _, rr := range records {
		if rr.Record.TxnID > maxSeenTxnID {
			maxSeenTxnID = rr.Record.TxnID
		}
	}

	timeMicro := time.Now().UnixMicro()
	var vectorGroups []CommittedGroup
	for _, g := range groups {
		if g.TxnID <= watermark {
			continue
		}
		var writes []Write
		var vectorRecs []Record
		for _, rec := range g.Records {
			if tag, tomb, ok := recordPrimitiveTag(rec.Type); ok {
				userKey, payload, valid := parseGenericBody(rec.Body)
				if !valid {
					return RecoveryResult{}, errs.New(errs.Serialization, "storage.Recover", "malformed generic WAL body")
				}
				writes = append(writes, Write{
					Key:       Key{RunID: rec.RunID, Tag: tag, UserKey: userKey},
					Payload:   payload,
					Tombstone: tomb,
				})
			} else {
				vectorRecs = append(vectorRecs, rec)
			}
		}
		if len(writes) > 0 {
			substrate.Install(Version{Kind: VersionTxn, N: g.TxnID}, timeMicro, writes)
		}
		if len(vectorRecs) > 0 {
			vectorGroups = append(vectorGroups, CommittedGroup{TxnID: g.TxnID, Records: vectorRecs})
		}
	}

	restoreAbove := watermark
	if maxSeenTxnID > restoreAbove {
		restoreAbove = maxSeenTxnID
	}
	if manifest.TxnCounter > restoreAbove {
		restoreAbove = manifest.TxnCounter
	}

	logger.Info().
		Uint64("restore_above", restoreAbove).
		Int("committed_groups", len(groups)).
		Uint64("orphaned", orphaned).
		Bool("snapshot_used", stats.SnapshotUsed).
		Msg("recovery complete")
	metrics.RecoveryOrphanedTxns.Set(float64(orphaned))

	return RecoveryResult{
		Substrate:    substrate,
		Manifest:     manifest,
		RestoreAbove: restoreAbove,
		VectorGroups: vectorGroups,
		VectorBlob:   vectorBlob,
		Stats:        stats,
	}, nil
}

func applySnapshotSections(substrate *Substrate, sections []SnapshotSection) {
	for _, s := range sections {
		if s.Tag == TagVector {
			continue // handled by the vectorstore package from the raw blob
		}
		entries, err := DecodeSubstrateSection(s.Tag, s.Blob)
		if err != nil {
			continue
		}
		for _, e := range entries {
			substrate.Install(e.Value.Version, e.Value.TimeMicro, []Write{{
				Key:       e.Key,
				Payload:   e.Value.Payload,
				Tombstone: e.Value.Tombstone,
			}})
		}
	}
}
