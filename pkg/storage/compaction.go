package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
)

// CompactionMode selects how aggressively Compact reclaims space
// (spec.md §4.6).
type CompactionMode int

const (
	WALOnly CompactionMode = iota
	Full
)

func (m CompactionMode) String() string {
	if m == Full {
		return "full"
	}
	return "wal_only"
}

// CompactWALOnly removes WAL segments whose every record's txn id is
// <= watermark, never touching the currently active segment. It is
// deterministic and safe to run with no other writers active.
func CompactWALOnly(dbDir string, watermark uint64, activeSegment uint32) (removed []uint32, err error) {
	logger := log.WithComponent("compaction")
	walDir := filepath.Join(dbDir, walDirName)
	segments, err := listSegments(walDir)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "storage.CompactWALOnly", "listing segments", err)
	}
	for _, num := range segments {
		if num == activeSegment {
			continue
		}
		maxTxn, empty, err := segmentMaxTxnID(walDir, num)
		if err != nil {
			return removed, err
		}
		if !empty && maxTxn > watermark {
			continue
		}
		if err := os.Remove(segmentPath(walDir, num)); err != nil {
			return removed, errs.Wrap(errs.IO, "storage.CompactWALOnly", "removing segment", err)
		}
		removed = append(removed, num)
	}
	logger.Info().Uint64("watermark", watermark).Int("removed", len(removed)).Msg("wal-only compaction complete")
	metrics.CompactionsTotal.WithLabelValues(WALOnly.String()).Inc()
	return removed, nil
}

func segmentMaxTxnID(walDir string, num uint32) (uint64, bool, error) {
	recs, _, _, err := scanSegment(walDir, num, PolicyPermissive)
	if err != nil {
		return 0, false, err
	}
	if len(recs) == 0 {
		return 0, true, nil
	}
	var max uint64
	for _, rr := range recs {
		if rr.Record.TxnID > max {
			max = rr.Record.TxnID
		}
	}
	return max, false, nil
}

// CompactFull applies policies (per-tag retention, defaulting to KeepAll
// for any tag without a policy set) to every run's history for the given
// tags, rewriting each chain to hold only retained versions and recording
// a retained-floor marker for every trimmed key. It does not write a new snapshot itself —
// the caller (the top-level Database facade, which also owns the Vector
// and run-bundle sections) does that once every tag has been trimmed.
func CompactFull(substrate *Substrate, tags []PrimitiveTag, now time.Time) (trimmedKeys int, err error) {
	logger := log.WithComponent("compaction")
	watermark := substrate.Watermark()
	timeMicro := now.UnixMicro()
	for _, runID := range substrate.ListRunIDs() {
		for _, tag := range tags {
			policy, ok, err := GetRetentionPolicy(substrate, runID, tag)
			if err != nil {
				return trimmedKeys, err
			}
			if !ok || policy.Kind == KeepAll {
				continue
			}
			for _, ref := range substrate.chainsForTag(runID, tag) {
				history := ref.Chain.history(0, 0)
				retained, removable := policy.Evaluate(history, now)
				if len(removable) == 0 {
					continue
				}
				replaceChainHead(ref.Chain, retained)
				floor := retained[len(retained)-1].Version.N
				setRetainedFloor(substrate, Version{Kind: VersionTxn, N: watermark}, timeMicro, runID, tag, ref.Key.UserKey, floor)
				trimmedKeys++
			}
		}
	}
	logger.Info().Int("trimmed_keys", trimmedKeys).Msg("full compaction trimmed history")
	metrics.CompactionsTotal.WithLabelValues(Full.String()).Inc()
	return trimmedKeys, nil
}
