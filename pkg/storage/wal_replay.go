package storage

import (
	"io"
	"os"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
)

// ReplayPolicy controls how WAL replay reacts to mid-stream corruption
// (spec.md §4.5).
type ReplayPolicy int

const (
	PolicyDefault ReplayPolicy = iota
	PolicyPermissive
)

// ReplayStats accumulates the statistics recovery reports, whichever
// policy is in effect.
type ReplayStats struct {
	WALEntriesReplayed    uint64
	OrphanedTransactions  uint64
	CorruptEntriesSkipped uint64
	SnapshotUsed          bool
}

// RawRecord is a decoded WAL record together with its physical location,
// used by recovery, replay, and bundle export to reason about ordering.
type RawRecord struct {
	Record  Record
	Segment uint32
}

// ScanWAL decodes every record from fromSegment onward, across however
// many segments exist, honoring policy on corruption. A torn tail (a
// final, incomplete frame) ends the scan cleanly; it is not an error.
func ScanWAL(dir string, fromSegment uint32, policy ReplayPolicy) ([]RawRecord, ReplayStats, error) {
	var stats ReplayStats
	segments, err := listSegments(dir)
	if err != nil {
		return nil, stats, errs.Wrap(errs.IO, "storage.ScanWAL", "listing segments", err)
	}
	var out []RawRecord
	for _, num := range segments {
		if num < fromSegment {
			continue
		}
		recs, segStats, torn, err := scanSegment(dir, num, policy)
		stats.WALEntriesReplayed += segStats.WALEntriesReplayed
		stats.CorruptEntriesSkipped += segStats.CorruptEntriesSkipped
		if err != nil {
			return nil, stats, err
		}
		out = append(out, recs...)
		if torn {
			break
		}
	}
	return out, stats, nil
}

func scanSegment(dir string, num uint32, policy ReplayPolicy) ([]RawRecord, ReplayStats, bool, error) {
	var stats ReplayStats
	f, err := os.Open(segmentPath(dir, num))
	if err != nil {
		return nil, stats, false, errs.Wrap(errs.IO, "storage.scanSegment", "opening segment", err)
	}
	defer f.Close()

	if _, err := readSegmentHeader(f); err != nil {
		return nil, stats, false, err
	}
	if _, err := f.Seek(int64(segmentHeaderSize), io.SeekStart); err != nil {
		return nil, stats, false, errs.Wrap(errs.IO, "storage.scanSegment", "seeking past header", err)
	}

	var out []RawRecord
	for {
		res, err := readFrame(f)
		switch {
		case err == io.EOF:
			return out, stats, false, nil
		case err == io.ErrUnexpectedEOF:
			// torn tail: a partially-written final frame, valid and truncated.
			return out, stats, true, nil
		case err != nil:
			if errs.Is(err, errs.ChecksumMismatch) && policy == PolicyPermissive {
				stats.CorruptEntriesSkipped++
				continue
			}
			return nil, stats, false, errs.Wrap(errs.ChecksumMismatch, "storage.scanSegment", "mid-stream record corruption", err)
		}
		rec, err := decodeRecordPayload(res.payload)
		if err != nil {
			if policy == PolicyPermissive {
				stats.CorruptEntriesSkipped++
				continue
			}
			return nil, stats, false, err
		}
		stats.WALEntriesReplayed++
		out = append(out, RawRecord{Record: rec, Segment: num})
	}
}

// CommittedGroup is every WAL record belonging to one committed
// transaction, in the order they were appended.
type CommittedGroup struct {
	TxnID   uint64
	Records []Record
}

// GroupCommitted partitions raw records into committed groups: a group
// survives only if it saw a commit marker; a group that saw an abort
// marker, or never saw a marker before the scan ended, is discarded as
// orphaned. Surviving groups are returned in ascending TxnID order.
func GroupCommitted(records []RawRecord) ([]CommittedGroup, uint64) {
	order := make([]uint64, 0)
	bodies := make(map[uint64][]Record)
	committed := make(map[uint64]bool)
	aborted := make(map[uint64]bool)
	seen := make(map[uint64]bool)

	for _, rr := range records {
		r := rr.Record
		if !seen[r.TxnID] {
			seen[r.TxnID] = true
			order = append(order, r.TxnID)
		}
		switch r.Type {
		case RecCommit:
			committed[r.TxnID] = true
		case RecAbort:
			aborted[r.TxnID] = true
		default:
			bodies[r.TxnID] = append(bodies[r.TxnID], r)
		}
	}

	var orphaned uint64
	var groups []CommittedGroup
	for _, id := range order {
		if aborted[id] || !committed[id] {
			orphaned++
			continue
		}
		groups = append(groups, CommittedGroup{TxnID: id, Records: bodies[id]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].TxnID < groups[j].TxnID })
	return groups, orphaned
}
