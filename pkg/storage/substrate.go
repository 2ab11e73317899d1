package storage

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/strata/pkg/errs"
)

// chainNode is one version in a key's history, newest-first. Nodes are
// never mutated after being linked; a reader holding a pointer to a node
// always sees a consistent, never-changing view of it, even while writers
// keep prepending newer nodes onto the chain's head.
type chainNode struct {
	sv   StoredValue
	next *chainNode
}

// versionChain is the append-only version history for one key.
type versionChain struct {
	head atomic.Pointer[chainNode]
}

func (c *versionChain) prepend(sv StoredValue) {
	n := &chainNode{sv: sv, next: c.head.Load()}
	c.head.Store(n)
}

// latest returns the newest version, or ok=false if the chain is empty.
func (c *versionChain) latest() (StoredValue, bool) {
	n := c.head.Load()
	if n == nil {
		return StoredValue{}, false
	}
	return n.sv, true
}

// at returns the newest version with Version.N <= watermark (for VersionTxn
// chains) walking newest-first, or ok=false if none qualifies.
func (c *versionChain) at(kind VersionKind, watermark uint64) (StoredValue, bool) {
	for n := c.head.Load(); n != nil; n = n.next {
		if n.sv.Version.Kind == kind && n.sv.Version.N <= watermark {
			return n.sv, true
		}
	}
	return StoredValue{}, false
}

// history returns up to limit entries newest-first, optionally excluding
// anything with Version.N >= beforeVersion (0 means no exclusion).
func (c *versionChain) history(limit int, beforeVersion uint64) []StoredValue {
	var out []StoredValue
	for n := c.head.Load(); n != nil; n = n.next {
		if beforeVersion != 0 && n.sv.Version.N >= beforeVersion {
			continue
		}
		out = append(out, n.sv)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// runShard holds every key belonging to one run. index is keyed by
// Key.encode(); sortedKeys is kept in lexicographic order so prefix scans
// never depend on map iteration order.
type runShard struct {
	mu         sync.RWMutex
	index      map[string]*versionChain
	sortedKeys []string
}

func newRunShard() *runShard {
	return &runShard{index: make(map[string]*versionChain)}
}

func (s *runShard) chain(encoded string) *versionChain {
	s.mu.RLock()
	c := s.index[encoded]
	s.mu.RUnlock()
	return c
}

func (s *runShard) getOrCreateChain(encoded string) *versionChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[encoded]
	if ok {
		return c
	}
	c = &versionChain{}
	s.index[encoded] = c
	i := sort.SearchStrings(s.sortedKeys, encoded)
	s.sortedKeys = append(s.sortedKeys, "")
	copy(s.sortedKeys[i+1:], s.sortedKeys[i:])
	s.sortedKeys[i] = encoded
	return c
}

// SnapshotView is a lightweight, immutable read handle: a watermark below
// (and including) which every committed write is visible, and above which
// nothing is. Taking a SnapshotView never allocates beyond the struct
// itself and never blocks a concurrent writer.
type SnapshotView struct {
	Watermark uint64
}

// Substrate is the sharded, versioned key space shared by every primitive.
// It never interprets payload bytes; callers own Value encoding.
type Substrate struct {
	mu        sync.RWMutex
	runs      map[string]*runShard
	watermark atomic.Uint64
}

func NewSubstrate() *Substrate {
	return &Substrate{runs: make(map[string]*runShard)}
}

func (s *Substrate) shard(runID string) *runShard {
	s.mu.RLock()
	rs, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return rs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok = s.runs[runID]; ok {
		return rs
	}
	rs = newRunShard()
	s.runs[runID] = rs
	return rs
}

// Snapshot returns a SnapshotView pinned to the current commit watermark.
func (s *Substrate) Snapshot() SnapshotView {
	return SnapshotView{Watermark: s.watermark.Load()}
}

// Watermark returns the current commit watermark without allocating a view.
func (s *Substrate) Watermark() uint64 { return s.watermark.Load() }

// Get returns the absolute latest value for key, ignoring any snapshot.
func (s *Substrate) Get(key Key) (StoredValue, bool) {
	rs := s.shard(key.RunID)
	c := rs.chain(key.encode())
	if c == nil {
		return StoredValue{}, false
	}
	sv, ok := c.latest()
	if !ok || sv.Tombstone {
		return StoredValue{}, false
	}
	return sv, true
}

// GetAt returns the value visible as of snap: the newest committed version
// with Version.N <= snap.Watermark, or ok=false if deleted or absent as of
// that watermark.
func (s *Substrate) GetAt(key Key, snap SnapshotView) (StoredValue, bool) {
	rs := s.shard(key.RunID)
	c := rs.chain(key.encode())
	if c == nil {
		return StoredValue{}, false
	}
	sv, ok := c.at(VersionTxn, snap.Watermark)
	if !ok || sv.Tombstone {
		return StoredValue{}, false
	}
	return sv, true
}

// GetAtChecked is GetAt but distinguishes a version removed by retention
// from one that never existed: when snap.Watermark falls below floor (and
// floorOK is true, meaning a floor has actually been recorded for this
// key), it returns a HistoryTrimmed error instead of the plain ok=false
// GetAt would give.
func (s *Substrate) GetAtChecked(key Key, snap SnapshotView, floor uint64, floorOK bool) (StoredValue, bool, error) {
	sv, ok := s.GetAt(key, snap)
	if ok {
		return sv, true, nil
	}
	if floorOK && snap.Watermark < floor {
		return StoredValue{}, false, errs.New(errs.HistoryTrimmed, "storage.Substrate.GetAtChecked", "requested version has been trimmed by retention").
			WithDetails("earliest_retained", floor)
	}
	return StoredValue{}, false, nil
}

// GetHistory returns up to limit versions of key, newest-first, optionally
// excluding any version with Version.N >= beforeVersion (0 means no exclusion).
func (s *Substrate) GetHistory(key Key, limit int, beforeVersion uint64) []StoredValue {
	rs := s.shard(key.RunID)
	c := rs.chain(key.encode())
	if c == nil {
		return nil
	}
	return c.history(limit, beforeVersion)
}

// ScanResult is one row produced by ScanPrefix.
type ScanResult struct {
	Key   Key
	Value StoredValue
}

// ScanPrefix returns keys within (runID, tag) whose UserKey has the given
// prefix, in lexicographic order, as of snap. cursor resumes after the
// given encoded key (empty string starts from the beginning); the returned
// nextCursor is empty when the scan is exhausted.
func (s *Substrate) ScanPrefix(runID string, tag PrimitiveTag, prefix []byte, snap SnapshotView, limit int, cursor string) (rows []ScanResult, nextCursor string) {
	rs := s.shard(runID)
	rs.mu.RLock()
	keys := append([]string(nil), rs.sortedKeys...)
	rs.mu.RUnlock()

	tagPrefix := string(append([]byte{byte(tag)}, prefix...))
	tagOnly := string([]byte{byte(tag)})
	start := sort.SearchStrings(keys, tagPrefix)
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
		if start < len(keys) && keys[start] == cursor {
			start++
		}
	}
	for i := start; i < len(keys); i++ {
		enc := keys[i]
		if !bytes.HasPrefix([]byte(enc), []byte(tagPrefix)) {
			if bytes.HasPrefix([]byte(enc), []byte(tagOnly)) {
				continue
			}
			break
		}
		c := rs.chain(enc)
		if c == nil {
			continue
		}
		sv, ok := c.at(VersionTxn, snap.Watermark)
		if !ok || sv.Tombstone {
			continue
		}
		userKey := []byte(enc[1:])
		rows = append(rows, ScanResult{Key: Key{RunID: runID, Tag: tag, UserKey: userKey}, Value: sv})
		if limit > 0 && len(rows) >= limit {
			if i+1 < len(keys) {
				nextCursor = enc
			}
			return rows, nextCursor
		}
	}
	return rows, ""
}

// Write is one key's mutation within a to-be-installed transaction.
type Write struct {
	Key       Key
	Payload   []byte
	Tombstone bool
}

// Install atomically links each write's new version onto its key's chain
// and advances the global watermark to version. Callers (the transaction
// manager, recovery replay) must already hold whatever serialization is
// needed so version is applied in increasing order.
func (s *Substrate) Install(version Version, timeMicro int64, writes []Write) {
	for _, w := range writes {
		rs := s.shard(w.Key.RunID)
		c := rs.getOrCreateChain(w.Key.encode())
		c.prepend(StoredValue{Payload: w.Payload, Version: version, TimeMicro: timeMicro, Tombstone: w.Tombstone})
	}
	if version.Kind == VersionTxn && version.N > s.watermark.Load() {
		s.watermark.Store(version.N)
	}
}

// chainRef pairs a key with its version chain, for full enumeration during
// compaction (not exported: compaction.go lives in this package).
type chainRef struct {
	Key   Key
	Chain *versionChain
}

// chainsForTag enumerates every chain under (runID, tag), in key order.
func (s *Substrate) chainsForTag(runID string, tag PrimitiveTag) []chainRef {
	rs := s.shard(runID)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	tagByte := byte(tag)
	var out []chainRef
	for _, enc := range rs.sortedKeys {
		if len(enc) == 0 || enc[0] != tagByte {
			continue
		}
		out = append(out, chainRef{
			Key:   Key{RunID: runID, Tag: tag, UserKey: []byte(enc[1:])},
			Chain: rs.index[enc],
		})
	}
	return out
}

// replaceChainHead swaps in a new newest-first node chain built from
// retained, discarding everything not in it. Callers must ensure no
// transaction is concurrently committing against this run.
func replaceChainHead(c *versionChain, retained []StoredValue) {
	var head *chainNode
	for i := len(retained) - 1; i >= 0; i-- {
		head = &chainNode{sv: retained[i], next: head}
	}
	c.head.Store(head)
}

// ForceWatermark sets the commit watermark directly, used only by recovery
// to pin it to a snapshot's recorded wal_watermark even if the snapshot's
// own entries happen to carry a lower maximum version.
func (s *Substrate) ForceWatermark(w uint64) {
	s.watermark.Store(w)
}

// ListRunIDs returns every run id with at least one key in the substrate,
// sorted. This is the one scan that deliberately crosses run boundaries;
// it backs the run registry's cross-run listing.
func (s *Substrate) ListRunIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.runs))
	for id, rs := range s.runs {
		rs.mu.RLock()
		n := len(rs.sortedKeys)
		rs.mu.RUnlock()
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// DropRun discards every key belonging to runID. Used by run deletion.
func (s *Substrate) DropRun(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

var errRunNotFound = errs.New(errs.NotFound, "storage.Substrate", "run not found")
