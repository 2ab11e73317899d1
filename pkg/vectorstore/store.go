package vectorstore

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/value"
)

var logger = log.WithComponent("vectorstore")

// MaxSearchK bounds the k a caller may request (spec.md §4.8 step 1's
// "hard cap").
const MaxSearchK = 10000

func currentTimeMicro() int64 { return time.Now().UnixMicro() }

// VectorStore is the per-database handle for the VectorStore primitive.
// It keeps every collection's config, heap, and per-key records entirely
// in memory, guarded by one mutex; storage.TxnManager only gives it a
// shared commit and a WAL position, never Substrate storage.
type VectorStore struct {
	txn *storage.TxnManager

	mu   sync.RWMutex
	runs map[string]map[string]*collectionState
}

// New builds a VectorStore with no collections. Call LoadFromRecovery
// immediately after if the database was reopened.
func New(txn *storage.TxnManager) *VectorStore {
	return &VectorStore{txn: txn, runs: make(map[string]map[string]*collectionState)}
}

// LoadFromRecovery rebuilds the store's state from a database's recovery
// result: the snapshot's Vector section (if any) followed by every
// vector WAL record committed after that snapshot's watermark, in
// ascending txn order.
func (s *VectorStore) LoadFromRecovery(blob []byte, groups []storage.CommittedGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := decodeSnapshotBlob(blob)
	if err != nil {
		return err
	}
	s.runs = runs

	for _, g := range groups {
		for _, rec := range g.Records {
			if err := s.applyRecord(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *VectorStore) applyRecord(rec storage.Record) error {
	switch rec.Type {
	case storage.RecVectorCollectionCreate:
		name, cfg, err := decodeCollectionCreateBody(rec.Body)
		if err != nil {
			return err
		}
		s.ensureRun(rec.RunID)[name] = newCollectionState(cfg)
	case storage.RecVectorCollectionDelete:
		name, err := decodeCollectionDeleteBody(rec.Body)
		if err != nil {
			return err
		}
		delete(s.ensureRun(rec.RunID), name)
	case storage.RecVectorUpsert:
		d, err := decodeUpsertBody(rec.Body)
		if err != nil {
			return err
		}
		cs, ok := s.ensureRun(rec.RunID)[d.Collection]
		if !ok {
			return errs.New(errs.Internal, "vectorstore.applyRecord", "upsert record for unknown collection during replay")
		}
		cs.backend.Insert(d.ID, d.Embedding)
		cs.keys[d.UserKey] = d.Record
	case storage.RecVectorDelete:
		d, err := decodeDeleteBody(rec.Body)
		if err != nil {
			return err
		}
		cs, ok := s.ensureRun(rec.RunID)[d.Collection]
		if !ok {
			return nil
		}
		cs.backend.Delete(d.ID)
		delete(cs.keys, d.UserKey)
	}
	return nil
}

func (s *VectorStore) ensureRun(run string) map[string]*collectionState {
	cols, ok := s.runs[run]
	if !ok {
		cols = make(map[string]*collectionState)
		s.runs[run] = cols
	}
	return cols
}

// SnapshotSection builds the Vector section for storage.Database.Checkpoint.
func (s *VectorStore) SnapshotSection() (storage.SnapshotSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, err := encodeSnapshotBlob(s.runs)
	if err != nil {
		return storage.SnapshotSection{}, err
	}
	return storage.SnapshotSection{Tag: storage.TagVector, Blob: blob}, nil
}

// CreateCollection validates name, rejects a duplicate with
// CollectionAlreadyExists, and commits a COLLECTION_CREATE record.
func (s *VectorStore) CreateCollection(run, name string, dimension int, metric DistanceMetric) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return errs.New(errs.InvalidInput, "vectorstore.CreateCollection", "dimension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cols := s.ensureRun(run)
	if _, exists := cols[name]; exists {
		return errs.New(errs.CollectionAlreadyExists, "vectorstore.CreateCollection", "collection already exists").WithDetails("name", name)
	}

	cfg := CollectionConfig{Dimension: dimension, Metric: metric, StorageDtype: DtypeF32, CreatedAt: currentTimeMicro()}
	body := encodeCollectionCreateBody(name, cfg)

	txn := s.txn.Begin(run)
	txn.AddSideEffect(run, storage.RecVectorCollectionCreate, body, func(storage.Version, int64) {
		cols[name] = newCollectionState(cfg)
	})
	_, err := s.txn.Commit(txn)
	if err == nil {
		log.WithCollection(log.WithRun(logger, run), name).Info().Int("dimension", dimension).Msg("collection created")
	}
	return err
}

// DeleteCollection cascade-deletes every vector record in name and drops
// it from the cache, committing a COLLECTION_DELETE record.
func (s *VectorStore) DeleteCollection(run, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols := s.ensureRun(run)
	if _, exists := cols[name]; !exists {
		return errs.New(errs.CollectionNotFound, "vectorstore.DeleteCollection", "collection not found").WithDetails("name", name)
	}

	body := encodeCollectionDeleteBody(name)
	txn := s.txn.Begin(run)
	txn.AddSideEffect(run, storage.RecVectorCollectionDelete, body, func(storage.Version, int64) {
		delete(cols, name)
	})
	_, err := s.txn.Commit(txn)
	if err == nil {
		log.WithCollection(log.WithRun(logger, run), name).Info().Msg("collection deleted")
	}
	return err
}

// ListCollections is read-only: it must never write the WAL.
func (s *VectorStore) ListCollections(run string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols := s.runs[run]
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCollection is read-only: it must never write the WAL.
func (s *VectorStore) GetCollection(run, name string) (CollectionConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.runs[run][name]
	if !ok {
		return CollectionConfig{}, false
	}
	return cs.config, true
}

// Upsert validates user_key and embedding length, reuses user_key's
// existing VectorID if present, otherwise allocates a new one, and
// commits a VECTOR_UPSERT record that carries the VectorID so replay is
// deterministic.
func (s *VectorStore) Upsert(run, collection, userKey string, embedding []float32, metadata value.Value) (VectorID, error) {
	if err := validateUserKey(userKey); err != nil {
		return 0, err
	}
	if metadata.IsNull() {
		metadata = value.Object(nil)
	} else if _, ok := metadata.AsObject(); !ok {
		return 0, errs.New(errs.InvalidInput, "vectorstore.Upsert", "metadata must be an Object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cols := s.ensureRun(run)
	cs, ok := cols[collection]
	if !ok {
		return 0, errs.New(errs.CollectionNotFound, "vectorstore.Upsert", "collection not found").WithDetails("name", collection)
	}
	if err := validateDimension(embedding, cs.config.Dimension); err != nil {
		return 0, err
	}

	now := currentTimeMicro()
	existing, hadExisting := cs.keys[userKey]
	var id VectorID
	var rec VectorRecord
	if hadExisting {
		id = existing.ID
		rec = VectorRecord{ID: id, Metadata: metadata, CreatedAt: existing.CreatedAt, UpdatedAt: now, Version: existing.Version + 1}
	} else {
		id = cs.backend.AllocateID()
		rec = VectorRecord{ID: id, Metadata: metadata, CreatedAt: now, UpdatedAt: now, Version: 1}
	}

	body, err := encodeUpsertBody(collection, userKey, id, embedding, rec)
	if err != nil {
		return 0, err
	}

	txn := s.txn.Begin(run)
	txn.AddSideEffect(run, storage.RecVectorUpsert, body, func(storage.Version, int64) {
		cs.backend.Insert(id, embedding)
		cs.keys[userKey] = rec
	})
	if _, err := s.txn.Commit(txn); err != nil {
		return 0, err
	}
	metrics.VectorUpsertsTotal.Inc()
	return id, nil
}

// Delete frees user_key's heap slot and KV record, committing a
// VECTOR_DELETE record.
func (s *VectorStore) Delete(run, collection, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols := s.ensureRun(run)
	cs, ok := cols[collection]
	if !ok {
		return errs.New(errs.CollectionNotFound, "vectorstore.Delete", "collection not found").WithDetails("name", collection)
	}
	rec, ok := cs.keys[userKey]
	if !ok {
		return errs.New(errs.NotFound, "vectorstore.Delete", "vector not found").WithDetails("user_key", userKey)
	}

	body := encodeDeleteBody(collection, userKey, rec.ID)
	txn := s.txn.Begin(run)
	txn.AddSideEffect(run, storage.RecVectorDelete, body, func(storage.Version, int64) {
		cs.backend.Delete(rec.ID)
		delete(cs.keys, userKey)
	})
	_, err := s.txn.Commit(txn)
	return err
}

// Search is read-only: no WAL entries, no counters, no cache writes
// (spec.md §4.8's invariant R10).
func (s *VectorStore) Search(run, collection string, query []float32, k int, filter MetadataFilter) ([]VectorMatch, error) {
	if k == 0 {
		return []VectorMatch{}, nil
	}
	if k < 0 {
		return nil, errs.New(errs.InvalidInput, "vectorstore.Search", "k must be positive")
	}
	if k > MaxSearchK {
		return nil, errs.New(errs.InvalidInput, "vectorstore.Search", "k exceeds the maximum allowed")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VectorSearchDuration, collection)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.runs[run][collection]
	if !ok {
		return nil, errs.New(errs.CollectionNotFound, "vectorstore.Search", "collection not found").WithDetails("name", collection)
	}
	if err := validateDimension(query, cs.config.Dimension); err != nil {
		return nil, err
	}

	kPrime := k
	if len(filter) > 0 {
		kPrime = cs.backend.Len()
	}
	candidates := cs.backend.Search(query, kPrime)

	idToKey := make(map[VectorID]string, len(cs.keys))
	for userKey, rec := range cs.keys {
		idToKey[rec.ID] = userKey
	}

	matches := make([]VectorMatch, 0, len(candidates))
	for _, c := range candidates {
		userKey, ok := idToKey[c.ID]
		if !ok {
			continue
		}
		rec := cs.keys[userKey]
		if !filter.Matches(rec.Metadata) {
			continue
		}
		matches = append(matches, VectorMatch{Key: userKey, Score: c.Score, Metadata: rec.Metadata})
	}

	// Facade ordering (final): score desc, then user_key asc.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
