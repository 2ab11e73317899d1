package vectorstore

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/value"
)

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendI64(buf []byte, v int64) []byte { return appendU64(buf, uint64(v)) }

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte { return appendBytes(buf, []byte(s)) }

func appendFloats(buf []byte, fs []float32) []byte {
	buf = appendU32(buf, uint32(len(fs)))
	for _, f := range fs {
		buf = appendU32(buf, math.Float32bits(f))
	}
	return buf
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errs.New(errs.Serialization, "vectorstore.takeU32", "short read")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func takeU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errs.New(errs.Serialization, "vectorstore.takeU64", "short read")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func takeI64(b []byte) (int64, []byte, error) {
	v, rest, err := takeU64(b)
	return int64(v), rest, err
}

func takeByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, errs.New(errs.Serialization, "vectorstore.takeByte", "short read")
	}
	return b[0], b[1:], nil
}

func takeBytes(b []byte, n int) ([]byte, []byte, error) {
	if len(b) < n {
		return nil, nil, errs.New(errs.Serialization, "vectorstore.takeBytes", "short read")
	}
	return b[:n], b[n:], nil
}

func takeString(b []byte) (string, []byte, error) {
	n, r, err := takeU32(b)
	if err != nil {
		return "", nil, err
	}
	raw, r, err := takeBytes(r, int(n))
	if err != nil {
		return "", nil, err
	}
	return string(raw), r, nil
}

func takeFloats(b []byte) ([]float32, []byte, error) {
	n, r, err := takeU32(b)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float32, n)
	for i := range out {
		var bits uint32
		bits, r, err = takeU32(r)
		if err != nil {
			return nil, nil, err
		}
		out[i] = math.Float32frombits(bits)
	}
	return out, r, nil
}

// --- WAL record bodies ---

func encodeCollectionCreateBody(name string, cfg CollectionConfig) []byte {
	buf := appendString(nil, name)
	buf = appendU32(buf, uint32(cfg.Dimension))
	buf = append(buf, byte(cfg.Metric))
	buf = append(buf, byte(cfg.StorageDtype))
	buf = appendI64(buf, cfg.CreatedAt)
	return buf
}

func decodeCollectionCreateBody(b []byte) (string, CollectionConfig, error) {
	name, r, err := takeString(b)
	if err != nil {
		return "", CollectionConfig{}, err
	}
	dim, r, err := takeU32(r)
	if err != nil {
		return "", CollectionConfig{}, err
	}
	metric, r, err := takeByte(r)
	if err != nil {
		return "", CollectionConfig{}, err
	}
	dtype, r, err := takeByte(r)
	if err != nil {
		return "", CollectionConfig{}, err
	}
	createdAt, _, err := takeI64(r)
	if err != nil {
		return "", CollectionConfig{}, err
	}
	return name, CollectionConfig{
		Dimension:    int(dim),
		Metric:       DistanceMetric(metric),
		StorageDtype: StorageDtype(dtype),
		CreatedAt:    createdAt,
	}, nil
}

func encodeCollectionDeleteBody(name string) []byte {
	return appendString(nil, name)
}

func decodeCollectionDeleteBody(b []byte) (string, error) {
	name, _, err := takeString(b)
	return name, err
}

func encodeUpsertBody(collection, userKey string, id VectorID, emb []float32, rec VectorRecord) ([]byte, error) {
	canonical, err := value.MarshalJSON(rec.Metadata)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, "vectorstore.encodeUpsertBody", "canonicalizing metadata", err)
	}
	buf := appendString(nil, collection)
	buf = appendString(buf, userKey)
	buf = appendU64(buf, uint64(id))
	buf = appendFloats(buf, emb)
	buf = appendBytes(buf, canonical)
	buf = appendI64(buf, rec.CreatedAt)
	buf = appendI64(buf, rec.UpdatedAt)
	buf = appendU64(buf, rec.Version)
	return buf, nil
}

type decodedUpsert struct {
	Collection string
	UserKey    string
	ID         VectorID
	Embedding  []float32
	Record     VectorRecord
}

func decodeUpsertBody(b []byte) (decodedUpsert, error) {
	collection, r, err := takeString(b)
	if err != nil {
		return decodedUpsert{}, err
	}
	userKey, r, err := takeString(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	idRaw, r, err := takeU64(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	emb, r, err := takeFloats(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	metaLen, r, err := takeU32(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	metaRaw, r, err := takeBytes(r, int(metaLen))
	if err != nil {
		return decodedUpsert{}, err
	}
	meta, err := value.UnmarshalJSON(metaRaw)
	if err != nil {
		return decodedUpsert{}, errs.Wrap(errs.Serialization, "vectorstore.decodeUpsertBody", "decoding metadata", err)
	}
	createdAt, r, err := takeI64(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	updatedAt, r, err := takeI64(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	version, _, err := takeU64(r)
	if err != nil {
		return decodedUpsert{}, err
	}
	return decodedUpsert{
		Collection: collection,
		UserKey:    userKey,
		ID:         VectorID(idRaw),
		Embedding:  emb,
		Record: VectorRecord{
			ID:        VectorID(idRaw),
			Metadata:  meta,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
			Version:   version,
		},
	}, nil
}

func encodeDeleteBody(collection, userKey string, id VectorID) []byte {
	buf := appendString(nil, collection)
	buf = appendString(buf, userKey)
	buf = appendU64(buf, uint64(id))
	return buf
}

type decodedDelete struct {
	Collection string
	UserKey    string
	ID         VectorID
}

func decodeDeleteBody(b []byte) (decodedDelete, error) {
	collection, r, err := takeString(b)
	if err != nil {
		return decodedDelete{}, err
	}
	userKey, r, err := takeString(r)
	if err != nil {
		return decodedDelete{}, err
	}
	idRaw, _, err := takeU64(r)
	if err != nil {
		return decodedDelete{}, err
	}
	return decodedDelete{Collection: collection, UserKey: userKey, ID: VectorID(idRaw)}, nil
}

// --- full-state snapshot blob ---
//
// u32 runCount
//   runID, u32 collectionCount
//     name, dimension(u32), metric(byte), dtype(byte), createdAt(i64)
//     heap: nextID(u64), u32 freeSlotCount + freeSlots(u32 each)
//           u32 vectorCount + [id(u64), embedding]...
//     u32 keyCount + [userKey, VectorID(u64), metadata, createdAt(i64), updatedAt(i64), version(u64)]...
//
// Every map is iterated in sorted key order so two checkpoints of
// identical state produce byte-identical blobs.
func encodeSnapshotBlob(runs map[string]map[string]*collectionState) ([]byte, error) {
	var buf []byte
	runIDs := make([]string, 0, len(runs))
	for runID := range runs {
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)

	buf = appendU32(buf, uint32(len(runIDs)))
	for _, runID := range runIDs {
		cols := runs[runID]
		names := make([]string, 0, len(cols))
		for name := range cols {
			names = append(names, name)
		}
		sort.Strings(names)

		buf = appendString(buf, runID)
		buf = appendU32(buf, uint32(len(names)))
		for _, name := range names {
			cs := cols[name]
			buf = appendString(buf, name)
			buf = appendU32(buf, uint32(cs.config.Dimension))
			buf = append(buf, byte(cs.config.Metric))
			buf = append(buf, byte(cs.config.StorageDtype))
			buf = appendI64(buf, cs.config.CreatedAt)

			buf = appendU64(buf, cs.backend.NextID())
			freeSlots := cs.backend.FreeSlots()
			buf = appendU32(buf, uint32(len(freeSlots)))
			for _, s := range freeSlots {
				buf = appendU32(buf, uint32(s))
			}

			ids := sortedBackendIDs(cs.backend)
			buf = appendU32(buf, uint32(len(ids)))
			for _, id := range ids {
				emb, _ := cs.backend.Get(id)
				buf = appendU64(buf, uint64(id))
				buf = appendFloats(buf, emb)
			}

			keys := make([]string, 0, len(cs.keys))
			for k := range cs.keys {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			buf = appendU32(buf, uint32(len(keys)))
			for _, k := range keys {
				rec := cs.keys[k]
				canonical, err := value.MarshalJSON(rec.Metadata)
				if err != nil {
					return nil, errs.Wrap(errs.Serialization, "vectorstore.encodeSnapshotBlob", "canonicalizing metadata", err)
				}
				buf = appendString(buf, k)
				buf = appendU64(buf, uint64(rec.ID))
				buf = appendBytes(buf, canonical)
				buf = appendI64(buf, rec.CreatedAt)
				buf = appendI64(buf, rec.UpdatedAt)
				buf = appendU64(buf, rec.Version)
			}
		}
	}
	return buf, nil
}

func sortedBackendIDs(b VectorIndexBackend) []VectorID {
	if bf, ok := b.(*bruteForceBackend); ok {
		return bf.heap.sortedIDs()
	}
	return nil
}

func decodeSnapshotBlob(b []byte) (map[string]map[string]*collectionState, error) {
	runs := make(map[string]map[string]*collectionState)
	if len(b) == 0 {
		return runs, nil
	}
	runCount, r, err := takeU32(b)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < runCount; i++ {
		runID, rest, err := takeString(r)
		if err != nil {
			return nil, err
		}
		r = rest
		colCount, rest, err := takeU32(r)
		if err != nil {
			return nil, err
		}
		r = rest
		cols := make(map[string]*collectionState, colCount)
		for j := uint32(0); j < colCount; j++ {
			name, rest, err := takeString(r)
			if err != nil {
				return nil, err
			}
			r = rest
			dim, rest, err := takeU32(r)
			if err != nil {
				return nil, err
			}
			r = rest
			metric, rest, err := takeByte(r)
			if err != nil {
				return nil, err
			}
			r = rest
			dtype, rest, err := takeByte(r)
			if err != nil {
				return nil, err
			}
			r = rest
			createdAt, rest, err := takeI64(r)
			if err != nil {
				return nil, err
			}
			r = rest

			cfg := CollectionConfig{Dimension: int(dim), Metric: DistanceMetric(metric), StorageDtype: StorageDtype(dtype), CreatedAt: createdAt}
			cs := newCollectionState(cfg)

			nextID, rest, err := takeU64(r)
			if err != nil {
				return nil, err
			}
			r = rest
			freeCount, rest, err := takeU32(r)
			if err != nil {
				return nil, err
			}
			r = rest
			freeSlots := make([]int, freeCount)
			for k := range freeSlots {
				var v uint32
				v, rest, err = takeU32(r)
				if err != nil {
					return nil, err
				}
				r = rest
				freeSlots[k] = int(v)
			}

			vecCount, rest, err := takeU32(r)
			if err != nil {
				return nil, err
			}
			r = rest
			for k := uint32(0); k < vecCount; k++ {
				idRaw, rest2, err := takeU64(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				emb, rest2, err := takeFloats(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				cs.backend.Insert(VectorID(idRaw), emb)
			}
			cs.backend.RestoreHeapState(nextID, freeSlots)

			keyCount, rest, err := takeU32(r)
			if err != nil {
				return nil, err
			}
			r = rest
			for k := uint32(0); k < keyCount; k++ {
				userKey, rest2, err := takeString(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				idRaw, rest2, err := takeU64(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				metaLen, rest2, err := takeU32(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				metaRaw, rest2, err := takeBytes(r, int(metaLen))
				if err != nil {
					return nil, err
				}
				r = rest2
				meta, err := value.UnmarshalJSON(metaRaw)
				if err != nil {
					return nil, errs.Wrap(errs.Serialization, "vectorstore.decodeSnapshotBlob", "decoding metadata", err)
				}
				createdAt, rest2, err := takeI64(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				updatedAt, rest2, err := takeI64(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				version, rest2, err := takeU64(r)
				if err != nil {
					return nil, err
				}
				r = rest2
				cs.keys[userKey] = VectorRecord{ID: VectorID(idRaw), Metadata: meta, CreatedAt: createdAt, UpdatedAt: updatedAt, Version: version}
			}

			cols[name] = cs
		}
		runs[runID] = cols
	}
	return runs, nil
}
