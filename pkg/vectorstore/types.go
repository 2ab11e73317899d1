package vectorstore

import (
	"github.com/cuemby/strata/pkg/value"
)

// VectorID identifies one embedding within a collection's heap. Ids are
// monotonic and never reused within a collection's lifetime; deleting a
// vector returns its heap slot to the free-slot pool, not its id
// (spec.md §4.8's I6).
type VectorID uint64

// DistanceMetric selects how two embeddings are compared; Search always
// converts the backend's raw distance into a similarity score where
// higher is better.
type DistanceMetric byte

const (
	MetricCosine DistanceMetric = iota
	MetricEuclidean
	MetricDotProduct
)

func (m DistanceMetric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDotProduct:
		return "dot_product"
	default:
		return "unknown"
	}
}

func ParseMetric(s string) (DistanceMetric, bool) {
	switch s {
	case "cosine":
		return MetricCosine, true
	case "euclidean":
		return MetricEuclidean, true
	case "dot_product":
		return MetricDotProduct, true
	default:
		return 0, false
	}
}

// StorageDtype is the embedding element type. F32 is the only in-scope
// value (spec.md §4.8).
type StorageDtype byte

const DtypeF32 StorageDtype = 0

// CollectionConfig is immutable once create_collection succeeds.
type CollectionConfig struct {
	Dimension    int
	Metric       DistanceMetric
	StorageDtype StorageDtype
	CreatedAt    int64
}

// VectorRecord is the per-user-key bookkeeping the spec describes as "a
// KV record per user key": the assigned VectorID, caller metadata, and
// provenance timestamps/version counter.
type VectorRecord struct {
	ID        VectorID
	Metadata  value.Value
	CreatedAt int64
	UpdatedAt int64
	Version   uint64
}

// VectorMatch is one Search result after the facade re-sorts and
// truncates the backend's candidates.
type VectorMatch struct {
	Key      string
	Score    float64
	Metadata value.Value
}

// MetadataFilter is an AND conjunction of equality predicates over JSON
// scalar metadata fields (spec.md §4.8). Extended predicates are out of
// scope.
type MetadataFilter map[string]value.Value

// Matches reports whether every predicate in f holds against meta.
func (f MetadataFilter) Matches(meta value.Value) bool {
	if len(f) == 0 {
		return true
	}
	obj, ok := meta.AsObject()
	if !ok {
		return false
	}
	for k, want := range f {
		got, ok := obj[k]
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}
