package vectorstore

import (
	"math"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
)

// VectorIndexBackend is the closed extension seam spec.md §4.8 reserves
// for a future HNSW implementation; M8 ships only the brute-force linear
// scan below. A factory keeps the store from depending on the concrete
// type.
type VectorIndexBackend interface {
	Insert(id VectorID, emb []float32)
	Delete(id VectorID) bool
	Search(query []float32, k int) []scoredID
	Len() int
	Dimension() int
	Metric() DistanceMetric
	Get(id VectorID) ([]float32, bool)
	Contains(id VectorID) bool
	AllocateID() VectorID
	NextID() uint64
	FreeSlots() []int
	RestoreHeapState(nextID uint64, freeSlots []int)
}

// scoredID is a backend-internal candidate before the facade maps ids
// back onto user keys.
type scoredID struct {
	ID    VectorID
	Score float64
}

// newBackend is the backend factory: today it always returns a
// brute-force scanner, the only implementation spec.md §4.8 puts in
// scope.
func newBackend(dimension int, metric DistanceMetric) VectorIndexBackend {
	return &bruteForceBackend{heap: newHeap(dimension), metric: metric}
}

type bruteForceBackend struct {
	heap   *heap
	metric DistanceMetric
}

func (b *bruteForceBackend) Insert(id VectorID, emb []float32) { b.heap.insert(id, emb) }
func (b *bruteForceBackend) Delete(id VectorID) bool           { return b.heap.delete(id) }
func (b *bruteForceBackend) Len() int                          { return b.heap.len() }
func (b *bruteForceBackend) Dimension() int                    { return b.heap.dimension }
func (b *bruteForceBackend) Metric() DistanceMetric            { return b.metric }
func (b *bruteForceBackend) Get(id VectorID) ([]float32, bool) { return b.heap.get(id) }
func (b *bruteForceBackend) Contains(id VectorID) bool         { return b.heap.contains(id) }
func (b *bruteForceBackend) AllocateID() VectorID              { return b.heap.allocateID() }
func (b *bruteForceBackend) NextID() uint64                    { return b.heap.nextID }
func (b *bruteForceBackend) FreeSlots() []int                  { return append([]int(nil), b.heap.freeSlots...) }

func (b *bruteForceBackend) RestoreHeapState(nextID uint64, freeSlots []int) {
	b.heap.nextID = nextID
	b.heap.freeSlots = append([]int(nil), freeSlots...)
}

// Search computes similarity against every live vector and returns the
// top-k' candidates, backend-ordered: score desc, then VectorId asc
// (spec.md §4.8 step 5). k' may exceed k; the facade truncates after
// filtering.
func (b *bruteForceBackend) Search(query []float32, kPrime int) []scoredID {
	ids := b.heap.sortedIDs()
	candidates := make([]scoredID, 0, len(ids))
	for _, id := range ids {
		emb, _ := b.heap.get(id)
		candidates = append(candidates, scoredID{ID: id, Score: similarity(b.metric, query, emb)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if kPrime > 0 && len(candidates) > kPrime {
		candidates = candidates[:kPrime]
	}
	return candidates
}

// similarity converts a metric's raw comparison into a higher-is-better
// score per spec.md §4.8 step 3.
func similarity(metric DistanceMetric, a, b []float32) float64 {
	switch metric {
	case MetricCosine:
		dot, na, nb := dotAndNorms(a, b)
		if na == 0 || nb == 0 {
			return 0.0
		}
		return dot / (na * nb)
	case MetricEuclidean:
		return 1.0 / (1.0 + euclideanDistance(a, b))
	case MetricDotProduct:
		dot, _, _ := dotAndNorms(a, b)
		return dot
	default:
		return 0.0
	}
}

func dotAndNorms(a, b []float32) (dot, normA, normB float64) {
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	return dot, math.Sqrt(normA), math.Sqrt(normB)
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func validateDimension(query []float32, dimension int) error {
	if len(query) != dimension {
		return errs.New(errs.DimensionMismatch, "vectorstore.validateDimension", "embedding length does not match collection dimension")
	}
	return nil
}
