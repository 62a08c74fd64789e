// Package vectorindex implements the in-memory nearest-neighbour index (C3):
// partitioned by namespace (the user table name), each partition holding its
// own internal-id counter and id map, searched by ascending L2 distance.
//
// Grounded on the teacher's adapter/memory/vector/vecindex.go — a mutex-
// protected id→embedding map with lazy load and put/remove/cosine-scan — but
// generalized to multiple namespace partitions and L2 distance per this
// engine's contract, rather than a single global cosine-similarity index.
package vectorindex

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dataengine/core/internal/domain"
)

// Dimensions is the fixed vector width every partition enforces.
const Dimensions = 384

type entry struct {
	internalID  uint64
	embeddingID string
	vec         []float32
}

type partition struct {
	nextID      uint64
	byInternal  map[uint64]*entry
	byEmbedding map[string]uint64 // embeddingID -> internalID
}

func newPartition() *partition {
	return &partition{
		byInternal:  make(map[uint64]*entry),
		byEmbedding: make(map[string]uint64),
	}
}

// Index is the process-wide vector index singleton, namespace-partitioned.
type Index struct {
	mu         sync.Mutex
	partitions map[string]*partition
}

// New creates an empty vector index.
func New() *Index {
	return &Index{partitions: make(map[string]*partition)}
}

// Add assigns the next internal id within namespace ns and inserts vec,
// mapping internal id to embeddingID. Fails with domain.ErrDimMismatch if
// len(vec) != Dimensions.
func (idx *Index) Add(ns, embeddingID string, vec []float32) error {
	if len(vec) != Dimensions {
		return domain.NewSubSystemError("vectorindex", "Index.Add", domain.ErrDimMismatch,
			dimMismatchDetail(len(vec)))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	p := idx.partitions[ns]
	if p == nil {
		p = newPartition()
		idx.partitions[ns] = p
	}
	idx.removeLocked(p, embeddingID)

	id := p.nextID
	p.nextID++
	cp := make([]float32, len(vec))
	copy(cp, vec)
	p.byInternal[id] = &entry{internalID: id, embeddingID: embeddingID, vec: cp}
	p.byEmbedding[embeddingID] = id
	return nil
}

// Update replaces any prior entry for embeddingID in namespace ns with vec.
func (idx *Index) Update(ns, embeddingID string, vec []float32) error {
	return idx.Add(ns, embeddingID, vec)
}

// Remove unmaps and deletes embeddingID from namespace ns. No-op if absent.
func (idx *Index) Remove(ns, embeddingID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p := idx.partitions[ns]
	if p == nil {
		return
	}
	idx.removeLocked(p, embeddingID)
}

func (idx *Index) removeLocked(p *partition, embeddingID string) {
	if internalID, ok := p.byEmbedding[embeddingID]; ok {
		delete(p.byInternal, internalID)
		delete(p.byEmbedding, embeddingID)
	}
}

// SearchResult is one scored match returned by Search.
type SearchResult struct {
	EmbeddingID string
	Distance    float32
}

// Search returns up to k embedding ids in namespace ns ordered by ascending
// L2 distance to queryVec. Returns empty when the namespace is absent.
func (idx *Index) Search(ns string, queryVec []float32, k int) []SearchResult {
	idx.mu.Lock()
	p := idx.partitions[ns]
	if p == nil || len(p.byInternal) == 0 {
		idx.mu.Unlock()
		return nil
	}
	candidates := make([]SearchResult, 0, len(p.byInternal))
	for _, e := range p.byInternal {
		candidates = append(candidates, SearchResult{
			EmbeddingID: e.embeddingID,
			Distance:    l2Distance(queryVec, e.vec),
		})
	}
	idx.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// Size returns the number of entries in namespace ns.
func (idx *Index) Size(ns string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p := idx.partitions[ns]
	if p == nil {
		return 0
	}
	return len(p.byInternal)
}

func l2Distance(a, b []float32) float32 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

func dimMismatchDetail(got int) string {
	return fmt.Sprintf("want %d dims got %d", Dimensions, got)
}
