// Package memory is a brute-force in-memory vector index and metadata store.
// It implements the same staged-run contract as the Qdrant backend and is
// used in unit tests and for small corpora that don't warrant a server.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/storage"
)

type storedRecord struct {
	domain.EmbeddingRecord
	run      string
	sequence int // insertion order, for stable tie-breaking
}

// Index is a thread-safe in-memory implementation of domain.VectorIndex and
// domain.MetadataStore.
type Index struct {
	mu        sync.RWMutex
	dimension int
	sequence  int
	records   map[string][]storedRecord // documentID -> records, all runs
	metas     map[string]domain.DocumentMeta
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		records:   make(map[string][]storedRecord),
		metas:     make(map[string]domain.DocumentMeta),
	}
}

// Dimension returns the vector length the index accepts.
func (x *Index) Dimension() int { return x.dimension }

// ReplaceDocument stages records under run without touching earlier runs.
func (x *Index) ReplaceDocument(ctx context.Context, documentID, run string, records []domain.EmbeddingRecord) error {
	for i, rec := range records {
		if len(rec.Vector) != x.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				storage.ErrDimensionMismatch, i, len(rec.Vector), x.dimension)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, rec := range records {
		x.sequence++
		x.records[documentID] = append(x.records[documentID], storedRecord{
			EmbeddingRecord: rec,
			run:             run,
			sequence:        x.sequence,
		})
	}
	return nil
}

// DeleteRun removes a run's records for a document.
func (x *Index) DeleteRun(ctx context.Context, documentID, run string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.filterRecords(documentID, func(r storedRecord) bool { return r.run != run })
	return nil
}

// PruneRuns keeps only keepRun's records for a document.
func (x *Index) PruneRuns(ctx context.Context, documentID, keepRun string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.filterRecords(documentID, func(r storedRecord) bool { return r.run == keepRun })
	return nil
}

// Remove deletes every record for a document.
func (x *Index) Remove(ctx context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.records, documentID)
	return nil
}

func (x *Index) filterRecords(documentID string, keep func(storedRecord) bool) {
	kept := x.records[documentID][:0]
	for _, r := range x.records[documentID] {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(x.records, documentID)
		return
	}
	x.records[documentID] = kept
}

// Search scores every scoped record by cosine similarity and returns the topK
// best, ties broken by insertion order.
func (x *Index) Search(ctx context.Context, vector []float32, topK int, scopes []domain.DocumentScope) ([]domain.ScoredRecord, error) {
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(vector), x.dimension)
	}
	if topK <= 0 || len(scopes) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var scored []struct {
		rec   storedRecord
		score float64
	}
	for _, scope := range scopes {
		for _, r := range x.records[scope.DocumentID] {
			if r.run != scope.IndexRun {
				continue
			}
			scored = append(scored, struct {
				rec   storedRecord
				score float64
			}{r, cosine(vector, r.Vector)})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].rec.sequence < scored[j].rec.sequence
	})

	if topK > len(scored) {
		topK = len(scored)
	}
	results := make([]domain.ScoredRecord, 0, topK)
	for _, s := range scored[:topK] {
		results = append(results, domain.ScoredRecord{
			EmbeddingRecord: s.rec.EmbeddingRecord,
			Score:           s.score,
		})
	}
	return results, nil
}

// GetMeta returns a document's metadata, or nil when absent.
func (x *Index) GetMeta(ctx context.Context, documentID string) (*domain.DocumentMeta, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	meta, ok := x.metas[documentID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// PutMeta stores a document's metadata.
func (x *Index) PutMeta(ctx context.Context, meta *domain.DocumentMeta) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.metas[meta.DocumentID] = *meta
	return nil
}

// ListMeta returns all metadata records, ordered by document ID.
func (x *Index) ListMeta(ctx context.Context) ([]*domain.DocumentMeta, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.metas))
	for id := range x.metas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	metas := make([]*domain.DocumentMeta, 0, len(ids))
	for _, id := range ids {
		meta := x.metas[id]
		metas = append(metas, &meta)
	}
	return metas, nil
}

// DeleteMeta removes a document's metadata.
func (x *Index) DeleteMeta(ctx context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.metas, documentID)
	return nil
}

func cosine(a []float32, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
