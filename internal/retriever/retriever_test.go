package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/storage/memory"
)

const dim = 4

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e *fixedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int { return dim }

func record(chunkID, docID string, page int, snippet string, vector []float32) domain.EmbeddingRecord {
	return domain.EmbeddingRecord{
		ChunkID:    chunkID,
		DocumentID: docID,
		Page:       page,
		Snippet:    snippet,
		Vector:     vector,
	}
}

func seedIndex(t *testing.T, idx *memory.Index, docID, run string, records []domain.EmbeddingRecord) {
	t.Helper()
	ctx := context.Background()
	if err := idx.ReplaceDocument(ctx, docID, run, records); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	if err := idx.PutMeta(ctx, &domain.DocumentMeta{
		DocumentID: docID,
		Status:     domain.StatusIndexed,
		IndexRun:   run,
		ChunkCount: len(records),
	}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
}

func TestRetrieve_OrderedByScore(t *testing.T) {
	idx := memory.New(dim)
	seedIndex(t, idx, "doc", "run-1", []domain.EmbeddingRecord{
		record("c1", "doc", 1, "weak match", []float32{0, 1, 0, 0}),
		record("c2", "doc", 2, "strong match", []float32{1, 0, 0, 0}),
		record("c3", "doc", 3, "medium match", []float32{1, 1, 0, 0}),
	})
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 5, nil)

	results, err := r.Retrieve(context.Background(), "query", 0, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Snippet != "strong match" {
		t.Errorf("expected strongest hit first, got %q", results[0].Snippet)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score at %d", i)
		}
	}
}

func TestRetrieve_DedupByPageAndSnippet(t *testing.T) {
	// Overlapping windows can store the same snippet on the same page under
	// different chunk IDs; only one may survive.
	idx := memory.New(dim)
	seedIndex(t, idx, "doc", "run-1", []domain.EmbeddingRecord{
		record("c1", "doc", 4, "repeated passage", []float32{1, 0, 0, 0}),
		record("c2", "doc", 4, "repeated passage", []float32{0.9, 0.1, 0, 0}),
		record("c3", "doc", 4, "distinct passage", []float32{0.5, 0.5, 0, 0}),
		record("c4", "doc", 5, "repeated passage", []float32{0.4, 0.6, 0, 0}),
	})
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 5, nil)

	results, err := r.Retrieve(context.Background(), "query", 0, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results after dedup, got %d", len(results))
	}
	seen := 0
	for _, res := range results {
		if res.Page == 4 && res.Snippet == "repeated passage" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("expected exactly 1 (page 4, repeated passage) hit, got %d", seen)
	}
	// Same snippet on a different page is a distinct citation.
	foundPage5 := false
	for _, res := range results {
		if res.Page == 5 {
			foundPage5 = true
		}
	}
	if !foundPage5 {
		t.Error("page 5 duplicate snippet wrongly deduplicated")
	}
}

func TestRetrieve_TopKCap(t *testing.T) {
	idx := memory.New(dim)
	var records []domain.EmbeddingRecord
	for i := range 10 {
		records = append(records, record(
			string(rune('a'+i)), "doc", i+1, string(rune('a'+i)), []float32{1, float32(i) * 0.01, 0, 0}))
	}
	seedIndex(t, idx, "doc", "run-1", records)
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 3, nil)

	results, err := r.Retrieve(context.Background(), "query", 0, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected topK=3 results, got %d", len(results))
	}
}

func TestRetrieve_ScopeRestriction(t *testing.T) {
	idx := memory.New(dim)
	seedIndex(t, idx, "doc-a", "run-a", []domain.EmbeddingRecord{
		record("a1", "doc-a", 1, "from doc a", []float32{1, 0, 0, 0}),
	})
	seedIndex(t, idx, "doc-b", "run-b", []domain.EmbeddingRecord{
		record("b1", "doc-b", 1, "from doc b", []float32{1, 0, 0, 0}),
	})
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 5, nil)

	scopes := []domain.DocumentScope{{DocumentID: "doc-b", IndexRun: "run-b"}}
	results, err := r.Retrieve(context.Background(), "query", 0, scopes)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc-b" {
		t.Errorf("scope restriction violated: %+v", results)
	}
}

func TestRetrieve_StaleRunInvisible(t *testing.T) {
	// Records staged under a run that was never published must not surface.
	idx := memory.New(dim)
	seedIndex(t, idx, "doc", "run-live", []domain.EmbeddingRecord{
		record("c1", "doc", 1, "live", []float32{1, 0, 0, 0}),
	})
	if err := idx.ReplaceDocument(context.Background(), "doc", "run-staged", []domain.EmbeddingRecord{
		record("c2", "doc", 1, "staged", []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("stage records: %v", err)
	}

	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 5, nil)

	results, err := r.Retrieve(context.Background(), "query", 0, nil)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, res := range results {
		if res.Snippet == "staged" {
			t.Error("unpublished run leaked into search results")
		}
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	idx := memory.New(dim)
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	r := New(emb, idx, idx, nil, 5, nil)

	results, err := r.Retrieve(context.Background(), "query", 0, nil)
	if err != nil {
		t.Fatalf("empty corpus should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRetrieve_EmbedFailureIsFatal(t *testing.T) {
	idx := memory.New(dim)
	seedIndex(t, idx, "doc", "run-1", []domain.EmbeddingRecord{
		record("c1", "doc", 1, "text", []float32{1, 0, 0, 0}),
	})
	emb := &fixedEmbedder{err: errors.New("embedding service down")}
	r := New(emb, idx, idx, nil, 5, nil)

	if _, err := r.Retrieve(context.Background(), "query", 0, nil); err == nil {
		t.Error("expected error when query embedding fails")
	}
}
