package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/storage"
)

func rec(chunkID string, vector ...float32) domain.EmbeddingRecord {
	return domain.EmbeddingRecord{
		ChunkID:    chunkID,
		DocumentID: "doc",
		Page:       1,
		Snippet:    chunkID,
		Vector:     vector,
	}
}

func TestSearch_ScoreOrdering(t *testing.T) {
	x := New(2)
	ctx := context.Background()

	err := x.ReplaceDocument(ctx, "doc", "run", []domain.EmbeddingRecord{
		rec("far", 0, 1),
		rec("near", 1, 0),
		rec("mid", 1, 1),
	})
	if err != nil {
		t.Fatalf("ReplaceDocument failed: %v", err)
	}

	hits, err := x.Search(ctx, []float32{1, 0}, 3,
		[]domain.DocumentScope{{DocumentID: "doc", IndexRun: "run"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	want := []string{"near", "mid", "far"}
	for i, h := range hits {
		if h.ChunkID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], h.ChunkID)
		}
	}
}

func TestSearch_TieBreakByInsertionOrder(t *testing.T) {
	x := New(2)
	ctx := context.Background()

	err := x.ReplaceDocument(ctx, "doc", "run", []domain.EmbeddingRecord{
		rec("first", 1, 0),
		rec("second", 1, 0),
		rec("third", 1, 0),
	})
	if err != nil {
		t.Fatalf("ReplaceDocument failed: %v", err)
	}

	hits, err := x.Search(ctx, []float32{1, 0}, 3,
		[]domain.DocumentScope{{DocumentID: "doc", IndexRun: "run"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, h := range hits {
		if h.ChunkID != want[i] {
			t.Errorf("tie-break unstable at %d: expected %s, got %s", i, want[i], h.ChunkID)
		}
	}
}

func TestSearch_ScopedToRun(t *testing.T) {
	x := New(2)
	ctx := context.Background()

	x.ReplaceDocument(ctx, "doc", "run-old", []domain.EmbeddingRecord{rec("old", 1, 0)})
	x.ReplaceDocument(ctx, "doc", "run-new", []domain.EmbeddingRecord{rec("new", 1, 0)})

	hits, err := x.Search(ctx, []float32{1, 0}, 10,
		[]domain.DocumentScope{{DocumentID: "doc", IndexRun: "run-new"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "new" {
		t.Errorf("scope leak: %+v", hits)
	}
}

func TestSearch_NoScopesReturnsNothing(t *testing.T) {
	x := New(2)
	x.ReplaceDocument(context.Background(), "doc", "run", []domain.EmbeddingRecord{rec("a", 1, 0)})

	hits, err := x.Search(context.Background(), []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits without scopes, got %d", len(hits))
	}
}

func TestDimensionMismatch(t *testing.T) {
	x := New(3)
	ctx := context.Background()

	err := x.ReplaceDocument(ctx, "doc", "run", []domain.EmbeddingRecord{rec("bad", 1, 0)})
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on write, got %v", err)
	}

	_, err = x.Search(ctx, []float32{1, 0}, 5,
		[]domain.DocumentScope{{DocumentID: "doc", IndexRun: "run"}})
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestDeleteRunAndPruneRuns(t *testing.T) {
	x := New(2)
	ctx := context.Background()
	scopeOld := []domain.DocumentScope{{DocumentID: "doc", IndexRun: "run-a"}}
	scopeNew := []domain.DocumentScope{{DocumentID: "doc", IndexRun: "run-b"}}

	x.ReplaceDocument(ctx, "doc", "run-a", []domain.EmbeddingRecord{rec("a", 1, 0)})
	x.ReplaceDocument(ctx, "doc", "run-b", []domain.EmbeddingRecord{rec("b", 1, 0)})

	if err := x.DeleteRun(ctx, "doc", "run-b"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	hits, _ := x.Search(ctx, []float32{1, 0}, 10, scopeNew)
	if len(hits) != 0 {
		t.Error("deleted run still searchable")
	}
	hits, _ = x.Search(ctx, []float32{1, 0}, 10, scopeOld)
	if len(hits) != 1 {
		t.Error("DeleteRun touched an unrelated run")
	}

	x.ReplaceDocument(ctx, "doc", "run-b", []domain.EmbeddingRecord{rec("b2", 1, 0)})
	if err := x.PruneRuns(ctx, "doc", "run-b"); err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	hits, _ = x.Search(ctx, []float32{1, 0}, 10, scopeOld)
	if len(hits) != 0 {
		t.Error("PruneRuns kept a superseded run")
	}
	hits, _ = x.Search(ctx, []float32{1, 0}, 10, scopeNew)
	if len(hits) != 1 {
		t.Error("PruneRuns removed the kept run")
	}
}

func TestRemove(t *testing.T) {
	x := New(2)
	ctx := context.Background()
	x.ReplaceDocument(ctx, "doc", "run-a", []domain.EmbeddingRecord{rec("a", 1, 0)})
	x.ReplaceDocument(ctx, "doc", "run-b", []domain.EmbeddingRecord{rec("b", 1, 0)})

	if err := x.Remove(ctx, "doc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	for _, run := range []string{"run-a", "run-b"} {
		hits, _ := x.Search(ctx, []float32{1, 0}, 10,
			[]domain.DocumentScope{{DocumentID: "doc", IndexRun: run}})
		if len(hits) != 0 {
			t.Errorf("run %s survived Remove", run)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	x := New(2)
	ctx := context.Background()

	missing, err := x.GetMeta(ctx, "absent")
	if err != nil || missing != nil {
		t.Errorf("absent meta should be (nil, nil), got (%v, %v)", missing, err)
	}

	meta := &domain.DocumentMeta{
		DocumentID: "doc",
		Title:      "A Title",
		Status:     domain.StatusIndexed,
		ChunkCount: 7,
		IndexRun:   "run-1",
	}
	if err := x.PutMeta(ctx, meta); err != nil {
		t.Fatalf("PutMeta failed: %v", err)
	}

	got, err := x.GetMeta(ctx, "doc")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if got.Title != "A Title" || got.ChunkCount != 7 || got.IndexRun != "run-1" {
		t.Errorf("meta round trip mismatch: %+v", got)
	}

	// Returned meta is a copy; mutating it must not affect the store.
	got.Title = "mutated"
	again, _ := x.GetMeta(ctx, "doc")
	if again.Title != "A Title" {
		t.Error("GetMeta returned a shared reference")
	}

	x.PutMeta(ctx, &domain.DocumentMeta{DocumentID: "another"})
	metas, err := x.ListMeta(ctx)
	if err != nil {
		t.Fatalf("ListMeta failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 metas, got %d", len(metas))
	}
	if metas[0].DocumentID != "another" || metas[1].DocumentID != "doc" {
		t.Errorf("ListMeta not ordered by ID: %+v", metas)
	}

	if err := x.DeleteMeta(ctx, "doc"); err != nil {
		t.Fatalf("DeleteMeta failed: %v", err)
	}
	gone, _ := x.GetMeta(ctx, "doc")
	if gone != nil {
		t.Error("meta survived DeleteMeta")
	}
}
