package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/generator"
	"github.com/scriptorium-rag/scriptorium/internal/resolver"
	"github.com/scriptorium-rag/scriptorium/internal/retriever"
	"github.com/scriptorium-rag/scriptorium/internal/storage/memory"
)

const dim = 4

// scriptedGenerator serves canned responses in call order and records every
// prompt it saw.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts ...domain.GenerateOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return dim }

func newEngine(gen *scriptedGenerator, emb *countingEmbedder, store *memory.Index) *Engine {
	res := resolver.New(gen, nil, 0, nil)
	ret := retriever.New(emb, store, store, nil, 5, nil)
	g := generator.New(gen, nil)
	return New(res, ret, g, 0, nil)
}

func seed(t *testing.T, store *memory.Index, docID string, snippets ...string) {
	t.Helper()
	ctx := context.Background()
	records := make([]domain.EmbeddingRecord, len(snippets))
	for i, s := range snippets {
		records[i] = domain.EmbeddingRecord{
			ChunkID:    s,
			DocumentID: docID,
			Page:       i + 1,
			Snippet:    s,
			Vector:     []float32{1, 0, 0, 0},
		}
	}
	if err := store.ReplaceDocument(ctx, docID, "run-1", records); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	if err := store.PutMeta(ctx, &domain.DocumentMeta{
		DocumentID: docID,
		Status:     domain.StatusIndexed,
		IndexRun:   "run-1",
	}); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
}

func TestQuery_FactualEndToEnd(t *testing.T) {
	store := memory.New(dim)
	seed(t, store, "history", "Khufu reigned in the Fourth Dynasty.")

	gen := &scriptedGenerator{responses: []string{
		"factual", // classify
		"Khufu ruled during the Fourth Dynasty.", // answer
	}}
	emb := &countingEmbedder{}
	eng := newEngine(gen, emb, store)

	answer, err := eng.Query(context.Background(), "When did Khufu rule?", nil, nil, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if answer.Answer == "" {
		t.Error("empty answer")
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(answer.Sources))
	}
	if answer.Sources[0].Page != 1 {
		t.Errorf("unexpected source page: %d", answer.Sources[0].Page)
	}
	if answer.Intent != "factual" {
		t.Errorf("unexpected intent: %q", answer.Intent)
	}
	if emb.calls != 1 {
		t.Errorf("expected 1 query embedding, got %d", emb.calls)
	}
}

func TestQuery_ConversationalSkipsRetrieval(t *testing.T) {
	store := memory.New(dim)
	seed(t, store, "history", "irrelevant passage")

	gen := &scriptedGenerator{responses: []string{
		"conversational",
		"Hello! Ask me anything about your documents.",
	}}
	emb := &countingEmbedder{}
	eng := newEngine(gen, emb, store)

	answer, err := eng.Query(context.Background(), "Hi!", nil, nil, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if emb.calls != 0 {
		t.Errorf("conversational turn must not embed, got %d calls", emb.calls)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("conversational answer must carry no citations, got %d", len(answer.Sources))
	}
}

func TestQuery_FollowUpUsesRewrite(t *testing.T) {
	store := memory.New(dim)
	seed(t, store, "history", "Khufu reigned in the Fourth Dynasty.")

	history := []domain.DialogueTurn{
		{Role: "user", Content: "Who built the Great Pyramid?"},
		{Role: "assistant", Content: "The pharaoh Khufu."},
	}
	gen := &scriptedGenerator{responses: []string{
		"factual",
		"When did Khufu rule?", // rewrite
		"During the Fourth Dynasty.",
	}}
	emb := &countingEmbedder{}
	eng := newEngine(gen, emb, store)

	answer, err := eng.Query(context.Background(), "When did he rule?", history, nil, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if answer.EnhancedQuery != "When did Khufu rule?" {
		t.Errorf("rewrite not reported: %q", answer.EnhancedQuery)
	}
	if answer.OriginalQuery != "When did he rule?" {
		t.Errorf("original not preserved: %q", answer.OriginalQuery)
	}

	// The generation prompt must use the rewritten question.
	final := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(final, "When did Khufu rule?") {
		t.Error("generation prompt should carry the rewritten question")
	}
}

func TestQuery_NoResultsStillAnswers(t *testing.T) {
	store := memory.New(dim) // empty corpus

	gen := &scriptedGenerator{responses: []string{
		"factual",
		"The indexed documents contain nothing on this.",
	}}
	emb := &countingEmbedder{}
	eng := newEngine(gen, emb, store)

	answer, err := eng.Query(context.Background(), "What about Atlantis?", nil, nil, 0)
	if err != nil {
		t.Fatalf("zero-result query must not fail: %v", err)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(answer.Sources))
	}

	final := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(final, "No supporting documents were found") {
		t.Error("zero-result prompt missing explicit instruction")
	}
}

func TestQuery_ScopeRestriction(t *testing.T) {
	store := memory.New(dim)
	seed(t, store, "doc-a", "passage from a")
	seed(t, store, "doc-b", "passage from b")

	gen := &scriptedGenerator{responses: []string{"factual", "answer"}}
	emb := &countingEmbedder{}
	eng := newEngine(gen, emb, store)

	scopes := []domain.DocumentScope{{DocumentID: "doc-b", IndexRun: "run-1"}}
	answer, err := eng.Query(context.Background(), "question", nil, scopes, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(answer.Sources))
	}
	if answer.Sources[0].Text != "passage from b" {
		t.Errorf("scope restriction violated: %+v", answer.Sources[0])
	}
}
