// Package indexer orchestrates the pipeline that turns an extracted document
// into a queryable vector index entry: chunking, contextual augmentation,
// embedding, staged storage, and the metadata flip that makes the new records
// live. One indexing run per document at a time; a failed run is rolled back
// without touching whatever was queryable before.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scriptorium-rag/scriptorium/internal/augment"
	"github.com/scriptorium-rag/scriptorium/internal/chunker"
	"github.com/scriptorium-rag/scriptorium/internal/document"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// ErrAlreadyIndexing is returned when an indexing run is requested for a
// document that already has one in flight.
var ErrAlreadyIndexing = errors.New("document is already being indexed")

// DefaultConcurrency bounds the parallel embedding requests per run.
const DefaultConcurrency = 4

// embedBatchSize is the number of chunks embedded per worker task.
const embedBatchSize = 50

// Progress checkpoints. Progress is monotonic within a run; workers report
// fractions of the embedding span and never move it backwards.
const (
	progressChunked  = 10
	progressEmbedded = 70
	progressStaged   = 90
	progressDone     = 100
)

// job tracks one in-flight indexing run.
type job struct {
	mu       sync.Mutex
	progress int
	started  time.Time
}

func (j *job) advance(to int) {
	j.mu.Lock()
	if to > j.progress {
		j.progress = to
	}
	j.mu.Unlock()
}

func (j *job) current() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Status is a point-in-time view of a document's index lifecycle, merging
// in-flight run state with the stored metadata.
type Status struct {
	DocumentID    string             `json:"document_id"`
	Title         string             `json:"title,omitempty"`
	Status        domain.IndexStatus `json:"status"`
	Progress      int                `json:"progress"` // 0-100, only meaningful while indexing
	ChunkCount    int                `json:"chunk_count,omitempty"`
	PageCount     int                `json:"page_count,omitempty"`
	LastIndexedAt time.Time          `json:"last_indexed_at,omitzero"`
	Error         string             `json:"error,omitempty"`
}

// Indexer runs document indexing pipelines with single-flight admission per
// document.
type Indexer struct {
	chunker     *chunker.Chunker
	embedder    domain.Embedder
	index       domain.VectorIndex
	metas       domain.MetadataStore
	concurrency int
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]*job
}

// New creates an Indexer. Concurrency <= 0 selects DefaultConcurrency.
func New(ch *chunker.Chunker, embedder domain.Embedder, index domain.VectorIndex, metas domain.MetadataStore, concurrency int, logger *slog.Logger) *Indexer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunker:     ch,
		embedder:    embedder,
		index:       index,
		metas:       metas,
		concurrency: concurrency,
		logger:      logger,
		inflight:    make(map[string]*job),
	}
}

// Index runs the full pipeline for a document and blocks until it finishes.
// A second call for the same document while one is in flight returns
// ErrAlreadyIndexing immediately. On failure the staged records are removed,
// the document's status becomes failed, and any previously indexed version
// stays queryable.
func (x *Indexer) Index(ctx context.Context, doc *document.Document) error {
	j, err := x.admit(doc.ID)
	if err != nil {
		return err
	}
	defer x.release(doc.ID)
	return x.execute(ctx, doc, j)
}

// Start begins an indexing run in the background. Admission is synchronous,
// so a non-nil return means no run was started; the pipeline outcome is
// observed through Status polling, not a return value.
func (x *Indexer) Start(doc *document.Document) error {
	j, err := x.admit(doc.ID)
	if err != nil {
		return err
	}
	go func() {
		defer x.release(doc.ID)
		// Background runs outlive the request that triggered them.
		if err := x.execute(context.Background(), doc, j); err != nil {
			x.logger.Error("background indexing failed", "document", doc.ID, "error", err)
		}
	}()
	return nil
}

func (x *Indexer) execute(ctx context.Context, doc *document.Document, j *job) error {
	run := uuid.New().String()
	log := x.logger.With("document", doc.ID, "run", run)
	log.Info("indexing started", "pages", doc.PageCount())

	prior, err := x.metas.GetMeta(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	if err := x.markIndexing(ctx, doc, prior); err != nil {
		return err
	}

	if err := x.run(ctx, doc, run, j, log); err != nil {
		x.rollback(doc, run, prior, err, log)
		return err
	}

	j.advance(progressDone)
	log.Info("indexing complete", "elapsed", time.Since(j.started))
	return nil
}

// run executes the pipeline stages. Any error leaves cleanup to the caller.
func (x *Indexer) run(ctx context.Context, doc *document.Document, run string, j *job, log *slog.Logger) error {
	chunks, err := x.chunker.Split(doc)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("chunk: document %q produced no chunks", doc.ID)
	}
	augment.New(doc).Apply(chunks)
	j.advance(progressChunked)
	log.Debug("document chunked", "chunks", len(chunks))

	vectors, err := x.embedChunks(ctx, chunks, j)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	j.advance(progressEmbedded)

	records := make([]domain.EmbeddingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.EmbeddingRecord{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Page:       c.Page,
			Snippet:    c.Text,
			Vector:     vectors[i],
		}
	}

	if err := x.index.ReplaceDocument(ctx, doc.ID, run, records); err != nil {
		return fmt.Errorf("stage records: %w", err)
	}
	j.advance(progressStaged)

	meta := &domain.DocumentMeta{
		DocumentID:    doc.ID,
		Title:         doc.Title,
		Status:        domain.StatusIndexed,
		ChunkCount:    len(chunks),
		PageCount:     doc.PageCount(),
		IndexRun:      run,
		LastIndexedAt: time.Now().UTC(),
	}
	if err := x.metas.PutMeta(ctx, meta); err != nil {
		return fmt.Errorf("publish metadata: %w", err)
	}

	// The new run is live. Pruning superseded records is garbage collection,
	// not part of the replace; a failure here only leaves orphans behind.
	if err := x.index.PruneRuns(ctx, doc.ID, run); err != nil {
		log.Warn("pruning superseded runs failed", "error", err)
	}
	return nil
}

// embedChunks embeds the chunks' augmented texts with a bounded worker pool,
// preserving chunk order in the returned vectors.
func (x *Indexer) embedChunks(ctx context.Context, chunks []domain.Chunk, j *job) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbeddingText()
	}

	type batch struct {
		start, end int
	}
	var batches []batch
	for i := 0; i < len(texts); i += embedBatchSize {
		batches = append(batches, batch{i, min(i+embedBatchSize, len(texts))})
	}

	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
		done     int
	)
	vectors := make([][]float32, len(texts))
	tasks := make(chan batch)

	workers := min(x.concurrency, len(batches))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range tasks {
				vs, err := x.embedder.EmbedTexts(embedCtx, texts[b.start:b.end])
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					cancel()
					return
				}
				copy(vectors[b.start:b.end], vs)

				errMu.Lock()
				done++
				completed := done
				errMu.Unlock()
				span := progressEmbedded - progressChunked
				j.advance(progressChunked + span*completed/len(batches))
			}
		}()
	}

	for _, b := range batches {
		select {
		case tasks <- b:
		case <-embedCtx.Done():
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// admit registers an in-flight run for the document, enforcing single-flight.
func (x *Indexer) admit(documentID string) (*job, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, busy := x.inflight[documentID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyIndexing, documentID)
	}
	j := &job{started: time.Now()}
	x.inflight[documentID] = j
	return j, nil
}

func (x *Indexer) release(documentID string) {
	x.mu.Lock()
	delete(x.inflight, documentID)
	x.mu.Unlock()
}

// markIndexing records the indexing status while preserving the prior run
// reference so the previous version stays queryable during the rebuild.
func (x *Indexer) markIndexing(ctx context.Context, doc *document.Document, prior *domain.DocumentMeta) error {
	meta := &domain.DocumentMeta{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Status:     domain.StatusIndexing,
		PageCount:  doc.PageCount(),
	}
	if prior != nil {
		meta.IndexRun = prior.IndexRun
		meta.ChunkCount = prior.ChunkCount
		meta.LastIndexedAt = prior.LastIndexedAt
	}
	if err := x.metas.PutMeta(ctx, meta); err != nil {
		return fmt.Errorf("mark indexing: %w", err)
	}
	return nil
}

// rollback removes the failed run's staged records and restores or records
// the document's metadata. Errors during rollback are logged, not returned;
// the pipeline error is what the caller sees.
func (x *Indexer) rollback(doc *document.Document, run string, prior *domain.DocumentMeta, cause error, log *slog.Logger) {
	// The triggering context may already be cancelled; cleanup gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Error("indexing failed, rolling back", "error", cause)

	if err := x.index.DeleteRun(ctx, doc.ID, run); err != nil {
		log.Warn("rollback: deleting staged records failed", "error", err)
	}

	meta := &domain.DocumentMeta{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Status:     domain.StatusFailed,
		PageCount:  doc.PageCount(),
		Error:      cause.Error(),
	}
	if prior != nil && prior.Status == domain.StatusIndexed {
		// Keep the previous version queryable alongside the failure record.
		meta.IndexRun = prior.IndexRun
		meta.ChunkCount = prior.ChunkCount
		meta.LastIndexedAt = prior.LastIndexedAt
	}
	if err := x.metas.PutMeta(ctx, meta); err != nil {
		log.Warn("rollback: writing failed status failed", "error", err)
	}
}

// Status reports a document's lifecycle state, merging live run progress with
// stored metadata. Unknown documents report unindexed.
func (x *Indexer) Status(ctx context.Context, documentID string) (*Status, error) {
	x.mu.Lock()
	j := x.inflight[documentID]
	x.mu.Unlock()

	meta, err := x.metas.GetMeta(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	st := &Status{DocumentID: documentID, Status: domain.StatusUnindexed}
	if meta != nil {
		st.Title = meta.Title
		st.Status = meta.Status
		st.ChunkCount = meta.ChunkCount
		st.PageCount = meta.PageCount
		st.LastIndexedAt = meta.LastIndexedAt
		st.Error = meta.Error
	}
	if j != nil {
		st.Status = domain.StatusIndexing
		st.Progress = j.current()
	} else if st.Status == domain.StatusIndexed {
		st.Progress = progressDone
	}
	return st, nil
}

// List reports the status of every known document plus any in-flight runs.
func (x *Indexer) List(ctx context.Context) ([]*Status, error) {
	metas, err := x.metas.ListMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}

	statuses := make([]*Status, 0, len(metas))
	seen := make(map[string]bool, len(metas))
	for _, meta := range metas {
		st, err := x.Status(ctx, meta.DocumentID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
		seen[meta.DocumentID] = true
	}

	x.mu.Lock()
	var pending []string
	for id := range x.inflight {
		if !seen[id] {
			pending = append(pending, id)
		}
	}
	x.mu.Unlock()
	for _, id := range pending {
		st, err := x.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Remove deletes a document's records and metadata. Removal of a document
// with an in-flight run is refused.
func (x *Indexer) Remove(ctx context.Context, documentID string) error {
	x.mu.Lock()
	_, busy := x.inflight[documentID]
	x.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: %s", ErrAlreadyIndexing, documentID)
	}

	if err := x.index.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove records: %w", err)
	}
	if err := x.metas.DeleteMeta(ctx, documentID); err != nil {
		return fmt.Errorf("remove metadata: %w", err)
	}
	x.logger.Info("document removed", "document", documentID)
	return nil
}

// LiveScopes returns the (document, run) pairs that searches may touch:
// every document whose stored status is indexed, under its published run.
func LiveScopes(ctx context.Context, metas domain.MetadataStore) ([]domain.DocumentScope, error) {
	all, err := metas.ListMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	var scopes []domain.DocumentScope
	for _, meta := range all {
		if meta.IndexRun == "" {
			continue
		}
		switch meta.Status {
		case domain.StatusIndexed, domain.StatusIndexing, domain.StatusFailed:
			// Indexing and failed documents keep their last published run
			// queryable when one exists.
			scopes = append(scopes, domain.DocumentScope{
				DocumentID: meta.DocumentID,
				IndexRun:   meta.IndexRun,
			})
		}
	}
	return scopes, nil
}
