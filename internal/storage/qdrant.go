// Package storage persists embedding records and per-document index metadata
// in Qdrant.
//
// Layout: a single collection holds two point types distinguished by a "type"
// payload field. "chunk" points carry the embedding vector plus citation
// payload; "meta" points are payload-only records that are looked up by ID,
// never similarity-searched. Chunk points are keyed by
// (chunk_id, index_run) so a new indexing run stages its records alongside
// the old ones; the run only becomes visible when the document's meta record
// names it, which makes document replacement all-or-nothing from a reader's
// point of view.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

const (
	// DefaultCollection is the Qdrant collection name.
	DefaultCollection = "scriptorium"

	// vectorName is the named vector chunk points carry.
	vectorName = "content"

	upsertBatchSize = 100
)

// metaNamespace derives the stable point ID of a document's meta record.
var metaNamespace = uuid.MustParse("5a0c6a3e-2f1b-4a57-8f0e-bb6d9c31f24d")

// Qdrant implements domain.VectorIndex and domain.MetadataStore on a Qdrant
// server.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// New connects to Qdrant and verifies health with exponential-backoff retry,
// failing fast if the server stays unreachable.
func New(host string, port int, collection string, dimension int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}

	s := &Qdrant{
		client:     client,
		collection: collection,
		dimension:  dimension,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return s, nil
}

func (s *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (s *Qdrant) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection and payload indexes when missing.
// Idempotent.
func (s *Qdrant) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", ErrStorage, err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", ErrStorage, err)
	}

	// Without these indexes every scoped search degrades to a full scan.
	for _, field := range []string{"type", "document_id", "index_run", "chunk_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("%w: create index for %s: %v", ErrStorage, field, err)
		}
	}

	return nil
}

// Close closes the client connection.
func (s *Qdrant) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// pointID keys a chunk point. Including the run keeps staged records from
// overwriting the live ones.
func pointID(chunkID, run string) string {
	return uuid.NewSHA1(metaNamespace, []byte(run+"/"+chunkID)).String()
}

// ReplaceDocument stages records for a document under the given run. Earlier
// runs stay untouched and remain the visible state until the caller flips the
// document's metadata to this run.
func (s *Qdrant) ReplaceDocument(ctx context.Context, documentID, run string, records []domain.EmbeddingRecord) error {
	for i, rec := range records {
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(rec.Vector), s.dimension)
		}
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		batch := records[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, rec := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(pointID(rec.ChunkID, run)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(rec.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"type":        "chunk",
					"chunk_id":    rec.ChunkID,
					"document_id": rec.DocumentID,
					"index_run":   run,
					"page":        int64(rec.Page),
					"snippet":     rec.Snippet,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("%w: upsert batch %d-%d: %v", ErrStorage, i, end, err)
		}
	}

	return nil
}

func (s *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// DeleteRun removes everything a run wrote for a document. Rollback path for
// failed indexing attempts.
func (s *Qdrant) DeleteRun(ctx context.Context, documentID, run string) error {
	return s.deleteByFilter(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("type", "chunk"),
			qdrant.NewMatch("document_id", documentID),
			qdrant.NewMatch("index_run", run),
		},
	})
}

// PruneRuns removes every chunk record for a document except keepRun's.
// Called after a successful metadata flip to garbage-collect the superseded
// batch.
func (s *Qdrant) PruneRuns(ctx context.Context, documentID, keepRun string) error {
	return s.deleteByFilter(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("type", "chunk"),
			qdrant.NewMatch("document_id", documentID),
		},
		MustNot: []*qdrant.Condition{
			qdrant.NewMatch("index_run", keepRun),
		},
	})
}

// Remove deletes every chunk record for a document, all runs included.
func (s *Qdrant) Remove(ctx context.Context, documentID string) error {
	return s.deleteByFilter(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("type", "chunk"),
			qdrant.NewMatch("document_id", documentID),
		},
	})
}

func (s *Qdrant) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStorage, err)
	}
	return nil
}

// Search returns the topK records most similar to vector, restricted to the
// given (document, run) scopes. An empty scope list matches nothing: callers
// derive scopes from live metadata, and no live documents means no visible
// corpus.
func (s *Qdrant) Search(ctx context.Context, vector []float32, topK int, scopes []domain.DocumentScope) ([]domain.ScoredRecord, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	should := make([]*qdrant.Condition, len(scopes))
	for i, scope := range scopes {
		should[i] = &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", scope.DocumentID),
						qdrant.NewMatch("index_run", scope.IndexRun),
					},
				},
			},
		}
	}

	name := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Using:          &name,
		Filter: &qdrant.Filter{
			Must:   []*qdrant.Condition{qdrant.NewMatch("type", "chunk")},
			Should: should,
		},
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrStorage, err)
	}

	records := make([]domain.ScoredRecord, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		records = append(records, domain.ScoredRecord{
			EmbeddingRecord: domain.EmbeddingRecord{
				ChunkID:    payload["chunk_id"].GetStringValue(),
				DocumentID: payload["document_id"].GetStringValue(),
				Page:       int(payload["page"].GetIntegerValue()),
				Snippet:    payload["snippet"].GetStringValue(),
			},
			Score: float64(result.Score),
		})
	}

	return records, nil
}

// metaPointID derives the stable point ID of a document's meta record.
func metaPointID(documentID string) string {
	return uuid.NewSHA1(metaNamespace, []byte("meta/"+documentID)).String()
}

// PutMeta writes a document's metadata record. Writing a meta with a new
// IndexRun is the visibility flip that makes that run's records live.
func (s *Qdrant) PutMeta(ctx context.Context, meta *domain.DocumentMeta) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(metaPointID(meta.DocumentID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":            "meta",
			"document_id":     meta.DocumentID,
			"title":           meta.Title,
			"status":          string(meta.Status),
			"chunk_count":     int64(meta.ChunkCount),
			"page_count":      int64(meta.PageCount),
			"index_run":       meta.IndexRun,
			"last_indexed_at": meta.LastIndexedAt.Format(time.RFC3339),
			"error":           meta.Error,
		}),
	}

	if err := s.upsertWithRetry(ctx, []*qdrant.PointStruct{point}); err != nil {
		return fmt.Errorf("%w: put meta for %s: %v", ErrStorage, meta.DocumentID, err)
	}
	return nil
}

// GetMeta reads a document's metadata record. A missing or unparsable record
// reads as nil (the document is simply unindexed), never a global failure.
func (s *Qdrant) GetMeta(ctx context.Context, documentID string) (*domain.DocumentMeta, error) {
	result, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(metaPointID(documentID))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get meta for %s: %v", ErrStorage, documentID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	meta := metaFromPayload(result[0].Payload)
	if meta == nil || meta.DocumentID != documentID {
		return nil, nil
	}
	return meta, nil
}

// ListMeta returns all document metadata records.
func (s *Qdrant) ListMeta(ctx context.Context) ([]*domain.DocumentMeta, error) {
	var metas []*domain.DocumentMeta
	var offset *qdrant.PointId

	batchSize := uint32(100)
	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("type", "meta")},
			},
			Limit:       qdrant.PtrOf(batchSize),
			Offset:      offset,
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll meta: %v", ErrStorage, err)
		}

		for _, result := range results {
			if meta := metaFromPayload(result.Payload); meta != nil {
				metas = append(metas, meta)
			}
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	return metas, nil
}

// DeleteMeta removes a document's metadata record.
func (s *Qdrant) DeleteMeta(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelector(
			qdrant.NewIDUUID(metaPointID(documentID)),
		),
	})
	if err != nil {
		return fmt.Errorf("%w: delete meta for %s: %v", ErrStorage, documentID, err)
	}
	return nil
}

func metaFromPayload(payload map[string]*qdrant.Value) *domain.DocumentMeta {
	docID := payload["document_id"].GetStringValue()
	if docID == "" {
		return nil
	}

	indexedAt, err := time.Parse(time.RFC3339, payload["last_indexed_at"].GetStringValue())
	if err != nil {
		indexedAt = time.Time{}
	}

	return &domain.DocumentMeta{
		DocumentID:    docID,
		Title:         payload["title"].GetStringValue(),
		Status:        domain.IndexStatus(payload["status"].GetStringValue()),
		ChunkCount:    int(payload["chunk_count"].GetIntegerValue()),
		PageCount:     int(payload["page_count"].GetIntegerValue()),
		IndexRun:      payload["index_run"].GetStringValue(),
		LastIndexedAt: indexedAt,
		Error:         payload["error"].GetStringValue(),
	}
}
