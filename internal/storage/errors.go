package storage

import "errors"

var (
	// ErrStorage marks a persistence failure. Callers roll back the batch
	// they were writing; previously visible state is never affected.
	ErrStorage = errors.New("vector index storage error")

	ErrUnreachable       = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDocumentNotFound  = errors.New("document not found")
)
