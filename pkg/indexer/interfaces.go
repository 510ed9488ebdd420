//go:generate mockgen -destination=./mocks/indexer.go . Sink,Mirror
package indexer

import (
	"context"
	"io"
)

// Sink receives documents for the search index.
type Sink interface {
	// Put adds a single document to index.
	Put(ctx context.Context, index string, doc any) error
	// PutBatch adds docs, which must encode to a JSON array, to index.
	PutBatch(ctx context.Context, index string, docs any) error
}

// Mirror opens repository files. Callers close the returned bodies.
type Mirror interface {
	OpenDatabase(ctx context.Context, repo string) (io.ReadCloser, error)
	OpenPackage(ctx context.Context, repo, filename string) (io.ReadCloser, error)
}
