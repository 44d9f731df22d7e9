package repo

import (
	"context"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

// Encoder turns text into a dense sentence embedding
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores documents against a query with a cross-encoder.
// Scores are returned in document order.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Catalog is the read-only song catalog with one normalized embedding per song
type Catalog interface {
	Songs() []domain.Song
	Vectors() [][]float32
}
