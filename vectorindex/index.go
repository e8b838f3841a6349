// Package vectorindex stores embedded dataset chunks and answers nearest
// neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
)

// Chunk is a unit of retrievable text.
type Chunk struct {
	ID      string  `json:"id"`
	Dataset string  `json:"dataset"`
	Text    string  `json:"text"`
	Score   float64 `json:"score,omitempty"`
}

// Index searches the chunks of one dataset.
type Index interface {
	Search(ctx context.Context, query string, k int) ([]Chunk, error)
}

// Store opens per dataset indexes and rebuilds them.
type Store interface {
	Open(ctx context.Context, dataset string) (Index, error)
	Replace(ctx context.Context, dataset string, chunks []Chunk) error
}

// Purpose tells the embedder whether text is stored or searched for.
type Purpose string

const (
	PurposeDocument Purpose = "document"
	PurposeQuery    Purpose = "query"
)

// Embedder maps texts to dense vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
	Dimensions() int
}

var ErrIndexNotFound = errors.New("no index for dataset")

func embedOne(ctx context.Context, e Embedder, text string, purpose Purpose) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("embedder returned no vector")
	}
	return vecs[0], nil
}
