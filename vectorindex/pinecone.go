package vectorindex

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

const pineconeUpsertBatch = 100

// PineconeStore keeps each dataset in its own namespace of one index.
type PineconeStore struct {
	client   *pinecone.Client
	host     string
	embedder Embedder
}

// NewPineconeStore connects to the index served at host.
func NewPineconeStore(apiKey, host string, embedder Embedder) (*PineconeStore, error) {
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Pinecone client: %w", err)
	}
	return &PineconeStore{client: client, host: host, embedder: embedder}, nil
}

func (s *PineconeStore) conn(dataset string) (*pinecone.IndexConnection, error) {
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: s.host, Namespace: dataset})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index namespace %s: %w", dataset, err)
	}
	return conn, nil
}

// Open returns a handle on the namespace of dataset.
func (s *PineconeStore) Open(_ context.Context, dataset string) (Index, error) {
	conn, err := s.conn(dataset)
	if err != nil {
		return nil, err
	}
	return &pineconeIndex{conn: conn, embedder: s.embedder, dataset: dataset}, nil
}

// Replace clears the namespace of dataset and upserts chunks.
func (s *PineconeStore) Replace(ctx context.Context, dataset string, chunks []Chunk) error {
	conn, err := s.conn(dataset)
	if err != nil {
		return err
	}
	defer conn.Close()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts, PurposeDocument)
	if err != nil {
		return err
	}

	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		// A namespace that was never written does not exist yet.
		zap.S().Debugw("could not clear namespace", "dataset", dataset, "error", err)
	}

	vectors := make([]*pinecone.Vector, 0, len(chunks))
	for i, c := range chunks {
		meta, err := structpb.NewStruct(map[string]any{"dataset": dataset, "text": c.Text})
		if err != nil {
			return fmt.Errorf("failed to create metadata map: %w", err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       c.ID,
			Values:   vecs[i],
			Metadata: &pinecone.Metadata{Fields: meta.Fields},
		})
	}
	for start := 0; start < len(vectors); start += pineconeUpsertBatch {
		end := min(start+pineconeUpsertBatch, len(vectors))
		if _, err := conn.UpsertVectors(ctx, vectors[start:end]); err != nil {
			return fmt.Errorf("failed to upsert vectors for %s: %w", dataset, err)
		}
	}
	zap.S().Infow("replaced vector index", "backend", "pinecone", "dataset", dataset, "chunks", len(chunks))
	return nil
}

type pineconeIndex struct {
	conn     *pinecone.IndexConnection
	embedder Embedder
	dataset  string
}

func (i *pineconeIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	vec, err := embedOne(ctx, i.embedder, query, PurposeQuery)
	if err != nil {
		return nil, err
	}
	resp, err := i.conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(k),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	out := make([]Chunk, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		c := Chunk{ID: m.Vector.Id, Dataset: i.dataset, Score: float64(m.Score)}
		if m.Vector.Metadata != nil {
			if text, ok := m.Vector.Metadata.AsMap()["text"].(string); ok {
				c.Text = text
			}
		}
		out = append(out, c)
	}
	return out, nil
}
