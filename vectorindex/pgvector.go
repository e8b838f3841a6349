package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PGVectorStore keeps chunks in a Postgres table with a pgvector column.
type PGVectorStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewPGVectorStore creates a store on pool.
func NewPGVectorStore(pool *pgxpool.Pool, embedder Embedder) *PGVectorStore {
	return &PGVectorStore{pool: pool, embedder: embedder}
}

// EnsureSchema creates the vector extension and the chunk table.
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.embedder.Dimensions()),
		"CREATE INDEX IF NOT EXISTS rag_chunks_dataset_idx ON rag_chunks (dataset)",
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("unable to prepare vector schema: %w", err)
		}
	}
	return nil
}

// Open returns the index of dataset. It fails when nothing was indexed.
func (s *PGVectorStore) Open(ctx context.Context, dataset string) (Index, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM rag_chunks WHERE dataset = $1", dataset).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to open index for %s: %w", dataset, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dataset)
	}
	return &pgIndex{store: s, dataset: dataset}, nil
}

// Replace swaps all chunks of dataset in one transaction.
func (s *PGVectorStore) Replace(ctx context.Context, dataset string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts, PurposeDocument)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM rag_chunks WHERE dataset = $1", dataset); err != nil {
		return fmt.Errorf("failed to clear index for %s: %w", dataset, err)
	}
	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue("INSERT INTO rag_chunks (id, dataset, content, embedding) VALUES ($1, $2, $3, $4::vector)",
			c.ID, dataset, c.Text, pgvector.NewVector(vecs[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks for %s: %w", dataset, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit index for %s: %w", dataset, err)
	}
	zap.S().Infow("replaced vector index", "backend", "pgvector", "dataset", dataset, "chunks", len(chunks))
	return nil
}

type pgIndex struct {
	store   *PGVectorStore
	dataset string
}

func (i *pgIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	vec, err := embedOne(ctx, i.store.embedder, query, PurposeQuery)
	if err != nil {
		return nil, err
	}

	rows, err := i.store.pool.Query(ctx, `
		SELECT id, content, 1 - (embedding <=> $2::vector) AS score
		FROM rag_chunks
		WHERE dataset = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`, i.dataset, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c := Chunk{Dataset: i.dataset}
		if err := rows.Scan(&c.ID, &c.Text, &c.Score); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
