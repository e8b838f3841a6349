package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a process local Store, used for development and tests.
type MemoryStore struct {
	embedder Embedder

	mu       sync.RWMutex
	datasets map[string][]memoryEntry
}

type memoryEntry struct {
	chunk  Chunk
	vector []float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{embedder: embedder, datasets: make(map[string][]memoryEntry)}
}

// Open returns the index of dataset.
func (s *MemoryStore) Open(_ context.Context, dataset string) (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.datasets[dataset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dataset)
	}
	return &memoryIndex{store: s, dataset: dataset}, nil
}

// Replace embeds chunks and swaps them in for dataset.
func (s *MemoryStore) Replace(ctx context.Context, dataset string, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts, PurposeDocument)
	if err != nil {
		return err
	}
	entries := make([]memoryEntry, len(chunks))
	for i, c := range chunks {
		c.Dataset = dataset
		entries[i] = memoryEntry{chunk: c, vector: vecs[i]}
	}

	s.mu.Lock()
	s.datasets[dataset] = entries
	s.mu.Unlock()
	return nil
}

type memoryIndex struct {
	store   *MemoryStore
	dataset string
}

func (i *memoryIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	vec, err := embedOne(ctx, i.store.embedder, query, PurposeQuery)
	if err != nil {
		return nil, err
	}

	i.store.mu.RLock()
	entries := i.store.datasets[i.dataset]
	scored := make([]Chunk, len(entries))
	for n, e := range entries {
		c := e.chunk
		c.Score = cosine(vec, e.vector)
		scored[n] = c
	}
	i.store.mu.RUnlock()

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
