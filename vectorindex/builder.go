package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"go.uber.org/zap"
)

const topTextValues = 5

// TableLoader loads a dataset by name.
type TableLoader interface {
	Load(ctx context.Context, name string) (*dataset.Table, error)
}

// Builder turns an uploaded dataset into retrievable chunks.
type Builder struct {
	tables TableLoader
	store  Store
}

// NewBuilder creates a builder writing into store.
func NewBuilder(tables TableLoader, store Store) *Builder {
	return &Builder{tables: tables, store: store}
}

// BuildIndex rebuilds the index of name from its current contents.
func (b *Builder) BuildIndex(ctx context.Context, name string) error {
	table, err := b.tables.Load(ctx, name)
	if err != nil {
		return err
	}
	chunks := Chunks(name, table)
	if err := b.store.Replace(ctx, name, chunks); err != nil {
		return fmt.Errorf("failed to index %s: %w", name, err)
	}
	zap.S().Infow("built retrieval index", "dataset", name, "chunks", len(chunks))
	return nil
}

// Chunks renders one chunk per row followed by a summary chunk.
func Chunks(name string, table *dataset.Table) []Chunk {
	chunks := make([]Chunk, 0, len(table.Rows)+1)
	for i, row := range table.Rows {
		parts := make([]string, 0, len(row))
		for j, v := range row {
			if dataset.IsMissing(v) {
				continue
			}
			parts = append(parts, table.Columns[j]+": "+strings.TrimSpace(v))
		}
		if len(parts) == 0 {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s#row-%d", name, i),
			Dataset: name,
			Text:    strings.Join(parts, ", "),
		})
	}
	chunks = append(chunks, Chunk{
		ID:      name + "#summary",
		Dataset: name,
		Text:    Summary(name, table),
	})
	return chunks
}

// Summary describes every column of table in plain sentences.
func Summary(name string, table *dataset.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s has %d rows and %d columns.", name, len(table.Rows), len(table.Columns))
	for _, col := range table.Columns {
		values, _ := table.Column(col)
		kind, _ := table.Kind(col)
		if kind == dataset.KindNumeric {
			if s, ok := numericStats(values); ok {
				fmt.Fprintf(&b, "\nColumn %s: mean %s, min %s, max %s over %d values.",
					col, format(s.mean), format(s.min), format(s.max), s.count)
				continue
			}
			fmt.Fprintf(&b, "\nColumn %s has no values.", col)
			continue
		}
		fmt.Fprintf(&b, "\nColumn %s most common values: %s.", col, strings.Join(topValues(values, topTextValues), ", "))
	}
	return b.String()
}

type stats struct {
	count          int
	mean, min, max float64
}

func numericStats(values []string) (stats, bool) {
	var s stats
	var sum float64
	for _, v := range values {
		if dataset.IsMissing(v) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		if s.count == 0 || f < s.min {
			s.min = f
		}
		if s.count == 0 || f > s.max {
			s.max = f
		}
		sum += f
		s.count++
	}
	if s.count == 0 {
		return s, false
	}
	s.mean = sum / float64(s.count)
	return s, true
}

func topValues(values []string, n int) []string {
	counts := map[string]int{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !dataset.IsMissing(v) {
			counts[v]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s (%d)", k, counts[k])
	}
	return out
}

func format(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
