package vectorindex

import (
	"context"
	"fmt"

	"github.com/austinfhunter/voyageai"
)

const voyageBatchSize = 128

// VoyageEmbedder embeds text through the Voyage AI API.
type VoyageEmbedder struct {
	client *voyageai.VoyageClient
	model  string
	dims   int
}

// NewVoyageEmbedder creates an embedder for model producing dims sized vectors.
func NewVoyageEmbedder(apiKey, model string, dims int) *VoyageEmbedder {
	return &VoyageEmbedder{
		client: voyageai.NewClient(&voyageai.VoyageClientOpts{Key: apiKey}),
		model:  model,
		dims:   dims,
	}
}

// Dimensions returns the output dimension requested from the API.
func (v *VoyageEmbedder) Dimensions() int {
	return v.dims
}

// Embed sends texts in batches and returns one vector per text.
func (v *VoyageEmbedder) Embed(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	inputType := string(purpose)
	dims := v.dims

	for start := 0; start < len(texts); start += voyageBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+voyageBatchSize, len(texts))
		resp, err := v.client.Embed(texts[start:end], v.model, &voyageai.EmbeddingRequestOpts{
			InputType:       &inputType,
			OutputDimension: &dims,
		})
		if err != nil {
			return nil, fmt.Errorf("could not get embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Data))
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}
