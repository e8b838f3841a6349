package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
)

// Params controls sampling for a single prompt.
type Params struct {
	Temperature    float64
	TopP           float64
	MaxNewTokens   int
	DoSample       bool
	ReturnFullText bool
	Candidates     int
}

// DefaultParams are the sampling settings used for question answering.
func DefaultParams() Params {
	return Params{
		Temperature:    0.7,
		TopP:           0.95,
		MaxNewTokens:   200,
		DoSample:       true,
		ReturnFullText: false,
		Candidates:     1,
	}
}

// Generator turns a prompt into one or more candidate continuations.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

var ErrNoCandidates = errors.New("generator returned no candidates")

// OpenAIConfig points at an OpenAI compatible completions server that hosts
// the fine-tuned artifacts.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

// OpenAIGenerator generates text through the completions endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  string
	params Params
}

// NewOpenAIGenerator creates a generator serving model with params.
func NewOpenAIGenerator(cfg OpenAIConfig, model string, params Params, opts ...option.RequestOption) *OpenAIGenerator {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		url := cfg.BaseURL
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		base = append(base, option.WithBaseURL(url))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
		params: params,
	}
}

// Generate sends prompt as is and returns the generated candidates in order.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) ([]string, error) {
	temperature := g.params.Temperature
	if !g.params.DoSample {
		temperature = 0
	}
	n := g.params.Candidates
	if n < 1 {
		n = 1
	}

	resp, err := g.client.Completions.New(ctx, openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(g.model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		MaxTokens:   openai.Int(int64(g.params.MaxNewTokens)),
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(g.params.TopP),
		N:           openai.Int(int64(n)),
	})
	if err != nil {
		return nil, fmt.Errorf("completion request for %s failed: %w", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoCandidates
	}

	out := make([]string, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		text := c.Text
		if g.params.ReturnFullText {
			text = prompt + text
		}
		out = append(out, text)
	}
	zap.S().Debugw("generated completion", "model", g.model, "candidates", len(out))
	return out, nil
}
