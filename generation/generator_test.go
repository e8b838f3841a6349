package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v2/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, texts []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*seen = body

		choices := make([]map[string]any, 0, len(texts))
		for i, text := range texts {
			choices = append(choices, map[string]any{
				"index": i, "text": text, "finish_reason": "stop", "logprobs": nil,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1", "object": "text_completion", "created": 0, "model": body["model"],
			"choices": choices,
		})
	}))
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 0.7, p.Temperature)
	assert.Equal(t, 0.95, p.TopP)
	assert.Equal(t, 200, p.MaxNewTokens)
	assert.True(t, p.DoSample)
	assert.False(t, p.ReturnFullText)
}

func TestOpenAIGeneratorSendsSamplingParams(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, []string{" first", " second"}, &seen)
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k"}, "/artifacts/iris_qwen", DefaultParams(), option.WithMaxRetries(0))
	out, err := g.Generate(context.Background(), "Question: hi\nAnswer:")
	require.NoError(t, err)

	assert.Equal(t, []string{" first", " second"}, out)
	assert.Equal(t, "/artifacts/iris_qwen", seen["model"])
	assert.Equal(t, "Question: hi\nAnswer:", seen["prompt"])
	assert.Equal(t, 0.7, seen["temperature"])
	assert.Equal(t, 0.95, seen["top_p"])
	assert.Equal(t, float64(200), seen["max_tokens"])
}

func TestOpenAIGeneratorFullTextAndGreedy(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, []string{" there"}, &seen)
	defer srv.Close()

	params := DefaultParams()
	params.ReturnFullText = true
	params.DoSample = false
	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1/"}, "m", params, option.WithMaxRetries(0))

	out, err := g.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, out)
	assert.Equal(t, float64(0), seen["temperature"])
}

func TestOpenAIGeneratorNoChoices(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, nil, &seen)
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1"}, "m", DefaultParams(), option.WithMaxRetries(0))
	_, err := g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestOpenAIGeneratorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1"}, "m", DefaultParams(), option.WithMaxRetries(0))
	_, err := g.Generate(context.Background(), "p")
	assert.Error(t, err)
}
