// Package rag answers free-text questions from the retrieval index and the
// fine-tuned generator of a dataset.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/textclean"
)

const (
	// TopK is the number of chunks placed in the prompt context.
	TopK = 4

	NotReadyMessage = "QA pipeline is not ready"
	ErrorPrefix     = "RAG error: "
)

const promptTemplate = `You are a helpful AI assistant. Use the context below to answer the user's question.

Context:
%s

Question:
%s

Answer:`

// PipelineSource yields the loaded pipeline for a key.
type PipelineSource interface {
	GetOrLoad(ctx context.Context, key pipeline.Key) (*pipeline.Pipeline, error)
}

// Engine is the question answering boundary. It never returns an error;
// failures become user-visible text.
type Engine struct {
	pipelines PipelineSource
}

// NewEngine creates an engine reading pipelines from source.
func NewEngine(source PipelineSource) *Engine {
	return &Engine{pipelines: source}
}

// BuildPrompt renders the fixed prompt around the retrieved text and question.
func BuildPrompt(retrieved, question string) string {
	return fmt.Sprintf(promptTemplate, retrieved, question)
}

// Answer returns a cleaned answer to question for key.
func (e *Engine) Answer(ctx context.Context, question string, key pipeline.Key) (answer string) {
	p, err := e.pipelines.GetOrLoad(ctx, key)
	if err != nil {
		var nr *pipeline.NotReadyError
		if errors.As(err, &nr) {
			zap.S().Infow("pipeline not ready", "dataset", key.Dataset, "model", key.ModelChoice, "missing", nr.Missing)
		} else {
			zap.S().Warnw("failed to load pipeline", "dataset", key.Dataset, "model", key.ModelChoice, "error", err)
		}
		metrics.IncreaseRAGAnswerMetric(metrics.OutcomeNotReady)
		return NotReadyMessage
	}

	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("recovered panic while answering", "dataset", key.Dataset, "panic", r)
			metrics.IncreaseRAGAnswerMetric(metrics.OutcomeError)
			answer = fmt.Sprintf("%s%v", ErrorPrefix, r)
		}
	}()

	text, err := e.generate(ctx, p, question)
	if err != nil {
		zap.S().Warnw("failed to answer question", "dataset", key.Dataset, "model", key.ModelChoice, "error", err)
		metrics.IncreaseRAGAnswerMetric(metrics.OutcomeError)
		return ErrorPrefix + err.Error()
	}
	metrics.IncreaseRAGAnswerMetric(metrics.OutcomeAnswered)
	return text
}

func (e *Engine) generate(ctx context.Context, p *pipeline.Pipeline, question string) (string, error) {
	chunks, err := p.Index.Search(ctx, question, TopK)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	candidates, err := p.Generator.Generate(ctx, BuildPrompt(strings.Join(texts, "\n"), question))
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errors.New("generator returned no candidates")
	}
	return textclean.Clean(candidates[0]), nil
}
