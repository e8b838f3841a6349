// Package assistant answers ask requests, routing each one to the classifier
// or to the retrieval engine.
package assistant

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/predict"
	"github.com/loiht2/ml-platform-assistant/backend/status"
)

// Request is one ask call. InputData is the decoded JSON payload, if any.
type Request struct {
	Task        string
	Question    string
	InputData   any
	Dataset     string
	ModelChoice string
}

// Response is always returned; failures are described in its text.
type Response struct {
	Response   string  `json:"response"`
	Prediction *string `json:"prediction"`
	Message    string  `json:"message,omitempty"`
}

// Answerer is the retrieval engine.
type Answerer interface {
	Answer(ctx context.Context, question string, key pipeline.Key) string
}

// TableLoader loads the reference dataset of a trained classifier.
type TableLoader interface {
	Load(ctx context.Context, name string) (*dataset.Table, error)
}

// ClassifierLoader resolves the trained classifier of a dataset and model.
type ClassifierLoader interface {
	Load(ctx context.Context, dataset, model string) (predict.Classifier, error)
}

// StatusReader exposes the current job.
type StatusReader interface {
	Snapshot() status.TrainingJob
}

// Service implements the ask flow.
type Service struct {
	rag         Answerer
	tables      TableLoader
	classifiers ClassifierLoader
	jobs        StatusReader
}

// NewService wires the ask flow.
func NewService(rag Answerer, tables TableLoader, classifiers ClassifierLoader, jobs StatusReader) *Service {
	return &Service{rag: rag, tables: tables, classifiers: classifiers, jobs: jobs}
}

// Ask answers req. Dataset and model default to those of the current job.
func (s *Service) Ask(ctx context.Context, req Request) Response {
	if req.Dataset == "" || req.ModelChoice == "" {
		snap := s.jobs.Snapshot()
		if req.Dataset == "" {
			req.Dataset = snap.Dataset
		}
		if req.ModelChoice == "" {
			req.ModelChoice = snap.ModelChoice
		}
	}
	key := pipeline.Key{Dataset: req.Dataset, ModelChoice: req.ModelChoice}
	log := zap.S().With("dataset", req.Dataset, "model", req.ModelChoice)

	in, err := predict.ResolveInput(req.Question, req.InputData)
	if err != nil {
		return Response{Response: err.Error(), Message: err.Error()}
	}
	task := predict.ParseTask(req.Task)

	var (
		reference  *dataset.Table
		features   []string
		classifier predict.Classifier
	)
	if predict.NeedsSchema(task, in) {
		reference, classifier, err = s.loadModel(ctx, req.Dataset, req.ModelChoice)
		if err != nil {
			log.Warnw("model loading failed", "error", err)
			failure := fmt.Sprintf("Model loading failed: %v", err)
			if predict.Structured(in) {
				return Response{Response: failure, Message: predict.NotLoadedMessage}
			}
			// A question with numbers in it may still be a plain question.
			answer := s.rag.Answer(ctx, req.Question, key)
			return Response{Response: answer + "\n" + failure, Message: predict.NotLoadedMessage}
		}
		features = reference.FeatureColumns()
	}

	d := predict.Decide(task, in, len(features))
	log.Debugw("routed ask request", "task", task, "route", d.Route.String())

	switch d.Route {
	case predict.RoutePredict:
		pred, msg := predict.Predict(ctx, d.Input, classifier, reference, features)
		if pred == nil {
			return Response{Response: msg, Message: msg}
		}
		return Response{Response: "Prediction result: " + *pred, Prediction: pred, Message: msg}
	case predict.RouteMismatch:
		answer := s.rag.Answer(ctx, req.Question, key)
		return Response{Response: answer + "\n" + d.Message, Message: d.Message}
	default:
		return Response{Response: s.rag.Answer(ctx, req.Question, key)}
	}
}

func (s *Service) loadModel(ctx context.Context, name, model string) (*dataset.Table, predict.Classifier, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("no dataset selected")
	}
	classifier, err := s.classifiers.Load(ctx, name, model)
	if err != nil {
		return nil, nil, err
	}
	table, err := s.tables.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return table, classifier, nil
}
