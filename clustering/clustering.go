// Package clustering runs the unsupervised workflow on an uploaded dataset
// and publishes its report and per-row results.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/loiht2/ml-platform-assistant/backend/logging"
	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

var (
	ErrInvalidRequest = errors.New("invalid clustering request")
	ErrBusy           = errors.New("a clustering run is already in progress")
)

// Request asks for one clustering run.
type Request struct {
	Dataset     string
	Threshold   float64
	Algorithm   string
	Plot        string
	RequestedBy string
}

// Spec is what the Runner receives.
type Spec struct {
	ID         string
	Dataset    string
	DatasetKey string
	Threshold  float64
	Algorithm  string
	Plot       string
}

// Output is produced by a clustering run.
type Output struct {
	Report  []byte
	Results []byte
}

// Runner executes the clustering algorithm.
type Runner interface {
	Cluster(ctx context.Context, spec Spec) (*Output, error)
}

// Result holds the retrieval URLs of a finished run.
type Result struct {
	ID         string `json:"jobId"`
	ReportURL  string `json:"reportUrl"`
	ResultsURL string `json:"resultsUrl"`
}

// Service runs one clustering job at a time and waits for it.
type Service struct {
	runner    Runner
	artifacts storage.PublishStore
	expiry    time.Duration
	slot      *semaphore.Weighted
}

// NewService creates a service. expiry defaults to ten hours.
func NewService(runner Runner, artifacts storage.PublishStore, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 10 * time.Hour
	}
	return &Service{runner: runner, artifacts: artifacts, expiry: expiry, slot: semaphore.NewWeighted(1)}
}

// Run validates req, runs the clustering job and publishes its outputs. It
// returns ErrBusy while another run holds the slot. Cancelling ctx stops the
// run.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		metrics.IncreaseClusteringMetric(metrics.OutcomeRejected)
		return nil, err
	}
	if !s.slot.TryAcquire(1) {
		metrics.IncreaseClusteringMetric(metrics.OutcomeRejected)
		return nil, ErrBusy
	}
	defer s.slot.Release(1)

	spec := Spec{
		ID:         uuid.NewString(),
		Dataset:    req.Dataset,
		DatasetKey: storage.UploadKey(req.Dataset),
		Threshold:  req.Threshold,
		Algorithm:  req.Algorithm,
		Plot:       req.Plot,
	}
	logger := zap.L().With(zap.String("job", spec.ID), zap.String("dataset", spec.Dataset),
		zap.String("algorithm", spec.Algorithm), zap.String("user", req.RequestedBy))
	ctx = logging.WithLogger(ctx, logger)

	res, err := s.run(ctx, spec, logger)
	if err != nil {
		logger.Error("clustering failed", zap.Error(err))
		metrics.IncreaseClusteringMetric(metrics.OutcomeFailed)
		return nil, err
	}
	metrics.IncreaseClusteringMetric(metrics.OutcomeSuccess)
	return res, nil
}

func (s *Service) run(ctx context.Context, spec Spec, logger *zap.Logger) (*Result, error) {
	logger.Info("clustering started", zap.Float64("threshold", spec.Threshold), zap.String("plot", spec.Plot))
	out, err := s.runner.Cluster(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("clustering run failed: %w", err)
	}
	if out == nil || len(out.Report) == 0 || len(out.Results) == 0 {
		return nil, errors.New("clustering produced no report or results")
	}

	pub := storage.NewPublisher(s.artifacts, s.expiry, logger)
	res := &Result{ID: spec.ID}
	reportKey := storage.ResultKey(storage.ClusteringReportName(spec.Dataset))
	if res.ReportURL, err = pub.Put(ctx, reportKey, out.Report, "application/pdf"); err != nil {
		pub.Rollback(ctx)
		return nil, err
	}
	resultsKey := storage.ResultKey(storage.ClusteringResultsName(spec.Dataset))
	if res.ResultsURL, err = pub.Put(ctx, resultsKey, out.Results, "text/csv"); err != nil {
		pub.Rollback(ctx)
		return nil, err
	}
	logger.Info("clustering completed")
	return res, nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Dataset) == "":
		return fmt.Errorf("%w: dataset is required", ErrInvalidRequest)
	case strings.ContainsAny(req.Dataset, `/\`) || req.Dataset == "." || req.Dataset == "..":
		return fmt.Errorf("%w: dataset must be a file name", ErrInvalidRequest)
	case math.IsNaN(req.Threshold) || math.IsInf(req.Threshold, 0) || req.Threshold <= 0:
		return fmt.Errorf("%w: threshold must be a positive number", ErrInvalidRequest)
	case strings.TrimSpace(req.Algorithm) == "":
		return fmt.Errorf("%w: algorithm is required", ErrInvalidRequest)
	case strings.TrimSpace(req.Plot) == "":
		return fmt.Errorf("%w: plot is required", ErrInvalidRequest)
	}
	return nil
}
