// Package orchestrator runs the training workflow for an uploaded dataset in
// the background and reports its progress through the status store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/logging"
	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/status"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

var ErrInvalidRequest = errors.New("invalid job request")

// JobSpec is what the training collaborators receive.
type JobSpec struct {
	ID          string
	Dataset     string
	ModelChoice string
	DatasetKey  string
	ArtifactDir string
}

// TrainOutput is produced by classifier training.
type TrainOutput struct {
	Report      []byte
	ModelBundle []byte
}

// ClassifierTrainer fits the classifier for a dataset.
type ClassifierTrainer interface {
	TrainClassifier(ctx context.Context, spec JobSpec) (*TrainOutput, error)
}

// FineTuner adapts the generative model to a dataset and writes its
// artifacts to spec.ArtifactDir.
type FineTuner interface {
	FineTune(ctx context.Context, spec JobSpec) error
}

// IndexBuilder builds or refreshes the retrieval index of a dataset.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, dataset string) error
}

// ArtifactStore publishes job outputs.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// CacheInvalidator drops stale pipelines after retraining.
type CacheInvalidator interface {
	Invalidate(key pipeline.Key)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Trainer   ClassifierTrainer
	FineTuner FineTuner
	Indexer   IndexBuilder
	Artifacts ArtifactStore
	Cache     CacheInvalidator
	Logger    *zap.Logger
}

// Config tunes an Orchestrator.
type Config struct {
	ArtifactRoot string
	URLExpiry    time.Duration
}

// StartRequest asks for a new training job.
type StartRequest struct {
	Dataset     string
	ModelChoice string
	RequestedBy string
}

// Orchestrator owns the single job slot.
type Orchestrator struct {
	status *status.Store
	deps   Dependencies
	cfg    Config

	mu      sync.Mutex
	current *Task
}

// New creates an orchestrator writing to store.
func New(store *status.Store, deps Dependencies, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 10 * time.Hour
	}
	return &Orchestrator{status: store, deps: deps, cfg: cfg}
}

// Start validates req, claims the job slot and runs the job in the
// background. It returns status.ErrJobInProgress while another job is active.
func (o *Orchestrator) Start(req StartRequest) (*Task, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := o.status.Begin(id, req.Dataset, req.ModelChoice, req.RequestedBy); err != nil {
		return nil, err
	}
	metrics.IncreaseJobTransitionMetric(string(status.PhaseTraining))

	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{id: id, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.current = task
	o.mu.Unlock()

	spec := JobSpec{
		ID:          id,
		Dataset:     req.Dataset,
		ModelChoice: req.ModelChoice,
		DatasetKey:  storage.UploadKey(req.Dataset),
		ArtifactDir: pipeline.ArtifactDir(o.cfg.ArtifactRoot, pipeline.Key{Dataset: req.Dataset, ModelChoice: req.ModelChoice}),
	}
	go o.run(ctx, task, spec)
	return task, nil
}

func validate(req StartRequest) error {
	switch {
	case strings.TrimSpace(req.Dataset) == "":
		return fmt.Errorf("%w: dataset is required", ErrInvalidRequest)
	case strings.TrimSpace(req.ModelChoice) == "":
		return fmt.Errorf("%w: model choice is required", ErrInvalidRequest)
	case strings.ContainsAny(req.Dataset, `/\`) || req.Dataset == "." || req.Dataset == "..":
		return fmt.Errorf("%w: dataset must be a file name", ErrInvalidRequest)
	}
	return nil
}

// Status returns a snapshot of the job slot.
func (o *Orchestrator) Status() status.TrainingJob {
	return o.status.Snapshot()
}

// Current returns the most recently started task, or nil.
func (o *Orchestrator) Current() *Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Shutdown cancels the running task and waits for it to stop.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	task := o.Current()
	if task == nil {
		return nil
	}
	task.Cancel()
	select {
	case <-task.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, task *Task, spec JobSpec) {
	defer task.cancel()
	defer close(task.done)

	logger, jobLog := logging.NewJobLogger(o.deps.Logger)
	logger = logger.With(zap.String("job", spec.ID), zap.String("dataset", spec.Dataset), zap.String("model", spec.ModelChoice))

	defer func() {
		if r := recover(); r != nil {
			o.fail(logger, task, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := o.execute(ctx, spec, logger, jobLog); err != nil {
		o.fail(logger, task, err)
	}
}

func (o *Orchestrator) execute(ctx context.Context, spec JobSpec, logger *zap.Logger, jobLog *logging.JobLog) error {
	ctx = logging.WithLogger(ctx, logger)
	logger.Info(status.MessageTraining)
	out, err := o.deps.Trainer.TrainClassifier(ctx, spec)
	if err != nil {
		return fmt.Errorf("classifier training failed: %w", err)
	}
	if out == nil || len(out.Report) == 0 || len(out.ModelBundle) == 0 {
		return errors.New("classifier training produced no report or model bundle")
	}
	logger.Info("classifier trained", zap.Int("reportBytes", len(out.Report)), zap.Int("modelBytes", len(out.ModelBundle)))

	if err := o.deps.FineTuner.FineTune(ctx, spec); err != nil {
		return fmt.Errorf("fine-tuning failed: %w", err)
	}
	logger.Info("language model fine-tuned", zap.String("artifactDir", spec.ArtifactDir))
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.status.Advance(spec.ID, status.PhaseTraining, status.PhaseGeneratingArtifacts, status.MessageGenerating); err != nil {
		return err
	}
	metrics.IncreaseJobTransitionMetric(string(status.PhaseGeneratingArtifacts))

	if err := o.deps.Indexer.BuildIndex(ctx, spec.Dataset); err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}
	logger.Info("retrieval index built")

	pub := storage.NewPublisher(o.deps.Artifacts, o.cfg.URLExpiry, logger)
	artifacts, err := o.publish(ctx, pub, spec, out, logger, jobLog)
	if err != nil {
		pub.Rollback(ctx)
		return err
	}

	o.deps.Cache.Invalidate(pipeline.Key{Dataset: spec.Dataset, ModelChoice: spec.ModelChoice})

	if err := o.status.Complete(spec.ID, artifacts); err != nil {
		return err
	}
	metrics.IncreaseJobTransitionMetric(string(status.PhaseCompleted))
	logger.Info(status.MessageCompleted)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, pub *storage.Publisher, spec JobSpec, out *TrainOutput, logger *zap.Logger, jobLog *logging.JobLog) (status.Artifacts, error) {
	var a status.Artifacts
	var err error

	reportKey := storage.ResultKey(storage.ReportName(spec.Dataset, spec.ModelChoice))
	if a.ReportURL, err = pub.Put(ctx, reportKey, out.Report, "application/pdf"); err != nil {
		return a, err
	}
	modelKey := storage.ResultKey(storage.ModelBundleName(spec.Dataset, spec.ModelChoice))
	if a.ModelURL, err = pub.Put(ctx, modelKey, out.ModelBundle, "application/zip"); err != nil {
		return a, err
	}

	logger.Info("artifacts uploaded, uploading job log")
	logKey := storage.LogKey(storage.LogName(spec.Dataset))
	if a.LogURL, err = pub.Put(ctx, logKey, jobLog.Bytes(), "text/plain; charset=utf-8"); err != nil {
		return a, err
	}
	return a, nil
}

func (o *Orchestrator) fail(logger *zap.Logger, task *Task, err error) {
	task.setErr(err)
	logger.Error(status.MessageFailed, zap.Error(err))
	if serr := o.status.Fail(task.id, err); serr != nil {
		logger.Warn("could not record job failure", zap.Error(serr))
		return
	}
	metrics.IncreaseJobTransitionMetric(string(status.PhaseFailed))
}
