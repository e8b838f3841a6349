package k8s

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/loiht2/ml-platform-assistant/backend/clustering"
	"github.com/loiht2/ml-platform-assistant/backend/converter"
	"github.com/loiht2/ml-platform-assistant/backend/logging"
	"github.com/loiht2/ml-platform-assistant/backend/orchestrator"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

// Output names the classifier container writes under its staging prefix.
const (
	StagedReport      = "report.pdf"
	StagedModelBundle = "model_and_info.zip"
	StagedResults     = "results.csv"
)

// ObjectStore is the part of the object store the runner reads staged outputs from.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// JobRunner runs the training stages of a job as Kubernetes Jobs.
type JobRunner struct {
	client    *Client
	converter *converter.Converter
	objects   ObjectStore
	poll      time.Duration
	logTail   int64
}

// NewJobRunner wires a runner. poll defaults to five seconds.
func NewJobRunner(client *Client, conv *converter.Converter, objects ObjectStore, poll time.Duration) *JobRunner {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &JobRunner{client: client, converter: conv, objects: objects, poll: poll, logTail: 200}
}

// Prepare makes sure the shared artifact volume exists and removes unfinished
// Jobs left behind by an earlier process, since nothing waits for them.
func (r *JobRunner) Prepare(ctx context.Context) error {
	if err := r.client.EnsurePVC(ctx, r.converter.ArtifactPVC()); err != nil {
		return err
	}
	jobs, err := r.client.ListJobs(ctx, converter.LabelManagedBy+"="+converter.ManagerName)
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx).With(zap.String("namespace", r.client.Namespace()))
	for _, job := range jobs {
		if done, _ := jobFinished(&job); done {
			continue
		}
		if err := r.client.DeleteJob(ctx, job.Name); err != nil {
			return err
		}
		logger.Info("removed stale kubernetes job", zap.String("k8sJob", job.Name))
	}
	return nil
}

// TrainClassifier implements orchestrator.ClassifierTrainer.
func (r *JobRunner) TrainClassifier(ctx context.Context, spec orchestrator.JobSpec) (*orchestrator.TrainOutput, error) {
	req := request(spec)
	if err := r.run(ctx, r.converter.ClassifierTrainingJob(req)); err != nil {
		return nil, err
	}

	staged, err := r.collect(ctx, spec.ID, StagedReport, StagedModelBundle)
	if err != nil {
		return nil, err
	}
	return &orchestrator.TrainOutput{Report: staged[0], ModelBundle: staged[1]}, nil
}

// FineTune implements orchestrator.FineTuner.
func (r *JobRunner) FineTune(ctx context.Context, spec orchestrator.JobSpec) error {
	return r.run(ctx, r.converter.FineTuneJob(request(spec)))
}

// Cluster implements clustering.Runner.
func (r *JobRunner) Cluster(ctx context.Context, spec clustering.Spec) (*clustering.Output, error) {
	job := r.converter.ClusteringJob(converter.ClusteringRequest{
		JobID:        spec.ID,
		Dataset:      spec.Dataset,
		DatasetKey:   spec.DatasetKey,
		OutputPrefix: storage.StagingPrefixFor(spec.ID),
		Threshold:    spec.Threshold,
		Algorithm:    spec.Algorithm,
		Plot:         spec.Plot,
	})
	if err := r.run(ctx, job); err != nil {
		return nil, err
	}
	staged, err := r.collect(ctx, spec.ID, StagedReport, StagedResults)
	if err != nil {
		return nil, err
	}
	return &clustering.Output{Report: staged[0], Results: staged[1]}, nil
}

// collect downloads the staged outputs of a job in order, then removes them.
func (r *JobRunner) collect(ctx context.Context, jobID string, names ...string) ([][]byte, error) {
	staged := make([][]byte, len(names))
	for i, name := range names {
		data, err := r.objects.Download(ctx, storage.StagingKey(jobID, name))
		if err != nil {
			return nil, fmt.Errorf("read staged %s: %w", name, err)
		}
		staged[i] = data
	}
	for _, name := range names {
		key := storage.StagingKey(jobID, name)
		if err := r.objects.Delete(ctx, key); err != nil {
			logging.FromContext(ctx).Warn("could not remove staged output", zap.String("key", key), zap.Error(err))
		}
	}
	return staged, nil
}

func request(spec orchestrator.JobSpec) converter.Request {
	return converter.Request{
		JobID:        spec.ID,
		Dataset:      spec.Dataset,
		ModelChoice:  spec.ModelChoice,
		DatasetKey:   spec.DatasetKey,
		OutputPrefix: storage.StagingPrefixFor(spec.ID),
		ArtifactDir:  spec.ArtifactDir,
	}
}

// run submits job, waits for it and copies the container output into the
// job log. A cancelled ctx deletes the job.
func (r *JobRunner) run(ctx context.Context, job *batchv1.Job) error {
	logger := logging.FromContext(ctx).With(zap.String("k8sJob", job.Name))

	if _, err := r.client.CreateJob(ctx, job); err != nil {
		return err
	}
	logger.Info("submitted kubernetes job")

	waitErr := r.client.WaitForJob(ctx, job.Name, r.poll)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	r.copyLogs(cleanupCtx, logger, job.Name)

	if waitErr != nil {
		if ctx.Err() != nil {
			if err := r.client.DeleteJob(cleanupCtx, job.Name); err != nil {
				logger.Warn("could not delete cancelled job", zap.Error(err))
			}
		}
		return fmt.Errorf("job %s: %w", job.Name, waitErr)
	}
	logger.Info("kubernetes job finished")
	return nil
}

func (r *JobRunner) copyLogs(ctx context.Context, logger *zap.Logger, jobName string) {
	pods, err := r.client.ListPodsForJob(ctx, jobName)
	if err != nil {
		logger.Warn("could not list job pods", zap.Error(err))
		return
	}
	for _, pod := range pods.Items {
		for _, c := range pod.Spec.Containers {
			text, err := r.client.GetPodLogs(ctx, pod.Name, c.Name, r.logTail)
			if err != nil {
				logger.Warn("could not read pod logs", zap.String("pod", pod.Name), zap.Error(err))
				continue
			}
			for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
				if line != "" {
					logger.Info(line, zap.String("pod", pod.Name))
				}
			}
		}
	}
}
