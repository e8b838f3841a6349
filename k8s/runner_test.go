package k8s

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"

	"github.com/loiht2/ml-platform-assistant/backend/clustering"
	"github.com/loiht2/ml-platform-assistant/backend/converter"
	"github.com/loiht2/ml-platform-assistant/backend/logging"
	"github.com/loiht2/ml-platform-assistant/backend/orchestrator"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

const testNamespace = "ml"

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func (m *memObjects) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// finishJobs makes every created Job report the given condition.
func finishJobs(cs *fake.Clientset, cond batchv1.JobConditionType) {
	cs.PrependReactor("create", "jobs", func(action ktesting.Action) (bool, runtime.Object, error) {
		job := action.(ktesting.CreateAction).GetObject().(*batchv1.Job)
		job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
			Type:    cond,
			Status:  corev1.ConditionTrue,
			Reason:  "Test",
			Message: "finished by test",
		})
		return false, nil, nil
	})
}

func jobPod(jobName string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName + "-abcde",
			Namespace: testNamespace,
			Labels:    map[string]string{"job-name": jobName},
		},
		Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "main"}}},
	}
}

func newRunner(t *testing.T, cs *fake.Clientset, objects ObjectStore) *JobRunner {
	t.Helper()
	conv, err := converter.NewConverter(converter.Settings{Namespace: testNamespace, Bucket: "ml-platform-service"})
	require.NoError(t, err)
	return NewJobRunner(NewClient(cs, testNamespace), conv, objects, 10*time.Millisecond)
}

func testSpec() orchestrator.JobSpec {
	return orchestrator.JobSpec{
		ID:          "job-1",
		Dataset:     "iris.csv",
		ModelChoice: "gpt2",
		DatasetKey:  "uploaded/iris.csv",
		ArtifactDir: "/srv/artifacts/iris.csv_gpt2",
	}
}

func TestTrainClassifierReadsStagedOutputs(t *testing.T) {
	spec := testSpec()
	jobName := converter.JobName(converter.StageClassifier, spec.ID)
	cs := fake.NewSimpleClientset(jobPod(jobName))
	finishJobs(cs, batchv1.JobComplete)

	objects := &memObjects{objects: map[string][]byte{
		storage.StagingKey(spec.ID, StagedReport):      []byte("%PDF"),
		storage.StagingKey(spec.ID, StagedModelBundle): []byte("PK"),
	}}
	runner := newRunner(t, cs, objects)

	logger, jobLog := logging.NewJobLogger(zap.NewNop())
	ctx := logging.WithLogger(context.Background(), logger)

	out, err := runner.TrainClassifier(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), out.Report)
	assert.Equal(t, []byte("PK"), out.ModelBundle)
	assert.Len(t, objects.deleted, 2)

	job, err := cs.BatchV1().Jobs(testNamespace).Get(context.Background(), jobName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, spec.ID, job.Labels[converter.LabelJobID])

	// container output is copied into the job log
	assert.Contains(t, string(jobLog.Bytes()), "fake logs")
}

func TestTrainClassifierMissingOutput(t *testing.T) {
	cs := fake.NewSimpleClientset()
	finishJobs(cs, batchv1.JobComplete)
	runner := newRunner(t, cs, &memObjects{objects: map[string][]byte{}})

	_, err := runner.TrainClassifier(context.Background(), testSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestFineTuneJobFailure(t *testing.T) {
	cs := fake.NewSimpleClientset()
	finishJobs(cs, batchv1.JobFailed)
	runner := newRunner(t, cs, &memObjects{})

	err := runner.FineTune(context.Background(), testSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "finished by test")
}

func TestFineTuneCancelDeletesJob(t *testing.T) {
	cs := fake.NewSimpleClientset()
	runner := newRunner(t, cs, &memObjects{})
	spec := testSpec()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := runner.FineTune(ctx, spec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	_, err = cs.BatchV1().Jobs(testNamespace).Get(context.Background(), converter.JobName(converter.StageFineTune, spec.ID), metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestPrepareIsIdempotent(t *testing.T) {
	cs := fake.NewSimpleClientset()
	runner := newRunner(t, cs, &memObjects{})

	require.NoError(t, runner.Prepare(context.Background()))
	require.NoError(t, runner.Prepare(context.Background()))

	_, err := cs.CoreV1().PersistentVolumeClaims(testNamespace).Get(context.Background(), converter.DefaultPVCName, metav1.GetOptions{})
	assert.NoError(t, err)
}

func TestJobFinished(t *testing.T) {
	done, err := jobFinished(&batchv1.Job{})
	assert.False(t, done)
	assert.NoError(t, err)

	done, err = jobFinished(&batchv1.Job{Status: batchv1.JobStatus{Succeeded: 1}})
	assert.True(t, done)
	assert.NoError(t, err)

	done, err = jobFinished(&batchv1.Job{Status: batchv1.JobStatus{Failed: 1}})
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestClusterReadsStagedOutputs(t *testing.T) {
	spec := clustering.Spec{ID: "job-2", Dataset: "sales.csv", DatasetKey: "uploaded/sales.csv", Threshold: 0.4, Algorithm: "kmeans", Plot: "pca"}
	jobName := converter.JobName(converter.StageClustering, spec.ID)
	cs := fake.NewSimpleClientset(jobPod(jobName))
	finishJobs(cs, batchv1.JobComplete)

	objects := &memObjects{objects: map[string][]byte{
		storage.StagingKey(spec.ID, StagedReport):  []byte("%PDF"),
		storage.StagingKey(spec.ID, StagedResults): []byte("id,cluster\n"),
	}}
	out, err := newRunner(t, cs, objects).Cluster(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), out.Report)
	assert.Equal(t, []byte("id,cluster\n"), out.Results)
	assert.Empty(t, objects.objects)

	job, err := cs.BatchV1().Jobs(testNamespace).Get(context.Background(), jobName, metav1.GetOptions{})
	require.NoError(t, err)
	env := map[string]string{}
	for _, e := range job.Spec.Template.Spec.Containers[0].Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, "0.4", env["THRESHOLD"])
	assert.Equal(t, "staging/job-2/", env["OUTPUT_PREFIX"])
}

func TestClusterMissingResults(t *testing.T) {
	spec := clustering.Spec{ID: "job-3", Dataset: "sales.csv", Threshold: 1, Algorithm: "dbscan", Plot: "tsne"}
	cs := fake.NewSimpleClientset()
	finishJobs(cs, batchv1.JobComplete)
	objects := &memObjects{objects: map[string][]byte{storage.StagingKey(spec.ID, StagedReport): []byte("%PDF")}}

	_, err := newRunner(t, cs, objects).Cluster(context.Background(), spec)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Empty(t, objects.deleted, "nothing is removed until every output is read")
}

func TestPrepareRemovesStaleJobs(t *testing.T) {
	managed := map[string]string{converter.LabelManagedBy: converter.ManagerName}
	running := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "train-old", Namespace: testNamespace, Labels: managed}}
	finished := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "train-done", Namespace: testNamespace, Labels: managed},
		Status:     batchv1.JobStatus{Succeeded: 1},
	}
	foreign := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "someone-else", Namespace: testNamespace}}
	cs := fake.NewSimpleClientset(running, finished, foreign)

	require.NoError(t, newRunner(t, cs, &memObjects{}).Prepare(context.Background()))

	jobs, err := cs.BatchV1().Jobs(testNamespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	var names []string
	for _, j := range jobs.Items {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{"train-done", "someone-else"}, names)
}
