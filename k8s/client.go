package k8s

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
)

// ErrJobFailed is returned by WaitForJob when the Job reports failure.
var ErrJobFailed = errors.New("kubernetes job failed")

const maxLogBytes = 1 << 20

// Client handles Kubernetes operations in one namespace.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient creates a new Kubernetes client
func NewClient(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{clientset: clientset, namespace: namespace}
}

func (c *Client) Namespace() string {
	return c.namespace
}

// CreateJob creates a Kubernetes Job
func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	createdJob, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	zap.S().Infow("created job", "namespace", createdJob.Namespace, "name", createdJob.Name)
	return createdJob, nil
}

// GetJob retrieves a job
func (c *Client) GetJob(ctx context.Context, name string) (*batchv1.Job, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// DeleteJob deletes a job and its pods. A missing job is not an error.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	zap.S().Infow("deleted job", "namespace", c.namespace, "name", name)
	return nil
}

// EnsurePVC creates the claim unless it already exists.
func (c *Client) EnsurePVC(ctx context.Context, pvc *corev1.PersistentVolumeClaim) error {
	_, err := c.clientset.CoreV1().PersistentVolumeClaims(c.namespace).Create(ctx, pvc, metav1.CreateOptions{})
	switch {
	case apierrors.IsAlreadyExists(err):
		return nil
	case err != nil:
		return fmt.Errorf("failed to create PVC: %w", err)
	}

	zap.S().Infow("created PVC", "namespace", c.namespace, "name", pvc.Name)
	return nil
}

// ListJobs lists the jobs matching a label selector.
func (c *Client) ListJobs(ctx context.Context, selector string) ([]batchv1.Job, error) {
	jobList, err := c.clientset.BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobList.Items, nil
}

// WaitForJob polls the job until it completes or fails, or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, name string, interval time.Duration) error {
	var failure error
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		job, err := c.GetJob(ctx, name)
		if err != nil {
			return false, err
		}
		done, ferr := jobFinished(job)
		failure = ferr
		return done, nil
	})
	if err != nil {
		return err
	}
	return failure
}

func jobFinished(job *batchv1.Job) (bool, error) {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return true, nil
		case batchv1.JobFailed:
			return true, fmt.Errorf("%w: %s: %s", ErrJobFailed, cond.Reason, cond.Message)
		}
	}
	switch {
	case job.Status.Succeeded > 0:
		return true, nil
	case job.Status.Failed > 0:
		return true, fmt.Errorf("%w: %d failed pods", ErrJobFailed, job.Status.Failed)
	}
	return false, nil
}

// ListPodsForJob lists pods for a specific job
func (c *Client) ListPodsForJob(ctx context.Context, jobName string) (*corev1.PodList, error) {
	labelSelector := fmt.Sprintf("job-name=%s", jobName)
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	return pods, nil
}

// GetPodLogs retrieves the tail of a pod's logs.
func (c *Client) GetPodLogs(ctx context.Context, podName, containerName string, tailLines int64) (string, error) {
	podLogOpts := corev1.PodLogOptions{Container: containerName}
	if tailLines > 0 {
		podLogOpts.TailLines = &tailLines
	}

	req := c.clientset.CoreV1().Pods(c.namespace).GetLogs(podName, &podLogOpts)
	logs, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get pod logs: %w", err)
	}
	defer logs.Close()

	buf, err := io.ReadAll(io.LimitReader(logs, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(buf), nil
}
