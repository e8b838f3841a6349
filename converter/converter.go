// Package converter renders the Kubernetes manifests that run the training
// stages of a job.
package converter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	DefaultNamespace     = "default"
	DefaultTrainerImage  = "ghcr.io/loiht2/ml-platform-classifier:latest"
	DefaultFineTuneImage = "ghcr.io/loiht2/ml-platform-finetune:latest"
	DefaultClusterImage  = "ghcr.io/loiht2/ml-platform-clustering:latest"
	DefaultMountPath     = "/artifacts"
	DefaultStorageSecret = "minio-credentials"
	DefaultPVCName       = "ml-platform-artifacts"
	DefaultVolumeSize    = "20Gi"
	DefaultCPU           = "2"
	DefaultMemory        = "8Gi"

	artifactVolume = "artifact-storage"

	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelJobID     = "ml-platform.io/job-id"
	LabelStage     = "ml-platform.io/stage"
	ManagerName    = "ml-platform-assistant"

	AnnotationDataset = "ml-platform.io/dataset"
	AnnotationModel   = "ml-platform.io/model-choice"
)

// Stage is one containerised step of a training job.
type Stage string

const (
	StageClassifier Stage = "classifier"
	StageFineTune   Stage = "finetune"
	StageClustering Stage = "clustering"
)

// Settings describe the cluster side of the training stages.
type Settings struct {
	Namespace      string
	TrainerImage   string
	FineTuneImage  string
	ClusterImage   string
	ServiceAccount string

	// ArtifactPVC is mounted at ArtifactMountPath in both stages. The serving
	// process sees the same volume as its artifact root.
	ArtifactPVC       string
	ArtifactMountPath string
	VolumeSize        string

	// StorageSecret holds the endpoint, accesskey and secretkey of the object store.
	StorageSecret string
	Bucket        string

	CPU    string
	Memory string
	GPU    int

	ActiveDeadlineSeconds int64
}

// Request is the per-job input of the builders.
type Request struct {
	JobID       string
	Dataset     string
	ModelChoice string
	DatasetKey  string
	// OutputPrefix is the object store prefix the classifier writes its outputs under.
	OutputPrefix string
	// ArtifactDir is where the fine-tuned model lands, relative to the serving artifact root.
	ArtifactDir string
}

// ClusteringRequest is the input of ClusteringJob.
type ClusteringRequest struct {
	JobID        string
	Dataset      string
	DatasetKey   string
	OutputPrefix string
	Threshold    float64
	Algorithm    string
	Plot         string
}

// Converter builds manifests from Settings.
type Converter struct {
	settings  Settings
	resources corev1.ResourceRequirements
}

// NewConverter fills defaults and validates the resource quantities.
func NewConverter(s Settings) (*Converter, error) {
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace
	}
	if s.TrainerImage == "" {
		s.TrainerImage = DefaultTrainerImage
	}
	if s.FineTuneImage == "" {
		s.FineTuneImage = DefaultFineTuneImage
	}
	if s.ClusterImage == "" {
		s.ClusterImage = DefaultClusterImage
	}
	if s.ArtifactPVC == "" {
		s.ArtifactPVC = DefaultPVCName
	}
	if s.ArtifactMountPath == "" {
		s.ArtifactMountPath = DefaultMountPath
	}
	if s.VolumeSize == "" {
		s.VolumeSize = DefaultVolumeSize
	}
	if s.StorageSecret == "" {
		s.StorageSecret = DefaultStorageSecret
	}
	if s.CPU == "" {
		s.CPU = DefaultCPU
	}
	if s.Memory == "" {
		s.Memory = DefaultMemory
	}
	if s.Bucket == "" {
		return nil, errors.New("converter: bucket is required")
	}

	cpu, err := resource.ParseQuantity(s.CPU)
	if err != nil {
		return nil, fmt.Errorf("converter: invalid cpu %q: %w", s.CPU, err)
	}
	memory, err := resource.ParseQuantity(s.Memory)
	if err != nil {
		return nil, fmt.Errorf("converter: invalid memory %q: %w", s.Memory, err)
	}
	if _, err := resource.ParseQuantity(s.VolumeSize); err != nil {
		return nil, fmt.Errorf("converter: invalid volume size %q: %w", s.VolumeSize, err)
	}

	list := corev1.ResourceList{corev1.ResourceCPU: cpu, corev1.ResourceMemory: memory}
	c := &Converter{settings: s, resources: corev1.ResourceRequirements{Requests: list, Limits: list.DeepCopy()}}
	return c, nil
}

// Settings returns the effective settings.
func (c *Converter) Settings() Settings {
	return c.settings
}

// JobName is the name of the Kubernetes Job running stage for jobID.
func JobName(stage Stage, jobID string) string {
	name := strings.ToLower(string(stage) + "-" + jobID)
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-")
	}
	return name
}

// ClassifierTrainingJob trains the tabular classifier. The container writes
// report.pdf and model_and_info.zip under OutputPrefix in the bucket.
func (c *Converter) ClassifierTrainingJob(req Request) *batchv1.Job {
	env := append(c.commonEnv(req),
		corev1.EnvVar{Name: "OUTPUT_PREFIX", Value: req.OutputPrefix},
	)
	return c.job(StageClassifier, req, c.settings.TrainerImage, env, c.resources.DeepCopy())
}

// FineTuneJob adapts the generative model and writes it to ArtifactDir on the
// shared volume. GPUs are only requested for this stage.
func (c *Converter) FineTuneJob(req Request) *batchv1.Job {
	env := append(c.commonEnv(req),
		corev1.EnvVar{Name: "ARTIFACT_DIR", Value: c.mountedPath(req.ArtifactDir)},
	)
	res := c.resources.DeepCopy()
	if c.settings.GPU > 0 {
		gpu := resource.MustParse(fmt.Sprintf("%d", c.settings.GPU))
		res.Limits["nvidia.com/gpu"] = gpu
		res.Requests["nvidia.com/gpu"] = gpu
	}
	return c.job(StageFineTune, req, c.settings.FineTuneImage, env, res)
}

// ClusteringJob runs the clustering workflow on a dataset. The container
// writes report.pdf and results.csv under OutputPrefix in the bucket.
func (c *Converter) ClusteringJob(req ClusteringRequest) *batchv1.Job {
	base := Request{JobID: req.JobID, Dataset: req.Dataset, DatasetKey: req.DatasetKey}
	env := append(c.commonEnv(base),
		corev1.EnvVar{Name: "OUTPUT_PREFIX", Value: req.OutputPrefix},
		corev1.EnvVar{Name: "THRESHOLD", Value: strconv.FormatFloat(req.Threshold, 'f', -1, 64)},
		corev1.EnvVar{Name: "ALGORITHM", Value: req.Algorithm},
		corev1.EnvVar{Name: "PLOT", Value: req.Plot},
	)
	return c.job(StageClustering, base, c.settings.ClusterImage, env, c.resources.DeepCopy())
}

// ArtifactPVC is the shared volume claim for fine-tuned artifacts.
func (c *Converter) ArtifactPVC() *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "PersistentVolumeClaim",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.settings.ArtifactPVC,
			Namespace: c.settings.Namespace,
			Labels:    map[string]string{LabelManagedBy: ManagerName},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{
				corev1.ReadWriteMany,
			},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(c.settings.VolumeSize),
				},
			},
		},
	}
}

func (c *Converter) job(stage Stage, req Request, image string, env []corev1.EnvVar, res *corev1.ResourceRequirements) *batchv1.Job {
	labels := map[string]string{
		LabelManagedBy: ManagerName,
		LabelJobID:     req.JobID,
		LabelStage:     string(stage),
	}
	var backoff int32
	ttl := int32(3600)

	job := &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobName(stage, req.JobID),
			Namespace: c.settings.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				AnnotationDataset: req.Dataset,
				AnnotationModel:   req.ModelChoice,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
					Annotations: map[string]string{
						"sidecar.istio.io/inject": "false",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: c.settings.ServiceAccount,
					Containers: []corev1.Container{{
						Name:      string(stage),
						Image:     image,
						Env:       env,
						Resources: *res,
						VolumeMounts: []corev1.VolumeMount{{
							Name:      artifactVolume,
							MountPath: c.settings.ArtifactMountPath,
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: artifactVolume,
						VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
								ClaimName: c.settings.ArtifactPVC,
							},
						},
					}},
				},
			},
		},
	}
	if c.settings.ActiveDeadlineSeconds > 0 {
		deadline := c.settings.ActiveDeadlineSeconds
		job.Spec.ActiveDeadlineSeconds = &deadline
	}
	return job
}

func (c *Converter) commonEnv(req Request) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "JOB_ID", Value: req.JobID},
		{Name: "DATASET", Value: req.Dataset},
		{Name: "DATASET_KEY", Value: req.DatasetKey},
		{Name: "MODEL_CHOICE", Value: req.ModelChoice},
		{Name: "S3_BUCKET", Value: c.settings.Bucket},
		c.secretEnv("S3_ENDPOINT", "endpoint"),
		c.secretEnv("S3_ACCESS_KEY", "accesskey"),
		c.secretEnv("S3_SECRET_KEY", "secretkey"),
	}
}

func (c *Converter) secretEnv(name, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: c.settings.StorageSecret},
				Key:                  key,
			},
		},
	}
}

// mountedPath maps an artifact directory to its path inside the container:
// the last element is kept and placed under the mount.
func (c *Converter) mountedPath(dir string) string {
	dir = strings.TrimRight(strings.ReplaceAll(dir, "\\", "/"), "/")
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[i+1:]
	}
	return strings.TrimRight(c.settings.ArtifactMountPath, "/") + "/" + dir
}
