// Command render-job prints the Kubernetes manifests a training job would
// submit, without contacting a cluster.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/loiht2/ml-platform-assistant/backend/converter"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

type options struct {
	dataset      string
	modelChoice  string
	jobID        string
	artifactRoot string
	settings     converter.Settings
}

func newCommand(out io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "render-job",
		Short: "Print the classifier and fine-tune Job manifests as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(out, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.dataset, "dataset", "", "Uploaded dataset file name")
	flags.StringVar(&opts.modelChoice, "model", "", "Generative model to fine-tune")
	flags.StringVar(&opts.jobID, "job-id", "", "Job id (random when empty)")
	flags.StringVar(&opts.artifactRoot, "artifact-root", "/artifacts", "Artifact root seen by the serving process")
	flags.StringVar(&opts.settings.Namespace, "namespace", converter.DefaultNamespace, "Namespace of the Jobs")
	flags.StringVar(&opts.settings.Bucket, "bucket", "ml-platform-service", "Object storage bucket")
	flags.StringVar(&opts.settings.TrainerImage, "trainer-image", converter.DefaultTrainerImage, "Classifier training image")
	flags.StringVar(&opts.settings.FineTuneImage, "finetune-image", converter.DefaultFineTuneImage, "Fine-tuning image")
	flags.StringVar(&opts.settings.CPU, "cpu", converter.DefaultCPU, "CPU request and limit")
	flags.StringVar(&opts.settings.Memory, "memory", converter.DefaultMemory, "Memory request and limit")
	flags.IntVar(&opts.settings.GPU, "gpu", 0, "GPUs for the fine-tune stage")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func render(out io.Writer, opts options) error {
	conv, err := converter.NewConverter(opts.settings)
	if err != nil {
		return err
	}
	if opts.jobID == "" {
		opts.jobID = uuid.NewString()
	}

	req := converter.Request{
		JobID:        opts.jobID,
		Dataset:      opts.dataset,
		ModelChoice:  opts.modelChoice,
		DatasetKey:   storage.UploadKey(opts.dataset),
		OutputPrefix: storage.StagingPrefixFor(opts.jobID),
		ArtifactDir:  pipeline.ArtifactDir(opts.artifactRoot, pipeline.Key{Dataset: opts.dataset, ModelChoice: opts.modelChoice}),
	}

	docs := []interface{}{conv.ArtifactPVC(), conv.ClassifierTrainingJob(req), conv.FineTuneJob(req)}
	for i, doc := range docs {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal manifest: %w", err)
		}
		if i > 0 {
			fmt.Fprintln(out, "---")
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := newCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
