package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loiht2/ml-platform-assistant/backend/generation"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
	"github.com/loiht2/ml-platform-assistant/backend/vectorindex"
)

const (
	ConfigFile   = "config.json"
	TokenizerDir = "_tokenizer"
)

// NotReadyError reports an artifact directory that cannot be loaded yet.
type NotReadyError struct {
	Dir     string
	Missing []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("artifact %s is not ready: missing %s", e.Dir, strings.Join(e.Missing, ", "))
}

// ArtifactDir is where the fine-tuned artifacts for key live under root.
func ArtifactDir(root string, key Key) string {
	return filepath.Join(root, storage.Sanitize(key.Dataset)+"_"+storage.Sanitize(key.ModelChoice))
}

// VerifyArtifact checks that dir holds a model config, weights and a
// non-empty tokenizer directory.
func VerifyArtifact(dir string) error {
	var missing []string

	if !isFile(filepath.Join(dir, ConfigFile)) {
		missing = append(missing, ConfigFile)
	}
	if !hasWeights(dir) {
		missing = append(missing, "model weights")
	}
	entries, err := os.ReadDir(filepath.Join(dir, TokenizerDir))
	if err != nil || len(entries) == 0 {
		missing = append(missing, TokenizerDir)
	}

	if len(missing) > 0 {
		return &NotReadyError{Dir: dir, Missing: missing}
	}
	return nil
}

func hasWeights(dir string) bool {
	if isFile(filepath.Join(dir, "model.safetensors")) || isFile(filepath.Join(dir, "pytorch_model.bin")) {
		return true
	}
	shards, _ := filepath.Glob(filepath.Join(dir, "model-*.safetensors"))
	return len(shards) > 0
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ModelConfig is the subset of config.json the loader reads.
type ModelConfig struct {
	ModelType             string   `json:"model_type"`
	Architectures         []string `json:"architectures"`
	VocabSize             int      `json:"vocab_size"`
	MaxPositionEmbeddings int      `json:"max_position_embeddings"`
}

// ReadModelConfig parses the config file in dir.
func ReadModelConfig(dir string) (ModelConfig, error) {
	var cfg ModelConfig
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid %s in %s: %w", ConfigFile, dir, err)
	}
	return cfg, nil
}

// GeneratorFactory creates a generator serving the artifacts in dir.
type GeneratorFactory func(dir string, cfg ModelConfig, params generation.Params) (generation.Generator, error)

// IndexOpener opens the retrieval index of a dataset.
type IndexOpener interface {
	Open(ctx context.Context, dataset string) (vectorindex.Index, error)
}

// ArtifactLoader loads pipelines from fine-tuned artifact directories.
type ArtifactLoader struct {
	Root         string
	Params       generation.Params
	NewGenerator GeneratorFactory
	Indexes      IndexOpener
}

// Load verifies the artifact directory of key and assembles its pipeline.
func (l *ArtifactLoader) Load(ctx context.Context, key Key) (*Pipeline, error) {
	dir := ArtifactDir(l.Root, key)
	if err := VerifyArtifact(dir); err != nil {
		return nil, err
	}
	cfg, err := ReadModelConfig(dir)
	if err != nil {
		return nil, err
	}
	gen, err := l.NewGenerator(dir, cfg, l.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator for %s: %w", dir, err)
	}
	idx, err := l.Indexes.Open(ctx, key.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to open index for %s: %w", key.Dataset, err)
	}
	return &Pipeline{
		Key:       key,
		Dir:       dir,
		Config:    cfg,
		Generator: gen,
		Index:     idx,
		LoadedAt:  time.Now(),
	}, nil
}
