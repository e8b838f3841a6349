package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/assistant"
	"github.com/loiht2/ml-platform-assistant/backend/clustering"
	"github.com/loiht2/ml-platform-assistant/backend/config"
	"github.com/loiht2/ml-platform-assistant/backend/converter"
	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"github.com/loiht2/ml-platform-assistant/backend/generation"
	"github.com/loiht2/ml-platform-assistant/backend/handlers"
	"github.com/loiht2/ml-platform-assistant/backend/k8s"
	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/middleware"
	"github.com/loiht2/ml-platform-assistant/backend/monitor"
	"github.com/loiht2/ml-platform-assistant/backend/orchestrator"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/rag"
	"github.com/loiht2/ml-platform-assistant/backend/repository"
	"github.com/loiht2/ml-platform-assistant/backend/serving"
	"github.com/loiht2/ml-platform-assistant/backend/status"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
	"github.com/loiht2/ml-platform-assistant/backend/vectorindex"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the API and run training jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()
		return run(ctx, cfg, logger)
	},
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	log := zap.S()
	log.Info("starting ML platform assistant backend")
	defer log.Info("ML platform assistant backend stopped")

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	repo := repository.NewRepository(db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("migrating job history: %w", err)
	}
	if n, err := repo.MarkInterrupted(); err != nil {
		log.Warnw("could not close interrupted jobs", "error", err)
	} else if n > 0 {
		log.Infow("closed jobs interrupted by the last shutdown", "count", n)
	}

	kube, err := config.InitKubernetes(cfg)
	if err != nil {
		return err
	}
	objects, err := config.InitStorage(ctx, cfg, kube)
	if err != nil {
		return fmt.Errorf("initializing object storage: %w", err)
	}

	indexes, closeIndexes, err := newVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndexes()

	conv, err := converter.NewConverter(converter.Settings{
		Namespace:             cfg.Kubernetes.Namespace,
		TrainerImage:          cfg.Kubernetes.TrainerImage,
		FineTuneImage:         cfg.Kubernetes.FineTuneImage,
		ClusterImage:          cfg.Kubernetes.ClusterImage,
		ServiceAccount:        cfg.Kubernetes.ServiceAccount,
		ArtifactPVC:           cfg.Kubernetes.ArtifactPVC,
		ArtifactMountPath:     cfg.Kubernetes.MountPath,
		VolumeSize:            cfg.Kubernetes.VolumeSize,
		StorageSecret:         cfg.Storage.Secret,
		Bucket:                cfg.Storage.Bucket,
		CPU:                   cfg.Kubernetes.CPU,
		Memory:                cfg.Kubernetes.Memory,
		GPU:                   cfg.Kubernetes.GPU,
		ActiveDeadlineSeconds: int64(cfg.Kubernetes.Deadline / time.Second),
	})
	if err != nil {
		return err
	}
	runner := k8s.NewJobRunner(k8s.NewClient(kube, cfg.Kubernetes.Namespace), conv, objects, cfg.Kubernetes.PollInterval)
	if err := runner.Prepare(ctx); err != nil {
		return fmt.Errorf("preparing kubernetes namespace: %w", err)
	}

	tables := dataset.NewSource(objects, storage.UploadKey)
	params := generation.Params{
		Temperature:    cfg.Generation.Temperature,
		TopP:           cfg.Generation.TopP,
		MaxNewTokens:   int(cfg.Generation.MaxNewTokens),
		DoSample:       cfg.Generation.DoSample,
		ReturnFullText: cfg.Generation.ReturnFullText,
		Candidates:     1,
	}
	genCfg := generation.OpenAIConfig{BaseURL: cfg.Generation.BaseURL, APIKey: cfg.Generation.APIKey}
	cache := pipeline.NewCache(&pipeline.ArtifactLoader{
		Root:   cfg.Artifacts.Root,
		Params: params,
		NewGenerator: func(dir string, _ pipeline.ModelConfig, p generation.Params) (generation.Generator, error) {
			return generation.NewOpenAIGenerator(genCfg, dir, p), nil
		},
		Indexes: indexes,
	})

	store := status.NewStore()
	orch := orchestrator.New(store, orchestrator.Dependencies{
		Trainer:   runner,
		FineTuner: runner,
		Indexer:   vectorindex.NewBuilder(tables, indexes),
		Artifacts: objects,
		Cache:     cache,
		Logger:    logger,
	}, orchestrator.Config{
		ArtifactRoot: cfg.Artifacts.Root,
		URLExpiry:    cfg.Storage.URLExpiry,
	})

	classifiers := serving.NewClient(cfg.Serving.BaseURL, cfg.Serving.Timeout).
		SetInstanceFormat(serving.InstanceFormat(cfg.Serving.InstanceFormat))
	asker := assistant.NewService(rag.NewEngine(cache), tables, classifiers, store)

	jobMonitor := monitor.NewJobMonitor(orch, repo, cfg.Server.MonitorInterval)
	store.OnFinish(jobMonitor.Record)
	jobMonitor.Start()
	defer jobMonitor.Stop()

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.KubeflowAuthMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(metrics.NewMiddleware("ml_platform_assistant", prometheus.DefaultRegisterer).Handler())

	handlers.NewHandler(handlers.Dependencies{
		Jobs:         orch,
		History:      repo,
		Objects:      objects,
		Asker:        asker,
		Clustering:   clustering.NewService(runner, objects, cfg.Storage.URLExpiry),
		ArtifactRoot: cfg.Artifacts.Root,
		MaxUploadMB:  cfg.Server.MaxUploadMB,
	}).Register(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server forced to shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warnw("training job did not stop in time", "error", err)
	}
	return nil
}

// newVectorStore opens the configured backend. The index builder writes to it
// and the pipeline loader reads from it.
func newVectorStore(ctx context.Context, cfg *config.Config) (vectorindex.Store, func(), error) {
	embedder := vectorindex.NewVoyageEmbedder(cfg.Vector.VoyageAPIKey, cfg.Vector.VoyageModel, cfg.Vector.Dimensions)

	switch cfg.Vector.Backend {
	case config.VectorPinecone:
		store, err := vectorindex.NewPineconeStore(cfg.Vector.PineconeAPIKey, cfg.Vector.PineconeHost, embedder)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.VectorMemory:
		zap.S().Warn("using the in-memory vector index, indexes are lost on restart")
		return vectorindex.NewMemoryStore(embedder), func() {}, nil
	default:
		pool, err := config.InitVectorPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := vectorindex.NewPGVectorStore(pool, embedder)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("preparing vector schema: %w", err)
		}
		return store, pool.Close, nil
	}
}
