package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

// Config holds all configuration for the backend
type Config struct {
	Server     serverConfig
	Database   dbConfig
	Storage    storageConfig
	Kubernetes kubernetesConfig
	Artifacts  artifactConfig
	Generation generationConfig
	Vector     vectorConfig
	Serving    servingConfig
}

type serverConfig struct {
	Address         string        `envconfig:"SERVER_ADDRESS" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
	MaxUploadMB     int64         `envconfig:"MAX_UPLOAD_MB" default:"100"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"10s"`
}

type dbConfig struct {
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"mlplatform"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

type storageConfig struct {
	Endpoint  string        `envconfig:"MINIO_ENDPOINT" default:""`
	AccessKey string        `envconfig:"MINIO_ACCESS_KEY" default:""`
	SecretKey string        `envconfig:"MINIO_SECRET_KEY" default:""`
	UseSSL    bool          `envconfig:"MINIO_USE_SSL" default:"false"`
	Region    string        `envconfig:"MINIO_REGION" default:"us-east-1"`
	Bucket    string        `envconfig:"MINIO_BUCKET" default:"ml-platform-service"`
	Secret    string        `envconfig:"MINIO_SECRET_NAME" default:"minio-credentials"`
	URLExpiry time.Duration `envconfig:"ARTIFACT_URL_EXPIRY" default:"10h"`
}

type kubernetesConfig struct {
	Kubeconfig     string        `envconfig:"KUBECONFIG" default:""`
	Namespace      string        `envconfig:"JOB_NAMESPACE" default:"default"`
	ServiceAccount string        `envconfig:"JOB_SERVICE_ACCOUNT" default:""`
	TrainerImage   string        `envconfig:"TRAINER_IMAGE" default:"ghcr.io/loiht2/ml-platform-classifier:latest"`
	FineTuneImage  string        `envconfig:"FINETUNE_IMAGE" default:"ghcr.io/loiht2/ml-platform-finetune:latest"`
	ClusterImage   string        `envconfig:"CLUSTER_IMAGE" default:"ghcr.io/loiht2/ml-platform-clustering:latest"`
	ArtifactPVC    string        `envconfig:"ARTIFACT_PVC" default:"ml-platform-artifacts"`
	MountPath      string        `envconfig:"ARTIFACT_MOUNT_PATH" default:"/artifacts"`
	VolumeSize     string        `envconfig:"ARTIFACT_VOLUME_SIZE" default:"20Gi"`
	CPU            string        `envconfig:"JOB_CPU" default:"2"`
	Memory         string        `envconfig:"JOB_MEMORY" default:"8Gi"`
	GPU            int           `envconfig:"JOB_GPU" default:"0"`
	Deadline       time.Duration `envconfig:"JOB_DEADLINE" default:"6h"`
	PollInterval   time.Duration `envconfig:"JOB_POLL_INTERVAL" default:"5s"`
}

type artifactConfig struct {
	Root string `envconfig:"ARTIFACT_ROOT" default:"./artifacts"`
}

type generationConfig struct {
	BaseURL        string  `envconfig:"GENERATION_BASE_URL" default:"http://localhost:8000/v1"`
	APIKey         string  `envconfig:"GENERATION_API_KEY" default:"EMPTY"`
	Temperature    float64 `envconfig:"GENERATION_TEMPERATURE" default:"0.7"`
	TopP           float64 `envconfig:"GENERATION_TOP_P" default:"0.95"`
	MaxNewTokens   int64   `envconfig:"GENERATION_MAX_NEW_TOKENS" default:"200"`
	DoSample       bool    `envconfig:"GENERATION_DO_SAMPLE" default:"true"`
	ReturnFullText bool    `envconfig:"GENERATION_RETURN_FULL_TEXT" default:"false"`
}

type vectorConfig struct {
	Backend        string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	DatabaseURL    string `envconfig:"VECTOR_DATABASE_URL" default:""`
	PineconeAPIKey string `envconfig:"PINECONE_API_KEY" default:""`
	PineconeHost   string `envconfig:"PINECONE_INDEX_HOST" default:""`
	VoyageAPIKey   string `envconfig:"VOYAGE_API_KEY" default:""`
	VoyageModel    string `envconfig:"VOYAGE_MODEL" default:"voyage-3.5-lite"`
	Dimensions     int    `envconfig:"VOYAGE_DIMENSIONS" default:"512"`
}

type servingConfig struct {
	BaseURL string        `envconfig:"SERVING_BASE_URL" default:"http://localhost:8081"`
	Timeout time.Duration `envconfig:"SERVING_TIMEOUT" default:"30s"`
	// positional or named
	InstanceFormat string `envconfig:"SERVING_INSTANCE_FORMAT" default:"positional"`
}

// Vector backends.
const (
	VectorPGVector = "pgvector"
	VectorPinecone = "pinecone"
	VectorMemory   = "memory"
)

// New reads the configuration from the environment.
func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	switch cfg.Vector.Backend {
	case VectorPGVector, VectorPinecone, VectorMemory:
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
	switch cfg.Serving.InstanceFormat {
	case "positional", "named":
	default:
		return nil, fmt.Errorf("unknown serving instance format %q", cfg.Serving.InstanceFormat)
	}
	return cfg, nil
}

// DSN is the gorm connection string of the job history database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Database.Hostname, c.Database.User, c.Database.Password, c.Database.Name, c.Database.Port, c.Database.SSLMode)
}

// VectorURL is the pgx connection URL of the pgvector store. It defaults to
// the job history database.
func (c *Config) VectorURL() string {
	if c.Vector.DatabaseURL != "" {
		return c.Vector.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     c.Database.Hostname + ":" + c.Database.Port,
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// InitDB opens the job history database.
func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	zap.S().Infow("database initialized", "host", cfg.Database.Hostname, "name", cfg.Database.Name)
	return db, nil
}

// InitVectorPool opens the pgx pool used by the pgvector store.
func InitVectorPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.VectorURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach vector database: %w", err)
	}
	return pool, nil
}

// InitKubernetes builds a clientset from KUBECONFIG, or the in-cluster
// config when it is unset.
func InitKubernetes(cfg *Config) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if cfg.Kubernetes.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubernetes.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	zap.S().Infow("kubernetes client initialized", "namespace", cfg.Kubernetes.Namespace)
	return client, nil
}

// InitStorage connects to MinIO. Explicit credentials win; otherwise they are
// read from the storage secret in the job namespace.
func InitStorage(ctx context.Context, cfg *Config, k8sClient kubernetes.Interface) (*storage.MinIOClient, error) {
	mc := storage.MinIOConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
	}

	var client *storage.MinIOClient
	var err error
	if mc.AccessKey != "" || k8sClient == nil {
		client, err = storage.NewMinIOClient(mc)
	} else {
		client, err = storage.NewMinIOClientFromK8s(ctx, k8sClient, cfg.Kubernetes.Namespace, cfg.Storage.Secret, mc)
	}
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
