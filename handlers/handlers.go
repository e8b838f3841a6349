package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/assistant"
	"github.com/loiht2/ml-platform-assistant/backend/clustering"
	"github.com/loiht2/ml-platform-assistant/backend/config"
	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"github.com/loiht2/ml-platform-assistant/backend/middleware"
	"github.com/loiht2/ml-platform-assistant/backend/models"
	"github.com/loiht2/ml-platform-assistant/backend/orchestrator"
	"github.com/loiht2/ml-platform-assistant/backend/pipeline"
	"github.com/loiht2/ml-platform-assistant/backend/repository"
	"github.com/loiht2/ml-platform-assistant/backend/status"
	"github.com/loiht2/ml-platform-assistant/backend/storage"
)

// JobService is the job slot as seen by the API.
type JobService interface {
	Start(req orchestrator.StartRequest) (*orchestrator.Task, error)
	Status() status.TrainingJob
	Current() *orchestrator.Task
}

// JobHistory reads and prunes persisted jobs.
type JobHistory interface {
	GetTrainingJob(id string) (*config.TrainingJob, error)
	ListTrainingJobs(dataset string, limit int) ([]config.TrainingJob, error)
	ListActiveJobs() ([]config.TrainingJob, error)
	DeleteTrainingJob(id string) error
	ToResponse(job *config.TrainingJob) *models.JobResponse
}

// ObjectStore stores uploads and serves logs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, req assistant.Request) assistant.Response
}

// Clusterer runs clustering jobs.
type Clusterer interface {
	Run(ctx context.Context, req clustering.Request) (*clustering.Result, error)
}

// Dependencies of a Handler.
type Dependencies struct {
	Jobs         JobService
	History      JobHistory
	Objects      ObjectStore
	Asker        Asker
	Clustering   Clusterer
	ArtifactRoot string
	MaxUploadMB  int64
}

// Handler handles HTTP requests
type Handler struct {
	deps      Dependencies
	maxUpload int64
}

// NewHandler creates a new handler instance
func NewHandler(deps Dependencies) *Handler {
	maxUpload := deps.MaxUploadMB << 20
	if maxUpload <= 0 {
		maxUpload = 100 << 20
	}
	return &Handler{deps: deps, maxUpload: maxUpload}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/datasets", h.UploadDataset)

		jobs := api.Group("/jobs")
		{
			jobs.POST("", h.StartJob)
			jobs.GET("", h.ListJobs)
			jobs.DELETE("/current", h.CancelJob)
			jobs.GET("/:id", h.GetJob)
			jobs.DELETE("/:id", h.DeleteJob)
		}

		api.POST("/clustering", h.RunClustering)

		api.GET("/progress", h.Progress)
		api.GET("/ready", h.Ready)
		api.POST("/ask", h.Ask)
		api.GET("/logs/:filename", h.GetLog)
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"phase":  h.deps.Jobs.Status().Phase,
		"user":   middleware.GetUserEmail(c),
	})
}

// UploadDataset handles POST /api/v1/datasets
func (h *Handler) UploadDataset(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "File is required", Details: err.Error()})
		return
	}
	defer file.Close()

	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" || !dataset.SupportedName(name) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Unsupported dataset file", Details: "expected a .csv, .txt or .xlsx file"})
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Could not read file", Details: err.Error()})
		return
	}
	if _, err := dataset.Parse(name, buf.Bytes()); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid dataset", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	key := storage.UploadKey(name)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.deps.Objects.Upload(ctx, key, buf.Bytes(), contentType); err != nil {
		zap.S().Errorw("dataset upload failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to upload file to storage", Details: err.Error()})
		return
	}

	zap.S().Infow("dataset uploaded", "key", key, "size", buf.Len(), "user", middleware.GetUserEmail(c))
	c.JSON(http.StatusCreated, models.UploadResponse{Message: "File uploaded successfully", Key: key, Dataset: name})
}

// StartJob handles POST /api/v1/jobs
func (h *Handler) StartJob(c *gin.Context) {
	var req models.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	task, err := h.deps.Jobs.Start(orchestrator.StartRequest{
		Dataset:     req.Dataset,
		ModelChoice: req.ModelChoice,
		RequestedBy: middleware.GetUserEmail(c),
	})
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, status.ErrJobInProgress):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to start job", Details: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, models.StartJobResponse{Message: status.MessageTraining, JobID: task.ID()})
}

// ListJobs handles GET /api/v1/jobs. ?active=true lists only unfinished jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		jobs, err := h.deps.History.ListActiveJobs()
		h.respondJobs(c, jobs, err)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	jobs, err := h.deps.History.ListTrainingJobs(c.Query("dataset"), limit)
	h.respondJobs(c, jobs, err)
}

func (h *Handler) respondJobs(c *gin.Context, jobs []config.TrainingJob, err error) {
	if err != nil {
		zap.S().Errorw("failed to list training jobs", "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list training jobs"})
		return
	}

	resp := models.ListJobsResponse{Jobs: make([]models.JobResponse, 0, len(jobs)), Total: len(jobs)}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, *h.deps.History.ToResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.deps.History.GetTrainingJob(c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		zap.S().Errorw("failed to get training job", "job", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get training job"})
		return
	}
	c.JSON(http.StatusOK, h.deps.History.ToResponse(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:id. The running job cannot be removed.
func (h *Handler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if snap := h.deps.Jobs.Status(); snap.ID == id && snap.Phase.Active() {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "the job is still running", Details: "cancel it first"})
		return
	}

	_, err := h.deps.History.GetTrainingJob(id)
	if err == nil {
		err = h.deps.History.DeleteTrainingJob(id)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		zap.S().Errorw("failed to delete training job", "job", id, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to delete training job"})
		return
	}

	zap.S().Infow("training job deleted", "job", id, "user", middleware.GetUserEmail(c))
	c.Status(http.StatusNoContent)
}

// CancelJob handles DELETE /api/v1/jobs/current
func (h *Handler) CancelJob(c *gin.Context) {
	task := h.deps.Jobs.Current()
	snap := h.deps.Jobs.Status()
	if task == nil || !snap.Phase.Active() || snap.ID != task.ID() {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "no training job is running"})
		return
	}

	task.Cancel()
	zap.S().Infow("training job cancelled", "job", task.ID(), "user", middleware.GetUserEmail(c))
	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested", "jobId": task.ID()})
}

// Progress handles GET /api/v1/progress
func (h *Handler) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Jobs.Status())
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(c *gin.Context) {
	key := pipeline.Key{Dataset: c.Query("dataset"), ModelChoice: c.Query("modelChoice")}
	if key.Dataset == "" || key.ModelChoice == "" {
		snap := h.deps.Jobs.Status()
		if key.Dataset == "" {
			key.Dataset = snap.Dataset
		}
		if key.ModelChoice == "" {
			key.ModelChoice = snap.ModelChoice
		}
	}
	if key.Dataset == "" || key.ModelChoice == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "dataset and modelChoice are required"})
		return
	}

	err := pipeline.VerifyArtifact(pipeline.ArtifactDir(h.deps.ArtifactRoot, key))
	var notReady *pipeline.NotReadyError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.ReadyResponse{Ready: true})
	case errors.As(err, &notReady):
		c.JSON(http.StatusOK, models.ReadyResponse{Ready: false, Missing: notReady.Missing})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to check artifacts", Details: err.Error()})
	}
}

// Ask handles POST /api/v1/ask
func (h *Handler) Ask(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	resp := h.deps.Asker.Ask(c.Request.Context(), assistant.Request{
		Task:        req.Task,
		Question:    req.Question,
		InputData:   req.InputData,
		Dataset:     req.Dataset,
		ModelChoice: req.ModelChoice,
	})
	c.JSON(http.StatusOK, models.AskResponse{Response: resp.Response, Prediction: resp.Prediction, Message: resp.Message})
}

// RunClustering handles POST /api/v1/clustering. It blocks until the run
// finishes and answers with the report and results URLs.
func (h *Handler) RunClustering(c *gin.Context) {
	var req models.ClusteringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	res, err := h.deps.Clustering.Run(c.Request.Context(), clustering.Request{
		Dataset:     req.Dataset,
		Threshold:   req.Threshold,
		Algorithm:   req.Algorithm,
		Plot:        req.Plot,
		RequestedBy: middleware.GetUserEmail(c),
	})
	switch {
	case errors.Is(err, clustering.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, clustering.ErrBusy):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Clustering failed", Details: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.ClusteringResponse{
		Message:    "Clustering completed",
		JobID:      res.ID,
		ReportURL:  res.ReportURL,
		ResultsURL: res.ResultsURL,
	})
}

// GetLog handles GET /api/v1/logs/:filename. ?download=1 serves it as an attachment.
func (h *Handler) GetLog(c *gin.Context) {
	name := c.Param("filename")
	if name != path.Base(name) || !strings.HasSuffix(name, ".log") {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid log file name"})
		return
	}

	data, err := h.deps.Objects.Download(c.Request.Context(), storage.LogKey(name))
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "log file not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to read log", Details: err.Error()})
		return
	}

	if c.Query("download") != "" {
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}
