package models

import "time"

// StartJobRequest is the payload of POST /api/v1/jobs.
type StartJobRequest struct {
	Dataset     string `json:"dataset" binding:"required"`
	ModelChoice string `json:"modelChoice" binding:"required"`
}

// StartJobResponse acknowledges an accepted job.
type StartJobResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

// AskRequest is the payload of POST /api/v1/ask. InputData may be a string,
// a list of values or an object keyed by column name.
type AskRequest struct {
	Task        string      `json:"task"`
	Question    string      `json:"question"`
	InputData   interface{} `json:"inputData"`
	Dataset     string      `json:"dataset"`
	ModelChoice string      `json:"modelChoice"`
}

// AskResponse carries the answer text and, for predictions, the label.
type AskResponse struct {
	Response   string  `json:"response"`
	Prediction *string `json:"prediction"`
	Message    string  `json:"message,omitempty"`
}

type Artifacts struct {
	ReportURL string `json:"reportUrl,omitempty"`
	ModelURL  string `json:"modelUrl,omitempty"`
	LogURL    string `json:"logUrl,omitempty"`
}

// JobResponse is one row of the job history.
type JobResponse struct {
	ID          string     `json:"id"`
	Dataset     string     `json:"dataset"`
	ModelChoice string     `json:"modelChoice"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	Phase       string     `json:"phase"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   *Artifacts `json:"artifacts,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// ListJobsResponse represents list of jobs
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// UploadResponse acknowledges a stored dataset.
type UploadResponse struct {
	Message string `json:"message"`
	Key     string `json:"key"`
	Dataset string `json:"dataset"`
}

// ReadyResponse reports whether the artifacts of a dataset/model pair are complete.
type ReadyResponse struct {
	Ready   bool     `json:"ready"`
	Missing []string `json:"missing,omitempty"`
}

// ClusteringRequest is the payload of POST /api/v1/clustering.
type ClusteringRequest struct {
	Dataset   string  `json:"dataset" binding:"required"`
	Threshold float64 `json:"threshold" binding:"required"`
	Algorithm string  `json:"algorithm" binding:"required"`
	Plot      string  `json:"plot" binding:"required"`
}

// ClusteringResponse points at the outputs of a finished clustering run.
type ClusteringResponse struct {
	Message    string `json:"message"`
	JobID      string `json:"jobId"`
	ReportURL  string `json:"reportUrl"`
	ResultsURL string `json:"resultsUrl"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
