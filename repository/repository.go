package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loiht2/ml-platform-assistant/backend/config"
	"github.com/loiht2/ml-platform-assistant/backend/models"
	"github.com/loiht2/ml-platform-assistant/backend/status"
)

// ErrNotFound is returned when no job has the requested id.
var ErrNotFound = errors.New("training job not found")

// InterruptedMessage is recorded for jobs that were active when the process stopped.
const InterruptedMessage = "interrupted by service restart"

// Repository handles database operations
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&config.TrainingJob{})
}

// SaveSnapshot inserts or updates the row of a status snapshot.
func (r *Repository) SaveSnapshot(job status.TrainingJob) error {
	if job.ID == "" {
		return nil
	}
	row := fromSnapshot(job)
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"phase", "message", "error", "report_url", "model_url", "log_url", "finished_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save training job %s: %w", job.ID, err)
	}
	return nil
}

func fromSnapshot(job status.TrainingJob) config.TrainingJob {
	row := config.TrainingJob{
		ID:          job.ID,
		Dataset:     job.Dataset,
		ModelChoice: job.ModelChoice,
		RequestedBy: job.RequestedBy,
		Phase:       string(job.Phase),
		Message:     job.Message,
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Artifacts != nil {
		row.ReportURL = job.Artifacts.ReportURL
		row.ModelURL = job.Artifacts.ModelURL
		row.LogURL = job.Artifacts.LogURL
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	return row
}

// GetTrainingJob retrieves a training job by ID
func (r *Repository) GetTrainingJob(id string) (*config.TrainingJob, error) {
	var job config.TrainingJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListTrainingJobs lists jobs newest first, optionally for one dataset.
func (r *Repository) ListTrainingJobs(dataset string, limit int) ([]config.TrainingJob, error) {
	var jobs []config.TrainingJob
	query := r.db.Order("started_at DESC")

	if dataset != "" {
		query = query.Where("dataset = ?", dataset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListActiveJobs lists all jobs that are not in a terminal phase.
func (r *Repository) ListActiveJobs() ([]config.TrainingJob, error) {
	var jobs []config.TrainingJob
	err := r.db.Where("phase NOT IN (?)", []string{string(status.PhaseCompleted), string(status.PhaseFailed)}).
		Order("started_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkInterrupted fails every job left active by a previous process. The
// in-memory status store starts empty, so nothing would finish them.
func (r *Repository) MarkInterrupted() (int64, error) {
	now := time.Now()
	res := r.db.Model(&config.TrainingJob{}).
		Where("phase NOT IN (?)", []string{string(status.PhaseCompleted), string(status.PhaseFailed)}).
		Updates(map[string]interface{}{
			"phase":       string(status.PhaseFailed),
			"message":     status.MessageFailed,
			"error":       InterruptedMessage,
			"finished_at": now,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

// DeleteTrainingJob soft deletes a training job
func (r *Repository) DeleteTrainingJob(id string) error {
	return r.db.Where("id = ?", id).Delete(&config.TrainingJob{}).Error
}

// ToResponse converts a database TrainingJob to API response
func (r *Repository) ToResponse(job *config.TrainingJob) *models.JobResponse {
	resp := &models.JobResponse{
		ID:          job.ID,
		Dataset:     job.Dataset,
		ModelChoice: job.ModelChoice,
		RequestedBy: job.RequestedBy,
		Phase:       job.Phase,
		Status:      job.Message,
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
	if job.ReportURL != "" || job.ModelURL != "" || job.LogURL != "" {
		resp.Artifacts = &models.Artifacts{
			ReportURL: job.ReportURL,
			ModelURL:  job.ModelURL,
			LogURL:    job.LogURL,
		}
	}
	return resp
}
