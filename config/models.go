package config

import (
	"time"

	"gorm.io/gorm"
)

// TrainingJob is the persisted history row of a training job.
type TrainingJob struct {
	ID          string `gorm:"primaryKey"`
	Dataset     string `gorm:"index"`
	ModelChoice string `gorm:"index"`
	RequestedBy string `gorm:"index"`
	Phase       string `gorm:"index"`
	Message     string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
	ReportURL   string `gorm:"type:text"`
	ModelURL    string `gorm:"type:text"`
	LogURL      string `gorm:"type:text"`
	StartedAt   time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// TableName overrides the table name
func (TrainingJob) TableName() string {
	return "training_jobs"
}
