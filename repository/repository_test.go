package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loiht2/ml-platform-assistant/backend/status"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func snapshot(id, dataset string, phase status.Phase, started time.Time) status.TrainingJob {
	return status.TrainingJob{
		ID:          id,
		Dataset:     dataset,
		ModelChoice: "gpt2",
		RequestedBy: "user@example.com",
		Phase:       phase,
		Message:     status.MessageTraining,
		StartedAt:   started,
		UpdatedAt:   started,
	}
}

func TestSaveSnapshotUpserts(t *testing.T) {
	repo := newTestRepository(t)
	start := time.Now().Add(-time.Minute).UTC()

	job := snapshot("job-1", "iris.csv", status.PhaseTraining, start)
	require.NoError(t, repo.SaveSnapshot(job))

	finished := time.Now().UTC()
	job.Phase = status.PhaseCompleted
	job.Message = status.MessageCompleted
	job.FinishedAt = &finished
	job.UpdatedAt = finished
	job.Artifacts = &status.Artifacts{ReportURL: "r", ModelURL: "m", LogURL: "l"}
	require.NoError(t, repo.SaveSnapshot(job))

	row, err := repo.GetTrainingJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, string(status.PhaseCompleted), row.Phase)
	assert.Equal(t, status.MessageCompleted, row.Message)
	assert.Equal(t, "m", row.ModelURL)
	assert.Equal(t, "user@example.com", row.RequestedBy)
	require.NotNil(t, row.FinishedAt)

	resp := repo.ToResponse(row)
	require.NotNil(t, resp.Artifacts)
	assert.Equal(t, "l", resp.Artifacts.LogURL)
	assert.Equal(t, status.MessageCompleted, resp.Status)
}

func TestSaveSnapshotIgnoresEmptySlot(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.SaveSnapshot(status.TrainingJob{Phase: status.PhasePending}))

	jobs, err := repo.ListTrainingJobs("", 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGetTrainingJobNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetTrainingJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTrainingJobs(t *testing.T) {
	repo := newTestRepository(t)
	base := time.Now().UTC()
	require.NoError(t, repo.SaveSnapshot(snapshot("a", "iris.csv", status.PhaseFailed, base.Add(-2*time.Hour))))
	require.NoError(t, repo.SaveSnapshot(snapshot("b", "titanic.csv", status.PhaseCompleted, base.Add(-time.Hour))))
	require.NoError(t, repo.SaveSnapshot(snapshot("c", "iris.csv", status.PhaseTraining, base)))

	all, err := repo.ListTrainingJobs("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	iris, err := repo.ListTrainingJobs("iris.csv", 1)
	require.NoError(t, err)
	require.Len(t, iris, 1)
	assert.Equal(t, "c", iris[0].ID)

	active, err := repo.ListActiveJobs()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].ID)
}

func TestMarkInterrupted(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().UTC()
	require.NoError(t, repo.SaveSnapshot(snapshot("done", "iris.csv", status.PhaseCompleted, now.Add(-time.Hour))))
	require.NoError(t, repo.SaveSnapshot(snapshot("running", "iris.csv", status.PhaseGeneratingArtifacts, now)))

	n, err := repo.MarkInterrupted()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	row, err := repo.GetTrainingJob("running")
	require.NoError(t, err)
	assert.Equal(t, string(status.PhaseFailed), row.Phase)
	assert.Equal(t, InterruptedMessage, row.Error)

	row, err = repo.GetTrainingJob("done")
	require.NoError(t, err)
	assert.Equal(t, string(status.PhaseCompleted), row.Phase)
}

func TestDeleteTrainingJob(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.SaveSnapshot(snapshot("a", "iris.csv", status.PhaseFailed, time.Now())))
	require.NoError(t, repo.DeleteTrainingJob("a"))

	_, err := repo.GetTrainingJob("a")
	assert.ErrorIs(t, err, ErrNotFound)
}
