package status

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreStartsPending(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	assert.Equal(t, PhasePending, snap.Phase)
	assert.Equal(t, MessageWaiting, snap.Message)
	assert.Empty(t, snap.ID)
}

func TestLifecycleToCompleted(t *testing.T) {
	s := NewStore()

	job, err := s.Begin("job-1", "iris.csv", "qwen", "alice")
	require.NoError(t, err)
	assert.Equal(t, PhaseTraining, job.Phase)
	assert.Equal(t, MessageTraining, job.Message)

	require.NoError(t, s.Advance("job-1", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating))
	require.NoError(t, s.Complete("job-1", Artifacts{ReportURL: "r", ModelURL: "m", LogURL: "l"}))

	snap := s.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, MessageCompleted, snap.Message)
	require.NotNil(t, snap.Artifacts)
	assert.Equal(t, "r", snap.Artifacts.ReportURL)
	assert.NotNil(t, snap.FinishedAt)
}

func TestFailRecordsCause(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "iris.csv", "qwen", "")
	require.NoError(t, err)

	require.NoError(t, s.Fail("job-1", errors.New("trainer exploded")))

	snap := s.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, MessageFailed, snap.Message)
	assert.Equal(t, "trainer exploded", snap.Error)
}

func TestBeginRejectedWhileActive(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "a.csv", "m", "")
	require.NoError(t, err)

	_, err = s.Begin("job-2", "b.csv", "m", "")
	assert.ErrorIs(t, err, ErrJobInProgress)
	assert.Equal(t, "job-1", s.Snapshot().ID)

	require.NoError(t, s.Advance("job-1", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating))
	_, err = s.Begin("job-2", "b.csv", "m", "")
	assert.ErrorIs(t, err, ErrJobInProgress)
}

func TestTerminalPhasesDoNotRevert(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "a.csv", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.Advance("job-1", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating))
	require.NoError(t, s.Complete("job-1", Artifacts{}))

	assert.ErrorIs(t, s.Fail("job-1", errors.New("late")), ErrInvalidTransition)
	assert.ErrorIs(t, s.Advance("job-1", PhaseCompleted, PhaseTraining, "again"), ErrInvalidTransition)
	assert.ErrorIs(t, s.Complete("job-1", Artifacts{}), ErrInvalidTransition)
	assert.Equal(t, PhaseCompleted, s.Snapshot().Phase)

	// A new job is the only way out of a terminal phase.
	_, err = s.Begin("job-2", "a.csv", "m", "")
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, PhaseTraining, snap.Phase)
	assert.Nil(t, snap.Artifacts)
}

func TestStaleJobRejected(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "a.csv", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.Fail("job-1", errors.New("boom")))
	_, err = s.Begin("job-2", "a.csv", "m", "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Advance("job-1", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating), ErrStaleJob)
	assert.ErrorIs(t, s.Fail("job-1", errors.New("late")), ErrStaleJob)
	assert.Equal(t, PhaseTraining, s.Snapshot().Phase)
}

func TestAdvanceRejectsSkippingPhases(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "a.csv", "m", "")
	require.NoError(t, err)

	err = s.Advance("job-1", PhaseTraining, PhaseCompleted, MessageCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.Complete("job-1", Artifacts{}), ErrInvalidTransition)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	_, err := s.Begin("job-1", "a.csv", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.Advance("job-1", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating))
	require.NoError(t, s.Complete("job-1", Artifacts{ReportURL: "r"}))

	snap := s.Snapshot()
	snap.Artifacts.ReportURL = "mutated"
	assert.Equal(t, "r", s.Snapshot().Artifacts.ReportURL)
}

func TestConcurrentBeginAdmitsOne(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Begin(string(rune('a'+i)), "a.csv", "m", ""); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestOnFinishReceivesTerminalSnapshots(t *testing.T) {
	s := NewStore()
	var finished []TrainingJob
	s.OnFinish(func(job TrainingJob) { finished = append(finished, job) })

	_, err := s.Begin("job-A", "a.csv", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.Fail("job-A", errors.New("boom")))

	_, err = s.Begin("job-B", "b.csv", "m", "")
	require.NoError(t, err)
	require.NoError(t, s.Advance("job-B", PhaseTraining, PhaseGeneratingArtifacts, MessageGenerating))
	require.NoError(t, s.Complete("job-B", Artifacts{ReportURL: "r"}))

	// Rejected transitions do not notify.
	assert.Error(t, s.Fail("job-A", errors.New("late")))

	require.Len(t, finished, 2)
	assert.Equal(t, "job-A", finished[0].ID)
	assert.Equal(t, PhaseFailed, finished[0].Phase)
	assert.Equal(t, "boom", finished[0].Error)
	assert.Equal(t, "job-B", finished[1].ID)
	assert.Equal(t, PhaseCompleted, finished[1].Phase)
	require.NotNil(t, finished[1].Artifacts)
	assert.Equal(t, "r", finished[1].Artifacts.ReportURL)
}
