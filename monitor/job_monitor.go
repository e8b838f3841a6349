package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/metrics"
	"github.com/loiht2/ml-platform-assistant/backend/status"
)

// StatusSource is where the monitor reads the job slot from.
type StatusSource interface {
	Status() status.TrainingJob
}

// SnapshotWriter persists job snapshots.
type SnapshotWriter interface {
	SaveSnapshot(job status.TrainingJob) error
}

// JobMonitor mirrors the in-memory job slot into the job history and the
// phase gauge.
type JobMonitor struct {
	source   StatusSource
	repo     SnapshotWriter
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	last status.TrainingJob
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(source StatusSource, repo SnapshotWriter, interval time.Duration) *JobMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &JobMonitor{
		source:   source,
		repo:     repo,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins polling the job slot.
func (m *JobMonitor) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	zap.S().Infow("job monitor started", "interval", m.interval)
}

// Stop stops the loop and records the final state of the slot.
func (m *JobMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		m.Sync()
		zap.S().Info("job monitor stopped")
	})
}

func (m *JobMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sync()
		}
	}
}

// Sync writes the current snapshot when it differs from the last one written.
// It reports whether anything was written.
func (m *JobMonitor) Sync() bool {
	job := m.source.Status()

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.UpdateJobPhaseMetric(string(job.Phase), phaseNames())

	if job.ID == "" || !changed(m.last, job) {
		return false
	}
	if err := m.repo.SaveSnapshot(job); err != nil {
		zap.S().Warnw("failed to persist job status", "job", job.ID, "error", err)
		return false
	}
	if m.last.ID != job.ID || m.last.Phase != job.Phase {
		zap.S().Infow("job status changed", "job", job.ID, "from", m.last.Phase, "to", job.Phase)
	}
	m.last = job
	return true
}

// Record persists the final snapshot of a finished job right away, so a job
// that ends and is replaced within one tick still reaches the history.
func (m *JobMonitor) Record(job status.TrainingJob) {
	if job.ID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.repo.SaveSnapshot(job); err != nil {
		zap.S().Warnw("failed to persist finished job", "job", job.ID, "phase", job.Phase, "error", err)
		return
	}
	zap.S().Infow("job finished", "job", job.ID, "phase", job.Phase)
	if m.last.ID == job.ID || m.last.ID == "" {
		m.last = job
	}
}

func changed(prev, cur status.TrainingJob) bool {
	return prev.ID != cur.ID || prev.Phase != cur.Phase || !prev.UpdatedAt.Equal(cur.UpdatedAt)
}

func phaseNames() []string {
	names := make([]string, len(status.Phases))
	for i, p := range status.Phases {
		names[i] = string(p)
	}
	return names
}
