package status

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle state of the single training job.
type Phase string

const (
	PhasePending             Phase = "pending"
	PhaseTraining            Phase = "training"
	PhaseGeneratingArtifacts Phase = "generating_artifacts"
	PhaseCompleted           Phase = "completed"
	PhaseFailed              Phase = "failed"
)

// Status messages shown to the polling caller.
const (
	MessageWaiting    = "Waiting..."
	MessageTraining   = "Training started..."
	MessageGenerating = "Generating artifacts..."
	MessageCompleted  = "Classification completed!"
	MessageFailed     = "Error occurred!"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhasePending, PhaseTraining, PhaseGeneratingArtifacts, PhaseCompleted, PhaseFailed}

// Active reports whether a job in this phase is still running.
func (p Phase) Active() bool {
	return p == PhaseTraining || p == PhaseGeneratingArtifacts
}

// Terminal reports whether the phase only changes through a new job.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

var (
	ErrJobInProgress     = errors.New("a training job is already in progress")
	ErrStaleJob          = errors.New("job is no longer the active job")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Artifacts holds the retrieval URLs produced by a completed job.
type Artifacts struct {
	ReportURL string `json:"reportUrl"`
	ModelURL  string `json:"modelUrl"`
	LogURL    string `json:"logUrl"`
}

// TrainingJob is a point-in-time copy of the job slot.
type TrainingJob struct {
	ID          string     `json:"jobId,omitempty"`
	Dataset     string     `json:"dataset,omitempty"`
	ModelChoice string     `json:"modelChoice,omitempty"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	Phase       Phase      `json:"phase"`
	Message     string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   *Artifacts `json:"artifacts,omitempty"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Store is the process-wide single-slot record of the active job.
// All transitions are compare-and-set on the job ID and current phase.
type Store struct {
	mu      sync.RWMutex
	current TrainingJob
	now     func() time.Time

	hooksMu sync.RWMutex
	hooks   []func(TrainingJob)
}

// NewStore returns a store in the pending phase.
func NewStore() *Store {
	return &Store{
		current: TrainingJob{Phase: PhasePending, Message: MessageWaiting},
		now:     time.Now,
	}
}

// Snapshot returns a copy of the current job.
func (s *Store) Snapshot() TrainingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.copy()
}

// Begin resets the slot for a new job and moves it to training.
// It fails with ErrJobInProgress while another job is active.
func (s *Store) Begin(id, dataset, modelChoice, requestedBy string) (TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Phase.Active() {
		return TrainingJob{}, fmt.Errorf("%w: job %s is %s", ErrJobInProgress, s.current.ID, s.current.Phase)
	}

	now := s.now()
	s.current = TrainingJob{
		ID:          id,
		Dataset:     dataset,
		ModelChoice: modelChoice,
		RequestedBy: requestedBy,
		Phase:       PhaseTraining,
		Message:     MessageTraining,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return s.current.copy(), nil
}

// Advance moves job id from one active phase to the next.
func (s *Store) Advance(id string, from, to Phase, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(id, from); err != nil {
		return err
	}
	if !allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.current.Phase = to
	s.current.Message = message
	s.current.UpdatedAt = s.now()
	return nil
}

// OnFinish registers fn to receive the final snapshot of every job that
// completes or fails. fn runs after the slot is unlocked, so a new job may
// already have begun when it is called.
func (s *Store) OnFinish(fn func(TrainingJob)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// Complete finishes job id successfully.
func (s *Store) Complete(id string, artifacts Artifacts) error {
	done, err := s.complete(id, artifacts)
	if err != nil {
		return err
	}
	s.finished(done)
	return nil
}

func (s *Store) complete(id string, artifacts Artifacts) (TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(id, PhaseGeneratingArtifacts); err != nil {
		return TrainingJob{}, err
	}
	now := s.now()
	s.current.Phase = PhaseCompleted
	s.current.Message = MessageCompleted
	s.current.Artifacts = &artifacts
	s.current.UpdatedAt = now
	s.current.FinishedAt = &now
	return s.current.copy(), nil
}

// Fail records cause against job id. Only active jobs can fail.
func (s *Store) Fail(id string, cause error) error {
	done, err := s.fail(id, cause)
	if err != nil {
		return err
	}
	s.finished(done)
	return nil
}

func (s *Store) fail(id string, cause error) (TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.ID != id {
		return TrainingJob{}, ErrStaleJob
	}
	if !s.current.Phase.Active() {
		return TrainingJob{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.current.Phase, PhaseFailed)
	}
	now := s.now()
	s.current.Phase = PhaseFailed
	s.current.Message = MessageFailed
	if cause != nil {
		s.current.Error = cause.Error()
	}
	s.current.UpdatedAt = now
	s.current.FinishedAt = &now
	return s.current.copy(), nil
}

func (s *Store) finished(job TrainingJob) {
	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(job.copy())
	}
}

func (s *Store) check(id string, from Phase) error {
	if s.current.ID != id {
		return ErrStaleJob
	}
	if s.current.Phase != from {
		return fmt.Errorf("%w: job is %s, expected %s", ErrInvalidTransition, s.current.Phase, from)
	}
	return nil
}

func allowed(from, to Phase) bool {
	switch from {
	case PhaseTraining:
		return to == PhaseGeneratingArtifacts || to == PhaseFailed
	case PhaseGeneratingArtifacts:
		return to == PhaseCompleted || to == PhaseFailed
	}
	return false
}

func (j TrainingJob) copy() TrainingJob {
	out := j
	if j.Artifacts != nil {
		a := *j.Artifacts
		out.Artifacts = &a
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
