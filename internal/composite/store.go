package composite

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/booth-service/internal/domain"
)

// Store persists composite jobs keyed by session id.
//
// Create fails with domain.ErrJobExists when the session already has a job.
// Transition applies a status change only when domain.CanTransition allows it and
// fails with domain.ErrInvalidTransition otherwise. Pending lists the jobs that are
// not yet terminal, oldest first.
type Store interface {
	Create(ctx context.Context, job domain.CompositeJob) error
	Get(ctx context.Context, sessionID string) (domain.CompositeJob, error)
	Transition(ctx context.Context, sessionID string, t Transition) (domain.CompositeJob, error)
	Pending(ctx context.Context) ([]domain.CompositeJob, error)
}

type Transition struct {
	To        domain.JobStatus
	ResultRef string
	Error     string
	At        time.Time
}

// Apply returns job after t, or domain.ErrInvalidTransition.
func (t Transition) Apply(job domain.CompositeJob) (domain.CompositeJob, error) {
	if !domain.CanTransition(job.Status, t.To) {
		return job, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, t.To)
	}
	job.Status = t.To
	switch t.To {
	case domain.JobDone:
		job.ResultRef = t.ResultRef
		at := t.At
		job.CompletedAt = &at
	case domain.JobError:
		job.Error = t.Error
		at := t.At
		job.CompletedAt = &at
	}
	return job, nil
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.CompositeJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.CompositeJob)}
}

func (s *MemoryStore) Create(_ context.Context, job domain.CompositeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.SessionID]; ok {
		return domain.ErrJobExists
	}
	s.jobs[job.SessionID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (domain.CompositeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[sessionID]
	if !ok {
		return domain.CompositeJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *MemoryStore) Transition(_ context.Context, sessionID string, t Transition) (domain.CompositeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[sessionID]
	if !ok {
		return domain.CompositeJob{}, domain.ErrJobNotFound
	}
	next, err := t.Apply(job)
	if err != nil {
		return job, err
	}
	s.jobs[sessionID] = next
	return next, nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]domain.CompositeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CompositeJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Purge drops terminal jobs completed before cutoff.
func (s *MemoryStore) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}
