// Package jobxmemory keeps job records and the job queue in process memory.
// It serves tests and single-process deployments.
package jobxmemory

import (
	"context"
	"sync"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/jobx"
)

var memoryErrors = errx.NewRegistry("JOBX_MEMORY")

var (
	ErrDuplicateJob = memoryErrors.Register("DUPLICATE_JOB", errx.TypeConflict, 409, "Job id already exists")
	ErrQueueFull    = memoryErrors.Register("QUEUE_FULL", errx.TypeUnavailable, 503, "Job queue is full")
)

// Store implements jobx.Store with a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobx.JobRecord
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobx.JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Create(_ context.Context, rec *jobx.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.JobID]; ok {
		return memoryErrors.New(ErrDuplicateJob).WithDetail("job_id", rec.JobID)
	}
	s.jobs[rec.JobID] = rec.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, jobID string) (*jobx.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, jobx.NotFound(jobID)
	}
	return rec.Clone(), nil
}

func (s *Store) Transition(_ context.Context, jobID string, t jobx.Transition) (*jobx.JobRecord, bool, error) {
	if err := t.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, false, jobx.NotFound(jobID)
	}
	applied := t.Apply(rec, s.now())
	return rec.Clone(), applied, nil
}

func (s *Store) UpdateProgress(_ context.Context, jobID string, p jobx.Progress) (*jobx.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, jobx.NotFound(jobID)
	}
	if rec.State == jobx.StateProcessing {
		rec.Progress = &p
		rec.LastChangedOn = s.now()
	}
	return rec.Clone(), nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Queue implements jobx.Queue with a buffered channel.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding up to size pending ids.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1024
	}
	return &Queue{ch: make(chan string, size)}
}

func (q *Queue) Push(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return memoryErrors.New(ErrQueueFull).WithDetail("job_id", jobID)
	}
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var (
	_ jobx.Store = (*Store)(nil)
	_ jobx.Queue = (*Queue)(nil)
)
