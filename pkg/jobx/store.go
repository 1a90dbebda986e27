package jobx

import (
	"context"
	"time"
)

// Store persists JobRecords. Every mutation of a single record is atomic.
type Store interface {
	// Create inserts a new record. The job id must not exist yet.
	Create(ctx context.Context, rec *JobRecord) error

	// Get returns the record or a NotFound error.
	Get(ctx context.Context, jobID string) (*JobRecord, error)

	// Transition applies t if the record is in one of t's source states. It
	// returns the record as it is after the call and whether t was applied.
	Transition(ctx context.Context, jobID string, t Transition) (*JobRecord, bool, error)

	// UpdateProgress records p while the job is PROCESSING and returns the
	// current record; in any other state it changes nothing.
	UpdateProgress(ctx context.Context, jobID string, p Progress) (*JobRecord, error)
}

// Queue hands job ids from the dispatcher to workers. Delivery is at least
// once; workers deduplicate by claiming the record.
type Queue interface {
	Push(ctx context.Context, jobID string) error

	// Pop blocks up to timeout and returns "" when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}
