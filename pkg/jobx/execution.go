package jobx

import (
	"context"
	"sync"

	"github.com/Abraxas-365/repohub/pkg/kernel"
)

// Execution is a handler's view of the job it is running.
type Execution struct {
	store  Store
	record *JobRecord
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

func newExecution(store Store, record *JobRecord, cancel context.CancelFunc) *Execution {
	return &Execution{store: store, record: record, cancel: cancel}
}

// JobID returns the id of the running job.
func (e *Execution) JobID() string { return e.record.JobID }

// Owner returns the principal that submitted the job.
func (e *Execution) Owner() kernel.OwnerID { return e.record.OwnerID }

// Checkpoint returns a JOBX_JOB_CANCELLED error once the job has been asked
// to stop. Handlers call it between units of work and return the error.
func (e *Execution) Checkpoint(ctx context.Context) error {
	if e.Cancelled() {
		return Cancelled(e.record.JobID)
	}
	rec, err := e.store.Get(ctx, e.record.JobID)
	if err != nil {
		return err
	}
	return e.observe(rec)
}

// Progress records how far the job has got. It is also a checkpoint.
func (e *Execution) Progress(ctx context.Context, current, total int64, message string) error {
	if e.Cancelled() {
		return Cancelled(e.record.JobID)
	}
	rec, err := e.store.UpdateProgress(ctx, e.record.JobID, Progress{Current: current, Total: total, Message: message})
	if err != nil {
		return err
	}
	return e.observe(rec)
}

// Cancelled reports whether a cancel request has been observed.
func (e *Execution) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Execution) observe(rec *JobRecord) error {
	if rec.State != StateCancelling && rec.State != StateCancelled {
		return nil
	}
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
	e.cancel()
	return Cancelled(e.record.JobID)
}
