package jobx

import (
	"context"

	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/wirex"
)

// OutcomeKind is what a poll resolved to.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "PENDING"
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	case OutcomeCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Outcome is the result of polling a job.
type Outcome struct {
	Kind   OutcomeKind
	Record *JobRecord

	// Response is the decoded response on success.
	Response wirex.Entity
	// Failure is the recorded error on failure.
	Failure *ErrorInfo
}

// Err returns the error a caller expecting a finished response receives:
// JOBX_NOT_READY, JOBX_JOB_FAILED or JOBX_JOB_CANCELLED. It is nil on success.
func (o *Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeFailure:
		return o.Failure.Err(o.Record.JobID)
	case OutcomeCancelled:
		return Cancelled(o.Record.JobID)
	}
	e := NotReady(o.Record.JobID, o.Record.State)
	if p := o.Record.Progress; p != nil {
		e.WithDetail("progress_current", p.Current).WithDetail("progress_total", p.Total)
	}
	return e
}

// StatusService is the poll and cancel facade over a Store.
type StatusService struct {
	store Store
	codec *wirex.Codec
}

func NewStatusService(store Store, codec *wirex.Codec) *StatusService {
	return &StatusService{store: store, codec: codec}
}

// Get returns the current outcome of a job owned by owner. It never waits.
func (s *StatusService) Get(ctx context.Context, owner kernel.OwnerID, jobID string) (*Outcome, error) {
	rec, err := s.load(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case StateComplete:
		resp, err := s.codec.Decode(rec.Response)
		if err != nil {
			return nil, jobxErrors.NewWithCause(ErrCorruptRecord, err).WithDetail("job_id", jobID)
		}
		return &Outcome{Kind: OutcomeSuccess, Record: rec, Response: resp}, nil
	case StateFailed:
		info := ErrorInfo{Message: "job failed", Classification: ClassInternal}
		if rec.Error != nil {
			info = *rec.Error
		}
		return &Outcome{Kind: OutcomeFailure, Record: rec, Failure: &info}, nil
	case StateCancelled:
		return &Outcome{Kind: OutcomeCancelled, Record: rec}, nil
	}
	return &Outcome{Kind: OutcomePending, Record: rec}, nil
}

// GetOrThrow returns the response of a finished job, or the error
// Outcome.Err describes.
func (s *StatusService) GetOrThrow(ctx context.Context, owner kernel.OwnerID, jobID string) (wirex.Entity, error) {
	o, err := s.Get(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.Err(); err != nil {
		return nil, err
	}
	return o.Response, nil
}

// GetAs is GetOrThrow with the response checked against T.
func GetAs[T wirex.Entity](ctx context.Context, s *StatusService, owner kernel.OwnerID, jobID string) (T, error) {
	var zero T
	resp, err := s.GetOrThrow(ctx, owner, jobID)
	if err != nil {
		return zero, err
	}
	v, ok := resp.(T)
	if !ok {
		return zero, jobxErrors.NewWithMessage(ErrCorruptRecord, "job response has an unexpected type").
			WithDetail("job_id", jobID).
			WithDetail("concrete_type", resp.ConcreteType())
	}
	return v, nil
}

// Cancel asks a pending job to stop. Cancelling a finished job, or one
// already being cancelled, does nothing.
func (s *StatusService) Cancel(ctx context.Context, owner kernel.OwnerID, jobID string) error {
	rec, err := s.load(ctx, owner, jobID)
	if err != nil {
		return err
	}
	if !rec.State.IsPending() || rec.State == StateCancelling {
		return nil
	}
	_, _, err = s.store.Transition(ctx, jobID, Transition{
		From: []State{StateCreated, StateProcessing},
		To:   StateCancelling,
	})
	return err
}

// load reads the record and hides it from anyone but its owner. A foreign
// job and a missing one produce the same error.
func (s *StatusService) load(ctx context.Context, owner kernel.OwnerID, jobID string) (*JobRecord, error) {
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		if ErrJobNotFound.Is(err) {
			return nil, NotFound(jobID)
		}
		return nil, err
	}
	if !rec.OwnedBy(owner) {
		return nil, NotFound(jobID)
	}
	return rec, nil
}
