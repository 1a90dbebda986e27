package jobx

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/Abraxas-365/repohub/pkg/kernel"
)

// ErrorInfo is the failure a worker recorded for a job.
type ErrorInfo struct {
	Message        string         `json:"message"`
	Classification Classification `json:"classification"`
}

// Progress is optional, worker-reported advancement of a PROCESSING job.
type Progress struct {
	Current int64  `json:"current"`
	Total   int64  `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobRecord is the persisted state of one asynchronous job. Request and
// Response hold wire envelopes so any Store can keep them as opaque JSON.
type JobRecord struct {
	JobID         string          `json:"jobId"`
	OwnerID       kernel.OwnerID  `json:"ownerId"`
	RequestType   string          `json:"requestType"`
	State         State           `json:"jobState"`
	Request       json.RawMessage `json:"request"`
	Response      json.RawMessage `json:"response,omitempty"`
	Error         *ErrorInfo      `json:"error,omitempty"`
	Progress      *Progress       `json:"progress,omitempty"`
	StartedOn     time.Time       `json:"startedOn"`
	LastChangedOn time.Time       `json:"lastChangedOn"`
}

// OwnedBy reports whether owner may read or cancel the record.
func (r *JobRecord) OwnedBy(owner kernel.OwnerID) bool {
	return !owner.IsEmpty() && r.OwnerID == owner
}

// Clone returns a deep copy.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Request = slices.Clone(r.Request)
	c.Response = slices.Clone(r.Response)
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.Progress != nil {
		p := *r.Progress
		c.Progress = &p
	}
	return &c
}

// Transition is an atomic compare-and-set on a record's state.
type Transition struct {
	// From lists the states the record must currently be in.
	From []State
	To   State

	// Response is set with To == StateComplete, Error with To == StateFailed.
	Response json.RawMessage
	Error    *ErrorInfo
}

// Validate checks the transition carries exactly the payload its target
// state requires.
func (t Transition) Validate() error {
	if !t.To.Valid() {
		return jobxErrors.NewWithMessage(ErrInvalidTransition, "unknown target state").WithDetail("to", t.To)
	}
	if len(t.Sources()) == 0 {
		return jobxErrors.NewWithMessage(ErrInvalidTransition, "no source state can reach the target").
			WithDetail("from", t.From).
			WithDetail("to", t.To)
	}
	if (t.To == StateComplete) != (t.Response != nil) {
		return jobxErrors.NewWithMessage(ErrInvalidTransition, "a response is set only when completing").WithDetail("to", t.To)
	}
	if (t.To == StateFailed) != (t.Error != nil) {
		return jobxErrors.NewWithMessage(ErrInvalidTransition, "error info is set only when failing").WithDetail("to", t.To)
	}
	return nil
}

// Sources returns the states in From that may legally move to To.
func (t Transition) Sources() []State {
	out := make([]State, 0, len(t.From))
	for _, s := range t.From {
		if s.CanTransitionTo(t.To) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Apply performs the transition on rec if rec is in one of its source
// states, and reports whether it did.
func (t Transition) Apply(rec *JobRecord, now time.Time) bool {
	if !slices.Contains(t.Sources(), rec.State) {
		return false
	}
	rec.State = t.To
	if t.To == StateComplete {
		rec.Response = slices.Clone(t.Response)
	}
	if t.Error != nil {
		e := *t.Error
		rec.Error = &e
	}
	rec.LastChangedOn = now
	return true
}
