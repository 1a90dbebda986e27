package jobx

import (
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

var jobxErrors = errx.NewRegistry("JOBX")

var (
	ErrJobNotFound       = jobxErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Job not found")
	ErrNotReady          = jobxErrors.Register("NOT_READY", errx.TypePending, http.StatusAccepted, "Job has not finished yet")
	ErrJobFailed         = jobxErrors.Register("JOB_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Job failed")
	ErrJobCancelled      = jobxErrors.Register("JOB_CANCELLED", errx.TypeConflict, http.StatusGone, "Job was cancelled")
	ErrNoHandler         = jobxErrors.Register("NO_HANDLER", errx.TypeValidation, http.StatusBadRequest, "No handler registered for request type")
	ErrDuplicateHandler  = jobxErrors.Register("DUPLICATE_HANDLER", errx.TypeInternal, http.StatusInternalServerError, "Handler already registered for request type")
	ErrInvalidJob        = jobxErrors.Register("INVALID_JOB", errx.TypeValidation, http.StatusBadRequest, "Invalid job request")
	ErrInvalidTransition = jobxErrors.Register("INVALID_TRANSITION", errx.TypeInternal, http.StatusInternalServerError, "Invalid job state transition")
	ErrEnqueueFailed     = jobxErrors.Register("ENQUEUE_FAILED", errx.TypeExternal, http.StatusServiceUnavailable, "Failed to enqueue job")
	ErrAlreadyRunning    = jobxErrors.Register("ALREADY_RUNNING", errx.TypeConflict, http.StatusConflict, "Worker is already running")
	ErrCorruptRecord     = jobxErrors.Register("CORRUPT_RECORD", errx.TypeInternal, http.StatusInternalServerError, "Stored job record cannot be read")
)

// NotFound is the error every Store returns for an unknown job id.
func NotFound(jobID string) *errx.Error {
	return jobxErrors.New(ErrJobNotFound).WithDetail("job_id", jobID)
}

// Cancelled is returned by Execution checkpoints once the job has been asked
// to stop. Handlers return it (or anything wrapping it) to end as CANCELLED.
func Cancelled(jobID string) *errx.Error {
	return jobxErrors.New(ErrJobCancelled).WithDetail("job_id", jobID)
}

// NotReady reports that jobID is still CREATED, PROCESSING or CANCELLING.
func NotReady(jobID string, state State) *errx.Error {
	return jobxErrors.New(ErrNotReady).
		WithDetail("job_id", jobID).
		WithDetail("job_state", state.String())
}
