package jobx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

// Classification tells a caller whether a failed job is worth retrying.
type Classification string

const (
	ClassInvalidRequest    Classification = "INVALID_REQUEST"
	ClassConflict          Classification = "CONFLICT"
	ClassResourceExhausted Classification = "RESOURCE_EXHAUSTED"
	ClassUnavailable       Classification = "UNAVAILABLE"
	ClassDeadlineExceeded  Classification = "DEADLINE_EXCEEDED"
	ClassInternal          Classification = "INTERNAL"
)

func (c Classification) String() string { return string(c) }

// Retryable reports whether resubmitting the same request may succeed.
func (c Classification) Retryable() bool {
	switch c {
	case ClassResourceExhausted, ClassUnavailable, ClassDeadlineExceeded:
		return true
	}
	return false
}

// HTTPStatus is the status a failure of this class is reported with.
func (c Classification) HTTPStatus() int {
	switch c {
	case ClassInvalidRequest:
		return http.StatusBadRequest
	case ClassConflict:
		return http.StatusConflict
	case ClassResourceExhausted, ClassUnavailable:
		return http.StatusServiceUnavailable
	case ClassDeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (c Classification) errType() errx.Type {
	switch c {
	case ClassInvalidRequest:
		return errx.TypeValidation
	case ClassConflict:
		return errx.TypeConflict
	case ClassResourceExhausted, ClassUnavailable, ClassDeadlineExceeded:
		return errx.TypeUnavailable
	}
	return errx.TypeInternal
}

// Failure is a classified error a handler returns to fail its job.
type Failure struct {
	Classification Classification
	Message        string
	Err            error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Classification, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Classification, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a classified failure.
func Fail(class Classification, message string) error {
	return &Failure{Classification: class, Message: message}
}

// Failf builds a classified failure with a formatted message.
func Failf(class Classification, format string, args ...any) error {
	return &Failure{Classification: class, Message: fmt.Sprintf(format, args...)}
}

// FailWith classifies cause under class, keeping it for errors.Is.
func FailWith(class Classification, message string, cause error) error {
	return &Failure{Classification: class, Message: message, Err: cause}
}

// Classify turns any handler error into the ErrorInfo that is stored.
func Classify(err error) ErrorInfo {
	var f *Failure
	if errors.As(err, &f) {
		class := f.Classification
		if class == "" {
			class = ClassInternal
		}
		return ErrorInfo{Message: f.Message, Classification: class}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorInfo{Message: err.Error(), Classification: ClassDeadlineExceeded}
	}
	var e *errx.Error
	if errors.As(err, &e) {
		return ErrorInfo{Message: e.Message, Classification: classifyType(e.Type)}
	}
	return ErrorInfo{Message: err.Error(), Classification: ClassInternal}
}

func classifyType(t errx.Type) Classification {
	switch t {
	case errx.TypeValidation, errx.TypeBusiness, errx.TypeNotFound, errx.TypeAuthorization:
		return ClassInvalidRequest
	case errx.TypeConflict:
		return ClassConflict
	case errx.TypeUnavailable, errx.TypeExternal:
		return ClassUnavailable
	}
	return ClassInternal
}

// Err re-materializes the stored failure as the error a poller receives.
func (i ErrorInfo) Err(jobID string) *errx.Error {
	e := jobxErrors.NewWithMessage(ErrJobFailed, i.Message)
	e.Type = i.Classification.errType()
	e.HTTPStatus = i.Classification.HTTPStatus()
	return e.
		WithDetail("job_id", jobID).
		WithDetail("classification", string(i.Classification)).
		WithDetail("retryable", i.Classification.Retryable())
}

// FailureFromError recovers the ErrorInfo carried by a JOBX_JOB_FAILED error.
func FailureFromError(err error) (ErrorInfo, bool) {
	var e *errx.Error
	if !errors.As(err, &e) || e.Code != ErrJobFailed.Code {
		return ErrorInfo{}, false
	}
	return ErrorInfo{Message: e.Message, Classification: Classification(e.DetailString("classification"))}, true
}
