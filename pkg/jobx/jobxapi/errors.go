package jobxapi

import (
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

var apiErrors = errx.NewRegistry("JOBXAPI")

var (
	ErrUnsupportedMediaType = apiErrors.Register("UNSUPPORTED_MEDIA_TYPE", errx.TypeValidation, http.StatusUnsupportedMediaType, "Only application/json bodies are accepted")
	ErrNotAcceptable        = apiErrors.Register("NOT_ACCEPTABLE", errx.TypeValidation, http.StatusNotAcceptable, "Only application/json responses are produced")
	ErrRateLimited          = apiErrors.Register("RATE_LIMITED", errx.TypeUnavailable, http.StatusTooManyRequests, "Too many job submissions")
	ErrMissingJobID         = apiErrors.Register("MISSING_JOB_ID", errx.TypeValidation, http.StatusBadRequest, "Job id is required")
)
