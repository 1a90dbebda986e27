package iam

import (
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

// ErrRegistry holds the IAM error codes. Authentication failures are 401,
// scope failures 403.
var ErrRegistry = errx.NewRegistry("IAM")

var (
	CodeUnauthorized = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Unauthorized")
	CodeInvalidToken = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired token")
	CodeAccessDenied = ErrRegistry.Register("ACCESS_DENIED", errx.TypeAuthorization, http.StatusForbidden, "Access denied")
)

func ErrUnauthorized() *errx.Error {
	return ErrRegistry.New(CodeUnauthorized)
}

func ErrInvalidToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidToken)
}

// ErrMissingScope is the 403 returned to an authenticated caller whose token
// does not grant scope.
func ErrMissingScope(scope string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeAccessDenied, "Missing required scope "+scope).WithDetail("scope", scope)
}
