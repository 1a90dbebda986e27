package wirex

import (
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

var wireErrors = errx.NewRegistry("WIRE")

var (
	ErrMalformedPayload = wireErrors.Register("MALFORMED_PAYLOAD", errx.TypeValidation, http.StatusBadRequest, "Malformed payload")
	ErrUnknownType      = wireErrors.Register("UNKNOWN_TYPE", errx.TypeValidation, http.StatusBadRequest, "Unknown concrete type")
	ErrTypeMismatch     = wireErrors.Register("TYPE_MISMATCH", errx.TypeValidation, http.StatusBadRequest, "Concrete type not allowed here")
	ErrDuplicateType    = wireErrors.Register("DUPLICATE_TYPE", errx.TypeInternal, http.StatusInternalServerError, "Concrete type already registered with a different factory")
	ErrRegistrySealed   = wireErrors.Register("REGISTRY_SEALED", errx.TypeInternal, http.StatusInternalServerError, "Type registry is sealed")
	ErrInvalidEntity    = wireErrors.Register("INVALID_ENTITY", errx.TypeInternal, http.StatusInternalServerError, "Entity cannot be encoded")
)

// IsMalformed reports whether err is a caller error produced while decoding:
// bad JSON, a missing or unknown discriminator, a type not allowed at that
// position, or a field of the wrong shape.
func IsMalformed(err error) bool {
	return ErrMalformedPayload.Is(err) || ErrUnknownType.Is(err) || ErrTypeMismatch.Is(err)
}

func malformed(reason string) *errx.Error {
	return wireErrors.NewWithMessage(ErrMalformedPayload, "Malformed payload: "+reason)
}
