package errx

import (
	"github.com/gofiber/fiber/v2"
)

// HTTPErrorResponse represents a standard HTTP error response
type HTTPErrorResponse struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Type       string                 `json:"type"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"status_code"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an Error to an HTTPErrorResponse
func (e *Error) ToHTTPResponse() HTTPErrorResponse {
	return HTTPErrorResponse{
		Code:       e.Code,
		Message:    e.Message,
		Type:       string(e.Type),
		Details:    e.Details,
		StatusCode: e.HTTPStatus,
	}
}

// FromHTTPResponse rebuilds an Error from a decoded error document, so
// remote callers get the same typed error the server produced.
func FromHTTPResponse(resp HTTPErrorResponse) *Error {
	details := resp.Details
	if details == nil {
		details = make(map[string]interface{})
	}
	return &Error{
		Code:       resp.Code,
		Message:    resp.Message,
		Type:       Type(resp.Type),
		HTTPStatus: resp.StatusCode,
		Details:    details,
	}
}

// WriteFiber writes the error as a JSON error document on a Fiber context
func (e *Error) WriteFiber(c *fiber.Ctx) error {
	body := e.ToHTTPResponse()
	body.RequestID = c.Get(fiber.HeaderXRequestID)
	return c.Status(e.HTTPStatus).JSON(body)
}

// FiberErrorHandler is a fiber.Config ErrorHandler rendering errx errors,
// fiber errors and anything else as HTTPErrorResponse documents.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	var e *Error
	if As(err, &e) {
		return e.WriteFiber(c)
	}

	if fe, ok := err.(*fiber.Error); ok {
		t := TypeInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			t = TypeNotFound
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest:
			t = TypeValidation
		}
		return (&Error{
			Code:       "HTTP_" + httpCodeName(fe.Code),
			Message:    fe.Message,
			Type:       t,
			HTTPStatus: fe.Code,
		}).WriteFiber(c)
	}

	return New("An unexpected error occurred", TypeInternal).WithDetail("cause", err.Error()).WriteFiber(c)
}

func httpCodeName(code int) string {
	switch code {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return "ERROR"
	}
}
