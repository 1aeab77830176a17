package common

import "net/http"

// Code is the machine readable error code carried in every error body.
type Code string

const (
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeInvalidRule      Code = "INVALID_RULE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeIdempotentReplay Code = "IDEMPOTENT_REPLAY"
	CodePayloadTooLarge  Code = "PAYLOAD_TOO_LARGE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

var codeStatus = map[Code]int{
	CodeBadRequest:       http.StatusBadRequest,
	CodeValidation:       http.StatusBadRequest,
	CodeInvalidRule:      http.StatusUnprocessableEntity,
	CodeNotFound:         http.StatusNotFound,
	CodeIdempotentReplay: http.StatusConflict,
	CodePayloadTooLarge:  http.StatusRequestEntityTooLarge,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeInternal:         http.StatusInternalServerError,
}

// Status is the HTTP status a response with this code is sent with.
// Unknown codes map to 500.
func (c Code) Status() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError is an error that already knows how it should be rendered.
type AppError struct {
	Code    Code
	Message string
	Details any
	Err     error
}

// NewAppError wraps err, which may be nil, with a client facing code and message.
func NewAppError(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error prefers the wrapped error's text so logs keep the root cause; the
// response body uses Message.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails attaches extra context to the rendered body.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}
