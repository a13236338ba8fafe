package apperr

import (
	"errors"
)

// AppError is a failure a client may see. Code selects the transport
// status and Message is shown as is. Cause only reaches the logs.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap is New with a server side cause attached.
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotAuthorized(msg string) error {
	return New(CodeNotAuthorized, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodeNotAuthorizedForEntity, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func Invalid(msg string) error {
	return New(CodeInvalid, msg)
}

func Transient(cause error) error {
	return Wrap(CodeTransient, "store temporarily unavailable, try again", cause)
}

func Internal(cause error) error {
	return Wrap(CodeInternal, "internal server error", cause)
}

// CodeOf reports the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Message is the user visible text for err. Causes are never exposed.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
