package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"

	// interview round lifecycle
	CodeTokenInvalid         Code = "TOKEN_INVALID"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeTokenAlreadyConsumed Code = "TOKEN_ALREADY_CONSUMED"
	CodeInvalidState         Code = "INVALID_STATE"

	// artifact evaluation
	CodeEvaluationRejected     Code = "EVALUATION_REJECTED"
	CodeEvaluationTimeout      Code = "EVALUATION_TIMEOUT"
	CodeEvaluationServiceError Code = "EVALUATION_SERVICE_ERROR"

	// media + mentor streaming
	CodeUploadFailure        Code = "UPLOAD_FAILURE"
	CodeStreamDecodeError    Code = "STREAM_DECODE_ERROR"
	CodeStreamTransportError Code = "STREAM_TRANSPORT_ERROR"
)

// AppError is the unified error contract across layers.
type AppError struct {
	Code    Code
	Op      string // operation name, ex: "RoundController.BeginRound"
	Message string // safe message
	Err     error  // wrapped error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost AppError in the chain, or "" if there is none.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatalVerification reports whether err ends the round with no way to resume it.
func IsFatalVerification(err error) bool {
	switch CodeOf(err) {
	case CodeTokenInvalid, CodeTokenExpired, CodeTokenAlreadyConsumed:
		return true
	}
	return false
}

// IsRetryable reports whether an evaluation error may be resubmitted as-is.
// Rejected input must be changed by the candidate first.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeEvaluationTimeout, CodeEvaluationServiceError, CodeUnavailable, CodeTimeout:
		return true
	}
	return false
}

// SafeMessage returns the message meant for clients.
func SafeMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return http.StatusText(HTTPStatus(err))
}

func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case CodeInvalidArgument, CodeEvaluationRejected:
			return http.StatusBadRequest
		case CodeUnauthorized, CodeTokenInvalid, CodeTokenExpired:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict, CodeInvalidState, CodeTokenAlreadyConsumed:
			return http.StatusConflict
		case CodeUnavailable, CodeUploadFailure:
			return http.StatusServiceUnavailable
		case CodeTimeout, CodeEvaluationTimeout:
			return http.StatusGatewayTimeout
		case CodeEvaluationServiceError, CodeStreamTransportError:
			return http.StatusBadGateway
		default:
			return http.StatusInternalServerError
		}
	}
	// fallback
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Backward-compatible sentinel errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)
