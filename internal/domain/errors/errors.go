package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound              = errors.New("resource not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrConflict              = errors.New("conflict")
	ErrAlreadySettled        = errors.New("payment request already settled")
	ErrAlreadyTerminal       = errors.New("payment request already in a terminal state")
	ErrExpired               = errors.New("payment request expired")
	ErrNotOwner              = errors.New("not the owner of this payment request")
	ErrSignature             = errors.New("payload signature error")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
	ErrLedgerUnavailable     = errors.New("ledger unavailable")
)

// Error codes returned to clients.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeAlreadySettled        = "ALREADY_SETTLED"
	CodeAlreadyTerminal       = "ALREADY_TERMINAL"
	CodeAlreadyExpired        = "ALREADY_EXPIRED"
	CodeNotOwner              = "NOT_OWNER"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeMalformedPayload      = "MALFORMED_PAYLOAD"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeLedgerUnavailable     = "LEDGER_UNAVAILABLE"
	CodeInternalError         = "INTERNAL_ERROR"
)

// AppError represents application error with HTTP status
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(status int, code, message string, err error) *AppError {
	return &AppError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Common error constructors
func Validation(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeValidation, message, ErrInvalidInput)
}

func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, message, ErrNotFound)
}

func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeConflict, message, ErrConflict)
}

func AlreadySettled(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeAlreadySettled, message, ErrAlreadySettled)
}

func AlreadyTerminal(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeAlreadyTerminal, message, ErrAlreadyTerminal)
}

func AlreadyExpired(message string) *AppError {
	return NewAppError(http.StatusGone, CodeAlreadyExpired, message, ErrExpired)
}

func NotOwner(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeNotOwner, message, ErrNotOwner)
}

func InvalidSignature(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeInvalidSignature, message, ErrSignature)
}

func MalformedPayload(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeMalformedPayload, message, ErrSignature)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, message, ErrForbidden)
}

func IdempotencyInProgress() *AppError {
	return NewAppError(http.StatusConflict, CodeIdempotencyInProgress,
		"a request with this idempotency key is still being processed", ErrIdempotencyInProgress)
}

// LedgerUnavailable is retryable: no state was committed.
func LedgerUnavailable(err error) *AppError {
	return NewAppError(http.StatusServiceUnavailable, CodeLedgerUnavailable,
		"ledger is unavailable, retry later", errors.Join(ErrLedgerUnavailable, err))
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, "internal server error", err)
}
