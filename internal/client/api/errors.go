package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Server error codes the device reacts to.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyExpired        = "ALREADY_EXPIRED"
	CodeAlreadySettled        = "ALREADY_SETTLED"
	CodeAlreadyTerminal       = "ALREADY_TERMINAL"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
)

// TransientError is a failure worth retrying: the network, a timeout, a 5xx, a
// rate limit or a request still in progress on the server.
type TransientError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("transient (%d %s): %s", e.Status, e.Code, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection that will not change on retry.
type PermanentError struct {
	Status  int
	Code    string
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Code, e.Message)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// HasCode reports whether err is a server rejection carrying code.
func HasCode(err error, code string) bool {
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Code == code
	}
	var t *TransientError
	if errors.As(err, &t) {
		return t.Code == code
	}
	return false
}

// classify maps a non-2xx response onto the transient/permanent split. A 401 is
// transient because the device can refresh its token and retry the same job.
func classify(resp *http.Response, body errorBody) error {
	code, msg := body.Code, body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusConflict && code == CodeIdempotencyInProgress:
		return &TransientError{
			Status:     resp.StatusCode,
			Code:       code,
			Message:    msg,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return &PermanentError{Status: resp.StatusCode, Code: code, Message: msg}
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
