package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrOrderNotFound is returned by order lookups that match nothing.
var ErrOrderNotFound = errors.New("order not found")

// TransientError marks a failure that may succeed on retry: network errors,
// timeouts, throttling and server-side faults.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError marks a definitive refusal such as insufficient buying power or an invalid symbol.
type RejectedError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected (status %d, code %d): %s", e.Op, e.Status, e.Code, e.Message)
}

// IsTransient reports whether err carries a *TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsRejected reports whether err carries a *RejectedError.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// classifyStatus turns a non-2xx response into the error taxonomy.
func classifyStatus(op string, status int, body []byte) error {
	var payload apiError
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		payload.Message = strings.TrimSpace(string(body))
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return &TransientError{Op: op, Status: status, Err: errors.New(payload.Message)}
	default:
		return &RejectedError{Op: op, Status: status, Code: payload.Code, Message: payload.Message}
	}
}
