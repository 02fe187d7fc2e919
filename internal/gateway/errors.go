package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the remote store has no source for an id.
var ErrNotFound = errors.New("gateway: source not found")

// RemoteError represents a non-2xx response from the notebook service.
type RemoteError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the failure is worth retrying. Responses in the
// 4xx range signal a client-correctable problem and are never retried.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode >= 500
}

// IsNotFound reports whether err is a missing-source condition, either the
// ErrNotFound sentinel or a raw 404 response.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == 404
}

// IsClientError reports whether err is a non-retryable 4xx response.
func IsClientError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode >= 400 && re.StatusCode < 500
}

// asyncDefectSignature identifies the documented backend defect: the service
// runs creates on an async execution backend that sometimes reports failure
// after the source was already stored. A 500 carrying this signature must not
// be retried blindly or the retry creates a duplicate source.
const asyncDefectSignature = "async execution"

// isAsyncDefect reports whether err matches the documented create defect.
func isAsyncDefect(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	return re.StatusCode == 500 && strings.Contains(strings.ToLower(re.Message), asyncDefectSignature)
}

// retryable reports whether an error should be retried with backoff:
// network-level failures and 5xx responses, nothing in the 4xx range.
func retryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	// Timeouts and transport failures surface as plain errors.
	return err != nil
}
