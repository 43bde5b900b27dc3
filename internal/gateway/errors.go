package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed delivery. Transient errors were retried up to the
// attempt ceiling before surfacing.
type Error struct {
	Transient  bool
	StatusCode int // 0 when no response was received
	Attempts   int
	Body       string // first bodySnippet chars of the response
	Err        error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("gateway %s error after %d attempt(s): status %d: %s", kind, e.Attempts, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s error after %d attempt(s): status %d", kind, e.Attempts, e.StatusCode)
	default:
		return fmt.Sprintf("gateway %s error after %d attempt(s): %v", kind, e.Attempts, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a gateway error worth retrying later.
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient
}

// transientStatus classifies an HTTP status: 429 and 5xx are transient.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// ErrNotConfigured is returned when base URL or instance is missing.
var ErrNotConfigured = errors.New("gateway: not configured")
