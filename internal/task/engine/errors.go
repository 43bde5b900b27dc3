package engine

import "errors"

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task already running")
	ErrCircuitOpen = errors.New("task circuit breaker open")
)

// PermanentError fails a task on the current attempt. Runs wrap their error
// with NoRetry when another attempt cannot help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// NoRetry wraps err so the engine does not retry it. NoRetry(nil) is nil.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsNoRetry(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
