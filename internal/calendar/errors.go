package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound is returned when a sync targets an unknown source.
	ErrSourceNotFound = errors.New("calendar source not found")

	// ErrSourceDisabled is returned when a manual sync targets a disabled source.
	ErrSourceDisabled = errors.New("calendar source is disabled")

	// ErrPropertyNotFound is returned when a source or feed references a missing property.
	ErrPropertyNotFound = errors.New("property not found")
)

// InvalidSourceError reports a source whose address cannot be fetched.
// It is never retried.
type InvalidSourceError struct {
	Address string
	Reason  string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid calendar source %q: %s", redactURL(e.Address), e.Reason)
}

// FetchError carries the HTTP status of a non-2xx feed response.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed returned HTTP %d", e.StatusCode)
}

// TransientError marks a failure worth retrying: network errors, timeouts,
// 5xx, 408 and 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that will not fix itself by retrying,
// typically a 4xx response. The source is flagged but not disabled.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// PersistenceError reports that the store rejected a write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried within a run.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// StatusCode extracts the HTTP status from a fetch failure, or 0.
func StatusCode(err error) int {
	var f *FetchError
	if errors.As(err, &f) {
		return f.StatusCode
	}
	return 0
}
