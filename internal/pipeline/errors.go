package pipeline

import (
	"errors"
	"fmt"
)

// ErrAlreadyProcessed is returned when the pipeline is invoked for a row
// that already left the pending state. The second invocation is an explicit
// no-op error, never a silent overwrite.
var ErrAlreadyProcessed = errors.New("recommendation already processed")

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NoDataError reports an empty reading set for the requested window. It is
// reported to the caller without producing a misleading generated row.
type NoDataError struct {
	ZoneID string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no sensor data for zone %s in the requested window", e.ZoneID)
}

// UpstreamError reports a collaborator failure (classifier, scaler,
// generation, weather). In the chat path it is recovered locally; in the
// recommendation path it fails the row.
type UpstreamError struct {
	Collaborator string
	Err          error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Collaborator, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError reports a storage failure. Writes are idempotent by id,
// so callers may retry safely.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
