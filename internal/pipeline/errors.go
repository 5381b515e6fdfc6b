package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Every error returned by Compress wraps exactly one
// of these, so callers can classify failures with errors.Is.
var (
	// ErrNotFound reports a missing input file; no stage has run.
	ErrNotFound = errors.New("input file not found")
	// ErrConfiguration reports that a requested optional stage's external
	// dependency is unavailable, or an invalid quality preset.
	ErrConfiguration = errors.New("configuration error")
	// ErrIO reports a document that cannot be parsed or an artifact that
	// cannot be written.
	ErrIO = errors.New("document read/write failed")
	// ErrExternalTool reports a non-zero exit from an external subprocess;
	// the wrapped error carries the captured diagnostic text.
	ErrExternalTool = errors.New("external tool failed")
	// ErrTimeout reports an external subprocess exceeding its allotted time.
	ErrTimeout = errors.New("external tool timed out")
)

// StageError identifies which stage failed and for which file.
type StageError struct {
	Stage string
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage, path string, err error) *StageError {
	return &StageError{Stage: stage, Path: path, Err: err}
}
