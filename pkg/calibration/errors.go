package calibration

import (
	"errors"
	"fmt"
)

// UserMessage is shown to the user when a calibration solve fails.
const UserMessage = "Error calibrating. Please try again with new board positions."

var (
	// ErrNoSamples is returned by Calibrate when nothing has been captured.
	ErrNoSamples = errors.New("calibration: no samples captured")

	// ErrSolveFailed matches every failed calibration solve.
	ErrSolveFailed = errors.New("calibration: solve failed")
)

// SolveError reports a failed solve. The session has already discarded its
// samples when this is returned.
type SolveError struct {
	// Samples is how many samples the failed solve was given.
	Samples int

	// Err is the underlying solver error.
	Err error
}

// Error implements the error interface.
func (e *SolveError) Error() string {
	return fmt.Sprintf("calibration: solve failed with %d samples: %v", e.Samples, e.Err)
}

// Unwrap exposes both ErrSolveFailed and the solver error.
func (e *SolveError) Unwrap() []error {
	return []error{ErrSolveFailed, e.Err}
}

// Message returns the text to show the user.
func (e *SolveError) Message() string {
	return UserMessage
}
