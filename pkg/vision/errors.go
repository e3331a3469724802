package vision

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by Library implementations.
var (
	// ErrSolveFailed is returned when the calibration or pose solver fails.
	ErrSolveFailed = errors.New("vision: solve failed")

	// ErrNotEnoughPoints is returned when an observation is too small to solve.
	ErrNotEnoughPoints = errors.New("vision: not enough points")

	// ErrNoIntrinsics is returned when a pose is requested without a calibrated camera.
	ErrNoIntrinsics = errors.New("vision: camera intrinsics not available")

	// ErrBadImage is returned when an image cannot be handed to the backend.
	ErrBadImage = errors.New("vision: unusable image")

	// ErrClosed is returned by a Library after Close.
	ErrClosed = errors.New("vision: library closed")
)

// BackendError wraps an error raised inside the native library.
type BackendError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("vision [%s]: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError tags err with the failing operation.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}
