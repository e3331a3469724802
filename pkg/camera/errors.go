package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrCameraUnavailable matches every rejected stream request.
	ErrCameraUnavailable = errors.New("camera: unavailable")

	// ErrNoStream is returned by Capture before a device is selected.
	ErrNoStream = errors.New("camera: no active stream")

	// ErrNoDevices is returned when enumeration finds no video inputs.
	ErrNoDevices = errors.New("camera: no webcam devices found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("camera: adapter closed")
)

// UnavailableError reports a stream request the device rejected, e.g.
// permission denied or device busy.
type UnavailableError struct {
	// DeviceID is the requested device; empty means the default device.
	DeviceID string

	// Err is the backend error.
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	dev := e.DeviceID
	if dev == "" {
		dev = "default"
	}
	return fmt.Sprintf("camera: device %s unavailable: %v", dev, e.Err)
}

// Unwrap exposes ErrCameraUnavailable and the backend error.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrCameraUnavailable, e.Err}
}
