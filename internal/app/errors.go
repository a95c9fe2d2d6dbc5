package app

import "errors"

// ErrorKind names the class of the last failure seen by a session.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindCaptureFailed     ErrorKind = "capture_failed"
	KindNotRunning        ErrorKind = "not_running"
	KindInferenceFailed   ErrorKind = "inference_failed"
	KindEncodingFailed    ErrorKind = "encoding_failed"
)

var (
	// ErrDeviceUnavailable is returned by Start when the camera cannot be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrCaptureFailed marks a failed read from the device.
	ErrCaptureFailed = errors.New("frame capture failed")
	// ErrNotRunning is returned by control operations that need a running camera.
	ErrNotRunning = errors.New("camera is not running")
	// ErrInferenceFailed marks a detector failure. The raw frame is still published.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrEncodingFailed marks an encoder failure. The frame is dropped.
	ErrEncodingFailed = errors.New("encoding failed")
)

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrCaptureFailed):
		return KindCaptureFailed
	case errors.Is(err, ErrNotRunning):
		return KindNotRunning
	case errors.Is(err, ErrInferenceFailed):
		return KindInferenceFailed
	case errors.Is(err, ErrEncodingFailed):
		return KindEncodingFailed
	default:
		return ErrorKind("unknown")
	}
}
