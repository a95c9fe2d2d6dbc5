// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFailed is returned when the device did not deliver a frame.
	ErrReadFailed = errors.New("failed to read frame from camera")
	// ErrEmptyFrame is returned when the device delivered an empty frame.
	ErrEmptyFrame = errors.New("captured frame is empty")
	// ErrReadTimeout is returned by ReadWithTimeout when the device is too slow.
	ErrReadTimeout = errors.New("timed out reading frame")
	// ErrReadBusy is returned when another read is still waiting on the device.
	ErrReadBusy = errors.New("previous read still in progress")
	// ErrDeviceBusy is returned by Open while a closed device is still being released.
	ErrDeviceBusy = errors.New("camera device is still being released")
)

// Camera defines the interface for camera capture implementations.
// A Camera is the only owner of the physical device handle.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Device is the capture handle behind a Camera. *gocv.VideoCapture satisfies it.
type Device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	IsOpened() bool
	Close() error
}

// DeviceOpener acquires the device with the given index.
type DeviceOpener func(deviceID int) (Device, error)

// Options configures a device camera.
type Options struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// cameraImpl manages video capture from a camera device.
//
// Device reads run without holding mu, so Close never waits on a read that
// hangs inside the driver. A Close that arrives during a read only marks the
// handle; the reading goroutine releases it once the driver returns.
type cameraImpl struct {
	opts    Options
	open    DeviceOpener
	mu      sync.Mutex
	dev     Device
	running bool
	reading bool
	release bool
}

// NewCamera creates a new Camera for the given OpenCV device.
// Zero-valued options fall back to 640x480 at 15 FPS.
func NewCamera(opts Options) Camera {
	return NewDeviceCamera(opts, openVideoCapture)
}

// NewDeviceCamera creates a Camera whose device is acquired through open.
func NewDeviceCamera(opts Options, open DeviceOpener) Camera {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &cameraImpl{opts: opts, open: open}
}

func openVideoCapture(deviceID int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

// Open opens the camera for capturing frames. Opening an open camera is a no-op.
// It fails with ErrDeviceBusy while a previous handle waits on a hung read.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if c.release {
		return ErrDeviceBusy
	}

	dev, err := c.open(c.opts.DeviceID)
	if err != nil {
		return err
	}
	if !dev.IsOpened() {
		dev.Close()
		return ErrCameraNotOpen
	}

	dev.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	dev.Set(gocv.VideoCaptureFPS, float64(c.opts.FPS))

	c.dev = dev
	c.running = true

	return nil
}

// Close closes the camera and releases the device. It does not wait for an
// in-flight ReadFrame; that read releases the device when it returns.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.dev == nil {
		c.running = false
		return nil
	}
	c.running = false

	if c.reading {
		c.release = true
		return nil
	}

	err := c.dev.Close()
	c.dev = nil
	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	if !c.running || c.dev == nil {
		c.mu.Unlock()
		return nil, ErrCameraNotOpen
	}
	if c.reading {
		c.mu.Unlock()
		return nil, ErrReadBusy
	}
	c.reading = true
	dev := c.dev
	c.mu.Unlock()

	mat := gocv.NewMat()
	ok := dev.Read(&mat)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading = false

	if c.release {
		c.release = false
		c.dev = nil
		mat.Close()
		dev.Close()
		return nil, ErrCameraNotOpen
	}

	if !ok {
		mat.Close()
		return nil, ErrReadFailed
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.opts.FPS = fps

	// The driver is not safe to configure while a read is using it.
	if c.dev != nil && !c.reading {
		c.dev.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opts.FPS
}

// IsOpen returns true if the camera is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

type readResult struct {
	mat *gocv.Mat
	err error
}

// ReadWithTimeout reads one frame but gives up after timeout or when ctx ends.
// A read that completes after the caller gave up has its frame closed.
func ReadWithTimeout(ctx context.Context, cam Camera, timeout time.Duration) (*gocv.Mat, error) {
	ch := make(chan readResult, 1)
	go func() {
		mat, err := cam.ReadFrame()
		ch <- readResult{mat: mat, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.mat, res.err
	case <-timer.C:
		go discard(ch)
		return nil, ErrReadTimeout
	case <-ctx.Done():
		go discard(ch)
		return nil, ctx.Err()
	}
}

func discard(ch <-chan readResult) {
	if res := <-ch; res.mat != nil {
		res.mat.Close()
	}
}
