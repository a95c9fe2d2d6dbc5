package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDevice is a scripted Device producing pattern frames. Hang makes reads
// block inside the driver call until Resume, like a stalled webcam.
type MockDevice struct {
	mu       sync.Mutex
	width    int
	height   int
	step     int
	gate     chan struct{}
	failOpen bool
	closed   bool
	reads    int
	waiting  int
	props    map[gocv.VideoCaptureProperties]float64
}

// NewMockDevice creates a device delivering width x height frames.
func NewMockDevice(width, height int) *MockDevice {
	return &MockDevice{
		width:  width,
		height: height,
		props:  make(map[gocv.VideoCaptureProperties]float64),
	}
}

// Opener returns a DeviceOpener that always hands out d.
func (d *MockDevice) Opener() DeviceOpener {
	return func(int) (Device, error) {
		d.mu.Lock()
		d.closed = false
		d.mu.Unlock()
		return d, nil
	}
}

func (d *MockDevice) Read(m *gocv.Mat) bool {
	d.mu.Lock()
	d.reads++
	gate := d.gate
	if gate != nil {
		d.waiting++
	}
	d.mu.Unlock()

	if gate != nil {
		<-gate
		d.mu.Lock()
		d.waiting--
		d.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	frame := PatternFrame(d.width, d.height, d.step)
	d.step++
	m.Close()
	*m = frame
	return true
}

func (d *MockDevice) Set(prop gocv.VideoCaptureProperties, param float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props[prop] = param
}

func (d *MockDevice) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.failOpen && !d.closed
}

func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SetFailOpen makes IsOpened report false, as for a missing device.
func (d *MockDevice) SetFailOpen(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen = fail
}

// Hang makes subsequent reads block until Resume.
func (d *MockDevice) Hang() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Resume releases every blocked read. It is safe to call repeatedly.
func (d *MockDevice) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Waiting returns how many reads are blocked in the device.
func (d *MockDevice) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

// Reads returns the number of Read calls.
func (d *MockDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closed reports whether the handle has been released.
func (d *MockDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Prop returns the last value set for prop.
func (d *MockDevice) Prop(prop gocv.VideoCaptureProperties) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props[prop]
}
