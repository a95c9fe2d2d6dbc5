package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
	closed     bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(detections []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.detections, nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PersonDetection returns a preset detection of a person in the left half of a 640x480 frame.
func PersonDetection() Detection {
	return Detection{
		Label:      "person",
		ClassID:    0,
		Confidence: 0.91,
		Box:        Box{X: 40, Y: 60, W: 200, H: 380},
	}
}

// DogDetection returns a preset detection of a dog in the right half of a 640x480 frame.
func DogDetection() Detection {
	return Detection{
		Label:      "dog",
		ClassID:    16,
		Confidence: 0.67,
		Box:        Box{X: 380, Y: 260, W: 180, H: 160},
	}
}
