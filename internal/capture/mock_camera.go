package capture

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrNoFrames is returned by MockCamera when playback has run out.
var ErrNoFrames = errors.New("no more frames")

// MockCamera plays back pre-recorded frames for testing.
// Failures, open errors and read latency can be injected.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool

	openErr   error
	failing   bool
	failNext  int
	readDelay time.Duration

	opens  int
	closes int
	reads  int
}

// NewMockCamera creates a mock that replays frames, optionally looping.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErr != nil {
		return c.openErr
	}
	if c.running {
		return nil
	}
	c.running = true
	c.index = 0
	c.opens++
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.closes++
	}
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readDelay > 0 {
		time.Sleep(c.readDelay)
	}
	c.reads++

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if c.failing {
		return nil, ErrReadFailed
	}
	if c.failNext > 0 {
		c.failNext--
		return nil, ErrReadFailed
	}

	if len(c.frames) == 0 {
		return nil, ErrNoFrames
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoFrames
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// SetOpenError makes Open fail with err until cleared with nil.
func (c *MockCamera) SetOpenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// SetFailing makes every read fail while true.
func (c *MockCamera) SetFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = failing
}

// FailNext makes the next n reads fail.
func (c *MockCamera) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// SetReadDelay makes each read block for d before returning. The mock stays
// locked during the delay, so Close waits for the read. Use MockDevice with
// the device camera to model a read that hangs.
func (c *MockCamera) SetReadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = d
}

// Opens returns how many times the device was acquired.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Closes returns how many times an open device was released.
func (c *MockCamera) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Reads returns the number of ReadFrame calls.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
