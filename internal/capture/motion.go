package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
)

// MotionDetector compares consecutive frames and reports the share of
// pixels that changed. The capture loop uses it to skip inference on a
// static scene.
type MotionDetector struct {
	threshold float64
	prevGray  gocv.Mat
	primed    bool
	mu        sync.Mutex
}

// NewMotionDetector creates a MotionDetector. threshold is the percentage of
// pixels that must change, so 1.0 means 1%.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Detect reports whether frame differs from the previous one by more than the
// threshold, together with the measured change percentage. The first frame
// only primes the detector and is reported as motion so inference is not
// starved at session start.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	blurred := grayBlur(frame)
	defer blurred.Close()

	if !m.primed || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.primed = true
		return true, 100
	}

	changed := changedPercent(blurred, m.prevGray)
	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// grayBlur converts frame to a blurred grayscale Mat owned by the caller.
func grayBlur(frame *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)
	return blurred
}

// changedPercent thresholds the absolute difference of a and b and returns
// the percentage of non-zero pixels.
func changedPercent(a, b gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	total := thresh.Rows() * thresh.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(thresh)) / float64(total) * 100.0
}

// Reset forgets the previous frame so the next Detect primes again.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// Close releases the Mat held by the detector. It is safe to call twice.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

func (m *MotionDetector) release() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.primed = false
}

// Threshold returns the configured change percentage.
func (m *MotionDetector) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetThreshold sets the change percentage. Values <= 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
}
