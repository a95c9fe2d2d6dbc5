package capture

import (
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// PatternCamera is a device-free Camera producing a moving test pattern.
// It lets the server run on machines without a webcam.
type PatternCamera struct {
	width  int
	height int
	fps    int
	step   int
	mu     sync.Mutex
	open   bool
}

// NewPatternCamera creates a pattern source of the given size.
func NewPatternCamera(width, height int) *PatternCamera {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &PatternCamera{width: width, height: height, fps: DefaultFPS}
}

func (p *PatternCamera) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.step = 0
	return nil
}

func (p *PatternCamera) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// ReadFrame renders the next pattern frame.
func (p *PatternCamera) ReadFrame() (*gocv.Mat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil, ErrCameraNotOpen
	}

	mat := PatternFrame(p.width, p.height, p.step)
	p.step++
	return &mat, nil
}

func (p *PatternCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fps = fps
}

func (p *PatternCamera) FPS() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps
}

func (p *PatternCamera) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// PatternFrame renders a grey frame with a white bar whose position depends on step.
// The caller owns the returned Mat.
func PatternFrame(width, height, step int) gocv.Mat {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(64, 64, 64, 0))

	barWidth := width / 8
	if barWidth < 1 {
		barWidth = 1
	}
	x := (step * 8) % width
	bar := image.Rect(x, 0, x+barWidth, height)
	gocv.Rectangle(&mat, bar, color.RGBA{R: 255, G: 255, B: 255, A: 0}, -1)

	return mat
}
