// Package encode turns frames into JPEG bytes.
package encode

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrEmptyFrame is returned when there is nothing to encode.
var ErrEmptyFrame = errors.New("cannot encode empty frame")

// JPEG encodes frames at a fixed quality.
type JPEG struct {
	quality int
}

// NewJPEG returns an encoder. Quality outside 1..100 falls back to DefaultQuality.
func NewJPEG(quality int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEG{quality: quality}
}

// Quality returns the configured JPEG quality.
func (e *JPEG) Quality() int {
	return e.quality
}

// Encode returns a copy of the JPEG bytes for frame. The returned slice is
// owned by the caller and never aliases OpenCV memory.
func (e *JPEG) Encode(frame *gocv.Mat) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{int(gocv.IMWriteJpegQuality), e.quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	src := buf.GetBytes()
	if len(src) == 0 {
		return nil, errors.New("jpeg encode: empty output")
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}
