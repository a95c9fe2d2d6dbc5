// Package detector wraps object-detection models behind a single interface.
package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the objects found in it,
	// highest confidence first. Returns an empty slice if nothing is found.
	// The frame is not modified.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Detection is one labelled object found in a frame.
type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Config holds configuration options for object detection.
type Config struct {
	// ModelPath is the ONNX model file.
	ModelPath string

	// Confidence is the minimum detection confidence (0.0-1.0).
	Confidence float64

	// NMS is the IoU threshold used for non-maximum suppression (0.0-1.0).
	NMS float64

	// MaxDetections caps the number of returned boxes.
	MaxDetections int

	// InputWidth and InputHeight are the model input size.
	InputWidth  int
	InputHeight int

	// Classes restricts results to these labels. Empty means all classes.
	Classes []string
}

// DefaultConfig returns a Config matching yolov5s exported at 640x640.
func DefaultConfig() Config {
	return Config{
		ModelPath:     "models/yolov5s.onnx",
		Confidence:    0.45,
		NMS:           0.45,
		MaxDetections: 50,
		InputWidth:    640,
		InputHeight:   640,
	}
}
