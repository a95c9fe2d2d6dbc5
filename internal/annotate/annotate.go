// Package annotate draws detection boxes and the status overlay onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/netcam/internal/detector"
)

var (
	boxColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	statusColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	accessColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Overlay is the status text drawn on every frame.
type Overlay struct {
	DetectionEnabled bool
	AccessURL        string
}

// StatusText returns the detection line of the overlay.
func (o Overlay) StatusText() string {
	if o.DetectionEnabled {
		return "Detection: ON"
	}
	return "Detection: OFF"
}

// AccessText returns the access line of the overlay, or "" if no URL is set.
func (o Overlay) AccessText() string {
	if o.AccessURL == "" {
		return ""
	}
	return "Access: " + o.AccessURL
}

// Annotator draws onto frames in place.
type Annotator struct {
	Thickness int
	FontScale float64
}

// New returns an Annotator with the default stroke and font size.
func New() *Annotator {
	return &Annotator{Thickness: 2, FontScale: 0.5}
}

// Label formats the caption drawn above a detection box.
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Detections draws a box and caption for each detection.
// Boxes are clipped to the frame; a box entirely outside it is skipped.
func (a *Annotator) Detections(frame *gocv.Mat, dets []detector.Detection) error {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	for _, d := range dets {
		rect := d.Box.Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}

		if err := gocv.Rectangle(frame, rect, boxColor, a.Thickness); err != nil {
			return fmt.Errorf("draw box: %w", err)
		}

		y := rect.Min.Y - 10
		if y < 10 {
			y = rect.Min.Y + 15
		}
		pt := image.Pt(rect.Min.X, y)
		if err := gocv.PutText(frame, Label(d), pt, gocv.FontHersheySimplex, a.FontScale, boxColor, a.Thickness); err != nil {
			return fmt.Errorf("draw label: %w", err)
		}
	}

	return nil
}

// Status draws the detection state in the top-left corner and the access URL
// along the bottom edge.
func (a *Annotator) Status(frame *gocv.Mat, o Overlay) error {
	if err := gocv.PutText(frame, o.StatusText(), image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, statusColor, 2); err != nil {
		return fmt.Errorf("draw status: %w", err)
	}

	if text := o.AccessText(); text != "" {
		pt := image.Pt(10, frame.Rows()-10)
		if err := gocv.PutText(frame, text, pt, gocv.FontHersheySimplex, 0.6, accessColor, 1); err != nil {
			return fmt.Errorf("draw access url: %w", err)
		}
	}

	return nil
}

// Draw annotates frame with dets and the overlay.
func (a *Annotator) Draw(frame *gocv.Mat, dets []detector.Detection, o Overlay) error {
	if frame == nil || frame.Empty() {
		return fmt.Errorf("annotate: empty frame")
	}
	if err := a.Detections(frame, dets); err != nil {
		return err
	}
	return a.Status(frame, o)
}
