package annotate

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/netcam/internal/detector"
)

func TestOverlay_Text(t *testing.T) {
	tests := []struct {
		name       string
		overlay    Overlay
		wantStatus string
		wantAccess string
	}{
		{"on with url", Overlay{true, "http://10.0.0.5:5000"}, "Detection: ON", "Access: http://10.0.0.5:5000"},
		{"off without url", Overlay{false, ""}, "Detection: OFF", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.overlay.StatusText(); got != tt.wantStatus {
				t.Errorf("StatusText() = %q, want %q", got, tt.wantStatus)
			}
			if got := tt.overlay.AccessText(); got != tt.wantAccess {
				t.Errorf("AccessText() = %q, want %q", got, tt.wantAccess)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	if got := Label(detector.PersonDetection()); got != "person 0.91" {
		t.Errorf("Label() = %q, want %q", got, "person 0.91")
	}
}

func TestDraw_ModifiesFrame(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	a := New()
	dets := []detector.Detection{detector.PersonDetection(), detector.DogDetection()}
	if err := a.Draw(&frame, dets, Overlay{DetectionEnabled: true, AccessURL: "http://127.0.0.1:5000"}); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	// Person box top-left corner is drawn in green (BGR 0,255,0).
	px := frame.GetVecbAt(60, 40)
	if px[1] != 255 {
		t.Errorf("pixel at box corner = %v, want green channel 255", px)
	}
}

func TestDraw_OutOfFrameBoxSkipped(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	far := detector.Detection{Label: "car", Confidence: 0.5, Box: detector.Box{X: 1000, Y: 1000, W: 10, H: 10}}
	if err := New().Detections(&frame, []detector.Detection{far}); err != nil {
		t.Fatalf("Detections() error = %v", err)
	}
	flat := frame.Reshape(1, 0)
	defer flat.Close()
	if gocv.CountNonZero(flat) != 0 {
		t.Error("frame should be untouched when box is outside it")
	}
}

func TestDraw_EmptyFrame(t *testing.T) {
	frame := gocv.NewMat()
	defer frame.Close()

	if err := New().Draw(&frame, nil, Overlay{}); err == nil {
		t.Error("Draw() on empty frame should fail")
	}
}
