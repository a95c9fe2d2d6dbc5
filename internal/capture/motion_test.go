package capture

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestNewMotionDetector(t *testing.T) {
	for _, threshold := range []float64{0.5, 1.0, 5.0} {
		md := NewMotionDetector(threshold)
		if md.Threshold() != threshold {
			t.Errorf("Threshold() = %f, want %f", md.Threshold(), threshold)
		}
		if md.primed {
			t.Error("motion detector should not be primed initially")
		}
		md.Close()
	}
}

func TestMotionDetector_FirstFramePrimes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	detected, _ := md.Detect(&frame)
	if !detected {
		t.Error("first frame should count as motion")
	}
	if !md.primed {
		t.Error("detector should be primed after first frame")
	}
}

func TestMotionDetector_NoMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	frame1 := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	md.Detect(&frame1)

	detected, changed := md.Detect(&frame2)
	if detected {
		t.Errorf("identical frames should not detect motion, changed = %f", changed)
	}
}

func TestMotionDetector_WithMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	blackFrame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer blackFrame.Close()

	whiteFrame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer whiteFrame.Close()
	whiteFrame.SetTo(gocv.NewScalar(255, 255, 255, 0))

	md.Detect(&blackFrame)

	detected, changed := md.Detect(&whiteFrame)
	if !detected {
		t.Errorf("black to white should detect motion, changed = %f", changed)
	}
	if changed < 50.0 {
		t.Errorf("changed = %f, expected > 50%% for black to white transition", changed)
	}
}

func TestMotionDetector_PatternFramesMove(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(0.5)
	defer md.Close()

	a := PatternFrame(320, 240, 0)
	defer a.Close()
	b := PatternFrame(320, 240, 10)
	defer b.Close()

	md.Detect(&a)
	if detected, changed := md.Detect(&b); !detected {
		t.Errorf("moved bar should register as motion, changed = %f", changed)
	}
}

func TestMotionDetector_Reset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	md.Detect(&frame)
	md.Reset()

	if md.primed {
		t.Error("detector should not be primed after Reset")
	}
	if !md.prevGray.Empty() {
		t.Error("prevGray should be empty after Reset")
	}
}

func TestMotionDetector_SetThreshold(t *testing.T) {
	md := NewMotionDetector(1.0)
	defer md.Close()

	md.SetThreshold(5.0)
	if md.Threshold() != 5.0 {
		t.Errorf("Threshold() = %f, want 5.0", md.Threshold())
	}

	md.SetThreshold(-1.0)
	if md.Threshold() != 5.0 {
		t.Errorf("negative threshold should be ignored, got %f", md.Threshold())
	}
}

func TestMotionDetector_Close_Multiple(t *testing.T) {
	md := NewMotionDetector(1.0)
	md.Close()
	md.Close()
}
