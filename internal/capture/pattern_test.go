package capture

import (
	"errors"
	"testing"
)

func TestPatternCamera_Lifecycle(t *testing.T) {
	cam := NewPatternCamera(160, 120)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Fatalf("ReadFrame() before Open error = %v, want ErrCameraNotOpen", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	defer f.Close()

	if f.Cols() != 160 || f.Rows() != 120 {
		t.Errorf("frame size = %dx%d, want 160x120", f.Cols(), f.Rows())
	}
	if f.Channels() != 3 {
		t.Errorf("channels = %d, want 3", f.Channels())
	}

	cam.Close()
	if cam.IsOpen() {
		t.Error("IsOpen() should be false after Close()")
	}
}

func TestPatternCamera_Defaults(t *testing.T) {
	cam := NewPatternCamera(0, 0)
	if cam.width != DefaultWidth || cam.height != DefaultHeight {
		t.Errorf("size = %dx%d, want %dx%d", cam.width, cam.height, DefaultWidth, DefaultHeight)
	}

	cam.SetFPS(0)
	if cam.FPS() != DefaultFPS {
		t.Errorf("FPS() = %d, want %d", cam.FPS(), DefaultFPS)
	}
}
