package detector

import (
	"errors"
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func TestBox_Rect(t *testing.T) {
	b := Box{X: 10, Y: 20, W: 30, H: 40}
	r := b.Rect()

	if r != image.Rect(10, 20, 40, 60) {
		t.Errorf("Rect() = %v, want (10,20)-(40,60)", r)
	}
	if got := BoxFromRect(r); got != b {
		t.Errorf("BoxFromRect(Rect()) = %+v, want %+v", got, b)
	}
}

func TestClassLabel(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "person"},
		{16, "dog"},
		{79, "toothbrush"},
		{80, "class80"},
		{-1, "class-1"},
	}

	for _, tt := range tests {
		if got := ClassLabel(tt.id); got != tt.want {
			t.Errorf("ClassLabel(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Confidence != 0.45 {
		t.Errorf("Confidence = %f, want 0.45", cfg.Confidence)
	}
	if cfg.NMS != 0.45 {
		t.Errorf("NMS = %f, want 0.45", cfg.NMS)
	}
	if cfg.InputWidth != 640 || cfg.InputHeight != 640 {
		t.Errorf("input = %dx%d, want 640x640", cfg.InputWidth, cfg.InputHeight)
	}
}

func TestMockDetector(t *testing.T) {
	m := NewMockDetector()
	frame := gocv.NewMat()
	defer frame.Close()

	dets, err := m.Detect(&frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Detect() returned %d detections, want 0", len(dets))
	}

	m.SetDetections([]Detection{PersonDetection(), DogDetection()})
	dets, _ = m.Detect(&frame)
	if len(dets) != 2 || dets[0].Label != "person" || dets[1].Label != "dog" {
		t.Errorf("Detect() = %+v, want person and dog", dets)
	}

	boom := errors.New("boom")
	m.SetError(boom)
	if _, err := m.Detect(&frame); !errors.Is(err, boom) {
		t.Errorf("Detect() error = %v, want %v", err, boom)
	}

	if m.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", m.Calls())
	}

	m.Close()
	if !m.Closed() {
		t.Error("Closed() should be true after Close()")
	}
}

func TestNewYOLO_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/model.onnx"

	if _, err := NewYOLO(cfg); err == nil {
		t.Fatal("NewYOLO() expected error for missing model")
	}
}

func TestDecodeOutput_Rows(t *testing.T) {
	// Two candidates, 2 classes: [cx, cy, w, h, obj, c0, c1]
	data := []float32{
		100, 100, 50, 50, 0.9, 0.9, 0.1,
		300, 300, 20, 20, 0.2, 0.1, 0.9,
		// padding rows so rows > attrs
		0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0,
	}

	cands, err := decodeOutput(data, []int{1, 8, 7}, 2, 1, 0.5)
	if err != nil {
		t.Fatalf("decodeOutput() error = %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}

	c := cands[0]
	if c.classID != 0 {
		t.Errorf("classID = %d, want 0", c.classID)
	}
	if c.score < 0.80 || c.score > 0.82 {
		t.Errorf("score = %f, want ~0.81", c.score)
	}
	if c.rect != image.Rect(150, 75, 250, 125) {
		t.Errorf("rect = %v, want (150,75)-(250,125)", c.rect)
	}
}

func TestDecodeOutput_Columns(t *testing.T) {
	// 4 box attrs + 2 classes, 8 columns. Only column 2 is confident, in class 1.
	const cols = 8
	data := make([]float32, 6*cols)
	set := func(attr, col int, v float32) { data[attr*cols+col] = v }
	set(0, 2, 64)
	set(1, 2, 64)
	set(2, 2, 32)
	set(3, 2, 32)
	set(5, 2, 0.75)
	set(4, 5, 0.3)

	cands, err := decodeOutput(data, []int{1, 6, cols}, 1, 1, 0.5)
	if err != nil {
		t.Fatalf("decodeOutput() error = %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].classID != 1 {
		t.Errorf("classID = %d, want 1", cands[0].classID)
	}
	if cands[0].rect != image.Rect(48, 48, 80, 80) {
		t.Errorf("rect = %v, want (48,48)-(80,80)", cands[0].rect)
	}
}

func TestDecodeOutput_BadLayout(t *testing.T) {
	tests := []struct {
		name  string
		data  []float32
		sizes []int
	}{
		{"two dims", make([]float32, 10), []int{2, 5}},
		{"batch of two", make([]float32, 20), []int{2, 2, 5}},
		{"short data", make([]float32, 3), []int{1, 2, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeOutput(tt.data, tt.sizes, 1, 1, 0.5)
			if !errors.Is(err, ErrUnknownLayout) {
				t.Errorf("error = %v, want ErrUnknownLayout", err)
			}
		})
	}
}

func TestLimit(t *testing.T) {
	dets := []Detection{
		{Label: "a", Confidence: 0.5},
		{Label: "b", Confidence: 0.9},
		{Label: "c", Confidence: 0.7},
	}

	got := limit(dets, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Label != "b" || got[1].Label != "c" {
		t.Errorf("order = %s,%s, want b,c", got[0].Label, got[1].Label)
	}

	if all := limit([]Detection{{}, {}, {}}, 0); len(all) != 3 {
		t.Errorf("limit(0) len = %d, want 3", len(all))
	}
}
