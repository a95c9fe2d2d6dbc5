package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// ErrUnknownLayout is returned when the model output shape is not a YOLO head.
var ErrUnknownLayout = errors.New("unrecognized YOLO output layout")

// YOLODetector runs a YOLOv5 or YOLOv8 ONNX export through the OpenCV DNN module.
type YOLODetector struct {
	net     gocv.Net
	config  Config
	classes map[string]bool
	mu      sync.Mutex
}

// NewYOLO loads the model described by cfg.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		cfg.InputWidth, cfg.InputHeight = 640, 640
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	var classes map[string]bool
	if len(cfg.Classes) > 0 {
		classes = make(map[string]bool, len(cfg.Classes))
		for _, c := range cfg.Classes {
			classes[c] = true
		}
	}

	return &YOLODetector{net: net, config: cfg, classes: classes}, nil
}

// Detect runs inference on frame and returns boxes scaled to the frame size.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	input := image.Pt(d.config.InputWidth, d.config.InputHeight)
	// The model expects RGB scaled to [0,1]; OpenCV frames are BGR.
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	scaleX := float32(frame.Cols()) / float32(d.config.InputWidth)
	scaleY := float32(frame.Rows()) / float32(d.config.InputHeight)

	cands, err := decodeOutput(data, output.Size(), scaleX, scaleY, float32(d.config.Confidence))
	if err != nil {
		return nil, err
	}

	return d.finalize(cands), nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

type candidate struct {
	rect    image.Rectangle
	score   float32
	classID int
}

// decodeOutput turns a raw YOLO head into candidate boxes above minConf.
//
// Two layouts are accepted:
//   - YOLOv5: [1, N, 5+C] rows of cx, cy, w, h, objectness, class scores
//   - YOLOv8: [1, 4+C, N] columns of cx, cy, w, h, class scores
func decodeOutput(data []float32, sizes []int, scaleX, scaleY, minConf float32) ([]candidate, error) {
	if len(sizes) != 3 || sizes[0] != 1 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownLayout, sizes)
	}
	a, b := sizes[1], sizes[2]
	if len(data) < a*b {
		return nil, fmt.Errorf("%w: %d values for %v", ErrUnknownLayout, len(data), sizes)
	}

	// v5 heads have many more rows than attributes; v8 heads are transposed.
	if a > b {
		return decodeRows(data, a, b, scaleX, scaleY, minConf), nil
	}
	return decodeColumns(data, a, b, scaleX, scaleY, minConf), nil
}

func decodeRows(data []float32, rows, attrs int, scaleX, scaleY, minConf float32) []candidate {
	var out []candidate
	for i := 0; i < rows; i++ {
		row := data[i*attrs : (i+1)*attrs]
		obj := row[4]
		if obj < minConf {
			continue
		}
		classID, best := argmax(row[5:])
		score := obj * best
		if score < minConf {
			continue
		}
		out = append(out, candidate{
			rect:    centerRect(row[0], row[1], row[2], row[3], scaleX, scaleY),
			score:   score,
			classID: classID,
		})
	}
	return out
}

func decodeColumns(data []float32, attrs, cols int, scaleX, scaleY, minConf float32) []candidate {
	var out []candidate
	at := func(attr, col int) float32 { return data[attr*cols+col] }
	for i := 0; i < cols; i++ {
		classID, best := 0, float32(0)
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > best {
				best, classID = s, c-4
			}
		}
		if best < minConf {
			continue
		}
		out = append(out, candidate{
			rect:    centerRect(at(0, i), at(1, i), at(2, i), at(3, i), scaleX, scaleY),
			score:   best,
			classID: classID,
		})
	}
	return out
}

func argmax(scores []float32) (int, float32) {
	idx, best := 0, float32(0)
	for i, s := range scores {
		if s > best {
			idx, best = i, s
		}
	}
	return idx, best
}

func centerRect(cx, cy, w, h, scaleX, scaleY float32) image.Rectangle {
	x1 := int((cx - w/2) * scaleX)
	y1 := int((cy - h/2) * scaleY)
	x2 := int((cx + w/2) * scaleX)
	y2 := int((cy + h/2) * scaleY)
	return image.Rect(x1, y1, x2, y2)
}

// finalize applies class filtering, non-maximum suppression and the detection cap.
func (d *YOLODetector) finalize(cands []candidate) []Detection {
	if d.classes != nil {
		kept := cands[:0]
		for _, c := range cands {
			if d.classes[ClassLabel(c.classID)] {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	if len(cands) == 0 {
		return []Detection{}
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.rect
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(d.config.Confidence), float32(d.config.NMS))

	out := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		c := cands[idx]
		out = append(out, Detection{
			Label:      ClassLabel(c.classID),
			ClassID:    c.classID,
			Confidence: float64(c.score),
			Box:        BoxFromRect(c.rect),
		})
	}

	return limit(out, d.config.MaxDetections)
}

// limit sorts by confidence and keeps at most max entries. max <= 0 keeps all.
func limit(dets []Detection, max int) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	if max > 0 && len(dets) > max {
		dets = dets[:max]
	}
	return dets
}
