package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/netcam/internal/app"
)

// Boundary separates parts of the MJPEG stream.
const Boundary = "frame"

// StreamHandler serves the latest published frames as an MJPEG stream.
type StreamHandler struct {
	app      *app.App
	interval time.Duration
	wait     time.Duration
	log      *slog.Logger
}

// NewStreamHandler creates a new StreamHandler for a.
func NewStreamHandler(a *app.App, interval, wait time.Duration, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{app: a, interval: interval, wait: wait, log: logger}
}

// ServeHTTP streams frames until the session stops or the client disconnects.
// A viewer that connects while the camera is stopped waits up to the
// configured wait for it to start, then gets 503.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	waitCtx, cancel := context.WithTimeout(ctx, h.wait)
	err := h.app.WaitRunning(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, ack(false, "Camera is not running", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	release := h.app.AddViewer()
	defer release()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug("viewer connected", "remote", r.RemoteAddr)
	defer h.log.Debug("viewer disconnected", "remote", r.RemoteAddr)

	var seq uint64
	for {
		frame, err := h.app.WaitFrame(ctx, seq)
		if err != nil {
			if errors.Is(err, app.ErrNotRunning) {
				h.log.Debug("stream ended, camera stopped", "remote", r.RemoteAddr)
			}
			return
		}

		if err := writePart(w, frame); err != nil {
			return
		}
		flusher.Flush()
		seq = frame.Seq

		if h.interval > 0 && !pause(ctx, h.interval) {
			return
		}
	}
}

// writePart writes one complete multipart section.
func writePart(w http.ResponseWriter, f *app.Frame) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Frame-Sequence: %d\r\n\r\n",
		Boundary, len(f.Data), f.Seq)
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// SnapshotHandler serves the latest frame as a single JPEG.
type SnapshotHandler struct {
	app *app.App
}

// ServeHTTP handles GET /snapshot.jpg.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame, ok := h.app.CurrentFrame()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, ack(false, "No frame available", nil))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Sequence", strconv.FormatUint(frame.Seq, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}
