package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ayusman/netcam/internal/app"
)

// ControlHandler serves the camera control endpoints.
type ControlHandler struct {
	app *app.App
	log *slog.Logger
}

type startRequest struct {
	Detection *bool `json:"detection"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type controlResponse struct {
	Success          bool   `json:"success"`
	Status           string `json:"status"`
	DetectionEnabled *bool  `json:"detection_enabled,omitempty"`
}

func ack(ok bool, status string, detection *bool) controlResponse {
	return controlResponse{Success: ok, Status: status, DetectionEnabled: detection}
}

func boolRef(b bool) *bool { return &b }

// publicStatus reports detection as off while the camera is stopped.
func publicStatus(s app.Status) app.Status {
	if !s.Running {
		s.DetectionEnabled = false
	}
	return s
}

// Start handles POST /start_camera with an optional {"detection": bool} body.
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, ack(false, "Invalid request body", nil))
			return
		}
	}

	started, err := h.app.Start(app.StartOptions{Detection: req.Detection})
	if err != nil {
		h.log.Error("start camera failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, app.ErrDeviceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, ack(false, "Failed to open camera", nil))
		return
	}

	enabled := boolRef(h.app.DetectionEnabled())
	if !started {
		writeJSON(w, http.StatusOK, ack(true, "Camera is already running", enabled))
		return
	}
	writeJSON(w, http.StatusOK, ack(true, "Camera started successfully", enabled))
}

// Stop handles POST /stop_camera. Stopping a stopped camera succeeds.
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.app.Stop() {
		writeJSON(w, http.StatusOK, ack(true, "Camera is not running", nil))
		return
	}
	writeJSON(w, http.StatusOK, ack(true, "Camera stopped successfully", nil))
}

// Toggle handles POST /toggle_detection. An optional {"enabled": bool} body
// sets detection explicitly instead of flipping it.
func (h *ControlHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toggleRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, ack(false, "Invalid request body", nil))
			return
		}
	}

	var (
		enabled bool
		err     error
	)
	if req.Enabled != nil {
		enabled = *req.Enabled
		err = h.app.SetDetection(enabled)
	} else {
		enabled, err = h.app.ToggleDetection()
	}
	if errors.Is(err, app.ErrNotRunning) {
		writeJSON(w, http.StatusConflict, ack(false, "Camera is not running", nil))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ack(false, err.Error(), nil))
		return
	}

	status := "Detection disabled"
	if enabled {
		status = "Detection enabled"
	}
	writeJSON(w, http.StatusOK, ack(true, status, boolRef(enabled)))
}

// Status handles GET /status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, publicStatus(h.app.Status()))
}
