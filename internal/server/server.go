// Package server provides the HTTP boundary for netcam: camera control,
// the MJPEG stream, the detections WebSocket and the session history API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/netcam/internal/app"
	"github.com/ayusman/netcam/internal/log"
	"github.com/ayusman/netcam/internal/server/api"
	"github.com/ayusman/netcam/internal/store"
)

// Stream defaults.
const (
	DefaultStreamInterval = 40 * time.Millisecond
	DefaultStreamWait     = 5 * time.Second
)

// Config holds the server configuration.
type Config struct {
	App       *app.App
	Store     *store.Store
	StaticDir string

	// StreamInterval is the minimum spacing between parts sent to one viewer.
	StreamInterval time.Duration
	// StreamWait is how long a new viewer waits for the camera to start.
	StreamWait time.Duration

	Logger *slog.Logger
}

// Server represents the HTTP server for netcam.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    *slog.Logger
	hub    *DetectionsHub
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.StreamInterval < 0 {
		config.StreamInterval = 0
	} else if config.StreamInterval == 0 {
		config.StreamInterval = DefaultStreamInterval
	}
	if config.StreamWait <= 0 {
		config.StreamWait = DefaultStreamWait
	}
	if config.Logger == nil {
		config.Logger = log.L()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.App != nil {
		control := &ControlHandler{app: s.config.App, log: s.log}
		s.mux.HandleFunc("/start_camera", control.Start)
		s.mux.HandleFunc("/stop_camera", control.Stop)
		s.mux.HandleFunc("/toggle_detection", control.Toggle)
		s.mux.HandleFunc("/status", control.Status)

		s.mux.Handle("/video_feed", NewStreamHandler(s.config.App, s.config.StreamInterval, s.config.StreamWait, s.log))
		s.mux.Handle("/snapshot.jpg", &SnapshotHandler{app: s.config.App})

		s.hub = NewDetectionsHub(s.log)
		s.config.App.Observe(s.hub)
		s.mux.Handle("/ws/detections", s.hub)
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disconnects WebSocket clients.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.App != nil {
		response["camera_running"] = s.config.App.IsRunning()
	}
	if s.hub != nil {
		response["ws_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
