// Package app owns the camera session: start, stop, detection toggle and the
// capture pipeline that publishes encoded frames for viewers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/netcam/internal/annotate"
	"github.com/ayusman/netcam/internal/capture"
	"github.com/ayusman/netcam/internal/detector"
	"github.com/ayusman/netcam/internal/encode"
	"github.com/ayusman/netcam/internal/log"
	"github.com/ayusman/netcam/internal/store"
)

// Pipeline defaults.
const (
	DefaultReadTimeout     = 2 * time.Second
	DefaultMaxReadFailures = 10
	DefaultRetryBackoff    = 50 * time.Millisecond
	DefaultMaxRetryBackoff = time.Second
	DefaultStopGrace       = 2 * time.Second
	// ProgressEvery is how many published frames pass between progress logs.
	ProgressEvery = 100
)

// Reasons recorded when a session ends.
const (
	StopReasonStopped       = "stopped"
	StopReasonCaptureFailed = "capture_failed"
	StopReasonShutdown      = "shutdown"
)

// Encoder turns a frame into image bytes.
type Encoder interface {
	Encode(frame *gocv.Mat) ([]byte, error)
}

// Annotator draws detections and the status overlay onto a frame.
type Annotator interface {
	Draw(frame *gocv.Mat, dets []detector.Detection, o annotate.Overlay) error
}

// Recorder persists session history.
type Recorder interface {
	Create(sess *store.Session) error
	Finish(id string, sum store.Summary) error
}

// Observer is told about published frames and status changes.
// Implementations must not block.
type Observer interface {
	FramePublished(f *Frame)
	StatusChanged(s Status)
}

// Config holds configuration options for the application.
type Config struct {
	Camera    capture.Camera
	Detector  detector.Detector
	Annotator Annotator
	Encoder   Encoder
	Recorder  Recorder

	// MotionGate is the percentage of changed pixels required before a frame
	// is sent to the detector. Zero disables the gate.
	MotionGate float64

	// HostAddress is reported as server_ip. AccessURL is drawn on frames.
	HostAddress string
	AccessURL   string

	FPS             int
	ReadTimeout     time.Duration
	MaxReadFailures int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	StopGrace       time.Duration

	Logger *slog.Logger
}

// StartOptions configures a new session.
type StartOptions struct {
	// Detection sets the initial detection state. Nil means enabled.
	Detection *bool
}

// Status is a point-in-time view of the session.
type Status struct {
	Running          bool       `json:"camera_running"`
	DetectionEnabled bool       `json:"detection_enabled"`
	ServerIP         string     `json:"server_ip"`
	SessionID        string     `json:"session_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FrameSeq         uint64     `json:"frame_seq"`
	FramesPublished  uint64     `json:"frames_published"`
	FramesDropped    uint64     `json:"frames_dropped"`
	Viewers          int64      `json:"viewers"`
	LastError        ErrorKind  `json:"last_error,omitempty"`
	LastUpdate       time.Time  `json:"last_update"`
}

// App is the process-wide stream state.
type App struct {
	config Config
	log    *slog.Logger
	cell   *FrameCell

	detection atomic.Bool
	viewers   atomic.Int64

	// ctl serializes Start, Stop and detection changes.
	ctl sync.Mutex

	mu         sync.RWMutex
	running    bool
	sessionID  string
	startedAt  time.Time
	lastError  ErrorKind
	lastUpdate time.Time
	published  uint64
	dropped    uint64
	labels     map[string]int
	cancel     context.CancelFunc
	done       chan struct{}

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates a new App. Missing timings fall back to their defaults, and a
// nil Annotator or Encoder is replaced by the standard implementation.
func New(config Config) *App {
	if config.FPS <= 0 {
		config.FPS = capture.DefaultFPS
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.MaxReadFailures <= 0 {
		config.MaxReadFailures = DefaultMaxReadFailures
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.MaxRetryBackoff < config.RetryBackoff {
		config.MaxRetryBackoff = DefaultMaxRetryBackoff
		if config.MaxRetryBackoff < config.RetryBackoff {
			config.MaxRetryBackoff = config.RetryBackoff
		}
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Annotator == nil {
		config.Annotator = annotate.New()
	}
	if config.Encoder == nil {
		config.Encoder = encode.NewJPEG(encode.DefaultQuality)
	}
	if config.Logger == nil {
		config.Logger = log.L()
	}

	a := &App{
		config:     config,
		log:        config.Logger.With("component", "app"),
		cell:       NewFrameCell(),
		lastUpdate: time.Now(),
	}
	a.detection.Store(true)
	return a
}

// Observe registers o for frame and status notifications.
func (a *App) Observe(o Observer) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.observers = append(a.observers, o)
}

// Start opens the camera and spawns the capture pipeline. It returns false
// with a nil error if a session is already running. If the camera cannot be
// opened the error wraps ErrDeviceUnavailable and nothing changes.
func (a *App) Start(opts StartOptions) (bool, error) {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	if a.IsRunning() {
		return false, nil
	}

	cam := a.config.Camera
	if cam == nil {
		return false, fmt.Errorf("%w: no camera configured", ErrDeviceUnavailable)
	}

	a.log.Info("opening camera")
	if err := cam.Open(); err != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		a.mu.Lock()
		a.lastError = KindOf(err)
		a.lastUpdate = time.Now()
		a.mu.Unlock()
		a.log.Error("failed to open camera", "error", err)
		return false, err
	}
	cam.SetFPS(a.config.FPS)

	detection := true
	if opts.Detection != nil {
		detection = *opts.Detection
	}
	a.detection.Store(detection)

	gen := a.cell.Activate()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	now := time.Now()

	a.mu.Lock()
	a.running = true
	a.sessionID = id
	a.startedAt = now
	a.lastError = KindNone
	a.lastUpdate = now
	a.published = 0
	a.dropped = 0
	a.labels = make(map[string]int)
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	if rec := a.config.Recorder; rec != nil {
		if err := rec.Create(&store.Session{ID: id, StartedAt: now, DetectionEnabled: detection}); err != nil {
			a.log.Warn("failed to record session start", "session", id, "error", err)
		}
	}

	go a.runPipeline(ctx, gen, id, done)

	a.log.Info("camera started", "session", id, "detection", detection)
	a.notifyStatus()
	return true, nil
}

// Stop ends the running session. It returns false if nothing was running.
// After Stop returns no further frames are published and the camera is closed.
func (a *App) Stop() bool {
	return a.stop(StopReasonStopped)
}

func (a *App) stop(reason string) bool {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.RLock()
	running, id, cancel, done := a.running, a.sessionID, a.cancel, a.done
	a.mu.RUnlock()

	if !running {
		return false
	}

	a.log.Info("stopping camera", "session", id)
	cancel()

	select {
	case <-done:
	case <-time.After(a.config.StopGrace):
		a.log.Warn("capture pipeline did not exit in time", "session", id, "grace", a.config.StopGrace)
	}

	if err := a.config.Camera.Close(); err != nil {
		a.log.Warn("error closing camera", "error", err)
	}

	a.endSession(id, reason)
	return true
}

// endSession marks session id as stopped. Only the first caller for a given
// session has any effect.
func (a *App) endSession(id, reason string) bool {
	a.mu.Lock()
	if !a.running || a.sessionID != id {
		a.mu.Unlock()
		return false
	}

	now := time.Now()
	a.running = false
	a.cell.Invalidate()
	a.lastUpdate = now
	if a.cancel != nil {
		a.cancel()
	}
	a.cancel = nil

	sum := store.Summary{
		StoppedAt: now,
		Reason:    reason,
		Frames:    int64(a.published),
		Dropped:   int64(a.dropped),
		Labels:    a.labels,
	}
	a.labels = nil
	a.mu.Unlock()

	if rec := a.config.Recorder; rec != nil {
		if err := rec.Finish(id, sum); err != nil {
			a.log.Warn("failed to record session end", "session", id, "error", err)
		}
	}

	a.log.Info("camera stopped", "session", id, "reason", reason, "frames", sum.Frames, "dropped", sum.Dropped)
	a.notifyStatus()
	return true
}

// ToggleDetection flips detection and returns the new value.
// It returns ErrNotRunning and leaves the state alone when stopped.
func (a *App) ToggleDetection() (bool, error) {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	if !a.IsRunning() {
		return a.detection.Load(), ErrNotRunning
	}

	enabled := !a.detection.Load()
	a.setDetection(enabled)
	return enabled, nil
}

// SetDetection sets detection explicitly. It returns ErrNotRunning when stopped.
func (a *App) SetDetection(enabled bool) error {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	if !a.IsRunning() {
		return ErrNotRunning
	}
	a.setDetection(enabled)
	return nil
}

func (a *App) setDetection(enabled bool) {
	a.detection.Store(enabled)

	a.mu.Lock()
	a.lastUpdate = time.Now()
	a.mu.Unlock()

	a.log.Info("detection toggled", "enabled", enabled)
	a.notifyStatus()
}

// IsRunning reports whether a session is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// DetectionEnabled returns the current detection flag.
func (a *App) DetectionEnabled() bool {
	return a.detection.Load()
}

// Status returns a snapshot of the session state.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{
		Running:          a.running,
		DetectionEnabled: a.detection.Load(),
		ServerIP:         a.config.HostAddress,
		FrameSeq:         a.cell.Seq(),
		FramesPublished:  a.published,
		FramesDropped:    a.dropped,
		Viewers:          a.viewers.Load(),
		LastError:        a.lastError,
		LastUpdate:       a.lastUpdate,
	}
	if a.running {
		started := a.startedAt
		s.SessionID = a.sessionID
		s.StartedAt = &started
	}
	return s
}

// CurrentFrame returns the latest published frame of the running session.
func (a *App) CurrentFrame() (*Frame, bool) {
	return a.cell.Current()
}

// WaitFrame blocks until a frame newer than afterSeq is published.
// It returns ErrNotRunning when the session is or becomes stopped.
func (a *App) WaitFrame(ctx context.Context, afterSeq uint64) (*Frame, error) {
	return a.cell.Wait(ctx, afterSeq)
}

// WaitRunning blocks until a session is running or ctx ends.
func (a *App) WaitRunning(ctx context.Context) error {
	return a.cell.WaitLive(ctx)
}

// AddViewer counts a connected stream viewer. Call the returned func when
// the viewer leaves.
func (a *App) AddViewer() func() {
	a.viewers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { a.viewers.Add(-1) })
	}
}

// Close stops any session and releases the detector.
func (a *App) Close() error {
	a.stop(StopReasonShutdown)

	if a.config.Detector != nil {
		if err := a.config.Detector.Close(); err != nil {
			return fmt.Errorf("close detector: %w", err)
		}
	}
	return nil
}

// setLastError records the kind of err against session id.
func (a *App) setLastError(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == id {
		a.lastError = KindOf(err)
		a.lastUpdate = time.Now()
	}
}

// recordPublished counts a published frame against session id. It reports
// false and leaves the count alone when id is no longer the live session.
func (a *App) recordPublished(id string, dets []detector.Detection) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID != id || !a.running {
		return a.published, false
	}
	a.published++
	a.lastUpdate = time.Now()
	for _, d := range dets {
		a.labels[d.Label]++
	}
	return a.published, true
}

func (a *App) recordDropped(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == id {
		a.dropped++
	}
}

func (a *App) notifyStatus() {
	s := a.Status()

	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, o := range a.observers {
		o.StatusChanged(s)
	}
}

func (a *App) notifyFrame(f *Frame) {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, o := range a.observers {
		o.FramePublished(f)
	}
}
