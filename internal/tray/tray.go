// Package tray provides a system tray interface for controlling the camera.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/netcam/internal/app"
)

// framesRefreshEvery limits how often the frame counter title is redrawn.
const framesRefreshEvery = time.Second

// Tray represents the system tray application. It implements app.Observer
// so menu titles follow the camera state.
type Tray struct {
	onStartStop func(running bool)
	onToggle    func()
	onOpen      func()
	onQuit      func()
	status      app.Status
	mu          sync.RWMutex

	// Frame count last drawn and when.
	shownFrames uint64
	shownAt     time.Time

	// Menu items stored for later updates
	menuCamera    *systray.MenuItem
	menuDetection *systray.MenuItem
	menuFrames    *systray.MenuItem
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnStartStop sets the callback run when the camera item is clicked. It
// receives the running state at the time of the click.
func (t *Tray) OnStartStop(fn func(running bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStartStop = fn
}

// OnToggleDetection sets the callback run when the detection item is clicked.
func (t *Tray) OnToggleDetection(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpenViewer sets the callback run when the viewer item is clicked.
func (t *Tray) OnOpenViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Netcam")
	systray.SetTooltip("Netcam camera streaming")

	t.mu.Lock()
	camera, detection, frames := menuTitles(t.status)
	t.menuCamera = systray.AddMenuItem(camera, "Start or stop the camera")
	t.menuDetection = systray.AddMenuItem(detection, "Toggle object detection")
	systray.AddSeparator()
	t.menuFrames = systray.AddMenuItem(frames, "Frames published this session")
	t.menuFrames.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Viewer...", "Open the stream in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Netcam")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuCamera.ClickedCh:
				t.handleStartStop()
			case <-t.menuDetection.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// menuTitles renders the state-dependent menu item titles.
func menuTitles(s app.Status) (camera, detection, frames string) {
	if s.Running {
		camera = "● Camera on (click to stop)"
	} else {
		camera = "○ Camera off (click to start)"
	}

	switch {
	case !s.Running:
		detection = "Detection: --"
	case s.DetectionEnabled:
		detection = "Detection: ON"
	default:
		detection = "Detection: OFF"
	}

	frames = fmt.Sprintf("Frames: %d", s.FramesPublished)
	return camera, detection, frames
}

// StatusChanged updates the menu to reflect s.
func (t *Tray) StatusChanged(s app.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = s
	t.refresh()
}

// FramePublished counts the frame and redraws the counter at most once per
// framesRefreshEvery.
func (t *Tray) FramePublished(*app.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.status.Running {
		return
	}
	t.status.FramesPublished++
	if time.Since(t.shownAt) >= framesRefreshEvery {
		t.refreshFrames()
	}
}

// refreshFrames draws the frame counter. Caller holds mu.
func (t *Tray) refreshFrames() {
	t.shownFrames = t.status.FramesPublished
	t.shownAt = time.Now()
	if t.menuFrames == nil {
		return
	}
	_, _, frames := menuTitles(t.status)
	t.menuFrames.SetTitle(frames)
}

// refresh applies the current status to the menu. Caller holds mu.
func (t *Tray) refresh() {
	t.refreshFrames()
	if t.menuCamera == nil {
		return
	}

	camera, detection, _ := menuTitles(t.status)
	t.menuCamera.SetTitle(camera)
	t.menuDetection.SetTitle(detection)
	if t.status.Running {
		t.menuDetection.Enable()
	} else {
		t.menuDetection.Disable()
	}
}

// handleStartStop handles the camera menu item click.
func (t *Tray) handleStartStop() {
	t.mu.RLock()
	running := t.status.Running
	callback := t.onStartStop
	t.mu.RUnlock()

	// Call the callback outside the lock; it triggers StatusChanged.
	if callback != nil {
		callback(running)
	}
}

// handleToggle handles the detection menu item click.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	callback := t.onToggle
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleOpen handles the viewer menu item click.
func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Status returns the last status the tray was told about.
func (t *Tray) Status() app.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}
