package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/netcam/internal/app"
	"github.com/ayusman/netcam/internal/capture"
	"github.com/ayusman/netcam/internal/detector"
	"github.com/ayusman/netcam/internal/log"
)

// newTestApp returns an App backed by a looping pattern camera and a mock
// detector that always reports one person.
func newTestApp(t *testing.T, rec app.Recorder) (*app.App, *capture.MockCamera) {
	t.Helper()

	frames := make([]*gocv.Mat, 3)
	for i := range frames {
		m := capture.PatternFrame(160, 120, i*5)
		frames[i] = &m
	}

	cam := capture.NewMockCamera(frames, true)
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonDetection()})

	cfg := app.Config{
		Camera:          cam,
		Detector:        det,
		HostAddress:     "10.0.0.7",
		AccessURL:       "http://10.0.0.7:5000",
		FPS:             100,
		MaxReadFailures: 3,
		RetryBackoff:    time.Millisecond,
		StopGrace:       time.Second,
		Logger:          log.Discard(),
	}
	if rec != nil {
		cfg.Recorder = rec
	}

	a := app.New(cfg)
	t.Cleanup(func() {
		a.Stop()
		for _, m := range frames {
			m.Close()
		}
	})
	return a, cam
}

func newTestServer(t *testing.T, a *app.App) *Server {
	t.Helper()
	s := New(Config{
		App:            a,
		StreamInterval: 5 * time.Millisecond,
		StreamWait:     200 * time.Millisecond,
		Logger:         log.Discard(),
	})
	t.Cleanup(s.Close)
	return s
}

func waitForFrame(t *testing.T, a *app.App) *app.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := a.WaitFrame(ctx, 0)
	if err != nil {
		t.Fatalf("WaitFrame() error = %v", err)
	}
	return f
}

// serveTest runs h on a test listener. The app is stopped before the
// listener closes so open streams end first.
func serveTest(t *testing.T, a *app.App, h http.Handler) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		a.Stop()
		ts.Close()
	})
	return ts
}
