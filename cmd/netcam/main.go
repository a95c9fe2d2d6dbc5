package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ayusman/netcam/internal/app"
	"github.com/ayusman/netcam/internal/capture"
	"github.com/ayusman/netcam/internal/config"
	"github.com/ayusman/netcam/internal/detector"
	"github.com/ayusman/netcam/internal/encode"
	"github.com/ayusman/netcam/internal/log"
	"github.com/ayusman/netcam/internal/server"
	"github.com/ayusman/netcam/internal/store"
	"github.com/ayusman/netcam/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netcam: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pattern := flag.Bool("pattern", false, "use a generated test pattern instead of a camera")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	flag.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "listen port")
	flag.StringVar(&cfg.Server.AdvertiseAddr, "advertise", cfg.Server.AdvertiseAddr, "address reported to viewers")
	flag.IntVar(&cfg.Camera.DeviceID, "camera", cfg.Camera.DeviceID, "camera device index")
	flag.IntVar(&cfg.Camera.FPS, "fps", cfg.Camera.FPS, "capture frame rate")
	flag.StringVar(&cfg.Model.Path, "model", cfg.Model.Path, "YOLO ONNX model path")
	flag.Float64Var(&cfg.Model.Confidence, "confidence", cfg.Model.Confidence, "minimum detection confidence")
	flag.IntVar(&cfg.Capture.JPEGQuality, "quality", cfg.Capture.JPEGQuality, "JPEG quality (1-100)")
	flag.Float64Var(&cfg.Capture.MotionGate, "motion-gate", cfg.Capture.MotionGate, "percent of changed pixels required before detection runs, 0 disables")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "session history database")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "directory of static files served at /")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.BoolVar(&cfg.Tray, "tray", cfg.Tray, "show a system tray icon")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	if cfg.Server.AdvertiseAddr == "" {
		cfg.Server.AdvertiseAddr = outboundIP()
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var cam capture.Camera
	if *pattern {
		cam = capture.NewPatternCamera(cfg.Camera.Width, cfg.Camera.Height)
	} else {
		cam = capture.NewCamera(capture.Options{
			DeviceID: cfg.Camera.DeviceID,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			FPS:      cfg.Camera.FPS,
		})
	}

	appCfg := app.Config{
		Camera:          cam,
		Encoder:         encode.NewJPEG(cfg.Capture.JPEGQuality),
		Recorder:        st.Sessions(),
		MotionGate:      cfg.Capture.MotionGate,
		HostAddress:     cfg.Server.AdvertiseAddr,
		AccessURL:       cfg.AccessURL(),
		FPS:             cfg.Camera.FPS,
		ReadTimeout:     cfg.Capture.ReadTimeout,
		MaxReadFailures: cfg.Capture.MaxReadFailures,
		RetryBackoff:    cfg.Capture.RetryBackoff,
		MaxRetryBackoff: cfg.Capture.MaxRetryBackoff,
		StopGrace:       cfg.Capture.StopGrace,
		Logger:          logger,
	}

	detCfg := detector.DefaultConfig()
	detCfg.ModelPath = cfg.Model.Path
	detCfg.Confidence = cfg.Model.Confidence
	detCfg.NMS = cfg.Model.NMS
	detCfg.MaxDetections = cfg.Model.MaxDetections
	if det, err := detector.NewYOLO(detCfg); err != nil {
		logger.Warn("object detector unavailable, streaming without detections",
			"model", cfg.Model.Path, "error", err)
	} else {
		appCfg.Detector = det
	}

	a := app.New(appCfg)

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		logger.Info("serving static files", "dir", staticDir)
	}

	srv := server.New(server.Config{
		App:            a,
		Store:          st,
		StaticDir:      staticDir,
		StreamInterval: cfg.Stream.Interval,
		StreamWait:     cfg.Stream.Wait,
		Logger:         logger,
	})
	defer srv.Close()

	// No WriteTimeout: /video_feed responses are unbounded.
	httpServer := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", httpServer.Addr, "url", cfg.AccessURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			logger.Info("shutting down")
			// Stopping the session first ends every open stream.
			if err := a.Close(); err != nil {
				logger.Error("close app", "error", err)
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(sctx); err != nil {
				logger.Error("server shutdown", "error", err)
			}
		})
	}

	if cfg.Tray {
		t := newTray(a, cfg.AccessURL(), logger.With("component", "tray"))
		a.Observe(t)
		go func() {
			select {
			case <-ctx.Done():
			case <-serveErr:
			}
			shutdown()
			t.Quit()
		}()
		t.OnQuit(shutdown)
		t.Run()
		shutdown()
		return nil
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	}
	shutdown()
	return nil
}

func newTray(a *app.App, url string, logger *slog.Logger) *tray.Tray {
	t := tray.New()
	t.OnStartStop(func(running bool) {
		if running {
			a.Stop()
			return
		}
		if _, err := a.Start(app.StartOptions{}); err != nil {
			logger.Warn("start camera from tray", "error", err)
		}
	})
	t.OnToggleDetection(func() {
		if _, err := a.ToggleDetection(); err != nil {
			logger.Warn("toggle detection from tray", "error", err)
		}
	})
	t.OnOpenViewer(func() {
		if err := openBrowser(url); err != nil {
			logger.Warn("open viewer", "url", url, "error", err)
		}
	})
	return t
}

// outboundIP returns the address of the interface used for outbound traffic.
// No packets are sent.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.netcam/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".netcam", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
