// Package config loads netcam settings from a .env file, the environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting consumed by the bootstrap.
type Config struct {
	Server  ServerConfig
	Camera  CameraConfig
	Model   ModelConfig
	Capture CaptureConfig
	Stream  StreamConfig

	DBPath    string
	StaticDir string
	LogLevel  string
	Tray      bool
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string
	Port int
	// AdvertiseAddr is reported as server_ip and drawn on frames.
	// Empty means the bootstrap detects it.
	AdvertiseAddr string
}

// CameraConfig holds capture device settings.
type CameraConfig struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// ModelConfig holds object detector settings.
type ModelConfig struct {
	Path          string
	Confidence    float64
	NMS           float64
	MaxDetections int
}

// CaptureConfig holds capture loop tuning.
type CaptureConfig struct {
	JPEGQuality     int
	ReadTimeout     time.Duration
	MaxReadFailures int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	StopGrace       time.Duration
	// MotionGate is the percentage of changed pixels required before the
	// detector runs. Zero disables the gate.
	MotionGate float64
}

// StreamConfig holds per-viewer streaming settings.
type StreamConfig struct {
	Interval time.Duration
	Wait     time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Camera: CameraConfig{
			DeviceID: 0,
			Width:    640,
			Height:   480,
			FPS:      15,
		},
		Model: ModelConfig{
			Path:          filepath.Join("models", "yolov5s.onnx"),
			Confidence:    0.45,
			NMS:           0.45,
			MaxDetections: 50,
		},
		Capture: CaptureConfig{
			JPEGQuality:     80,
			ReadTimeout:     2 * time.Second,
			MaxReadFailures: 10,
			RetryBackoff:    50 * time.Millisecond,
			MaxRetryBackoff: time.Second,
			StopGrace:       2 * time.Second,
		},
		Stream: StreamConfig{
			Interval: 40 * time.Millisecond,
			Wait:     5 * time.Second,
		},
		DBPath:   defaultDBPath(),
		LogLevel: "info",
	}
}

// Load reads an optional .env file from the working directory and then
// applies environment overrides on top of Default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment.
func FromEnv() *Config {
	d := Default()

	return &Config{
		Server: ServerConfig{
			Host:          getEnv("NETCAM_HOST", d.Server.Host),
			Port:          getEnvAsInt("NETCAM_PORT", d.Server.Port),
			AdvertiseAddr: getEnv("NETCAM_ADVERTISE_ADDR", ""),
		},
		Camera: CameraConfig{
			DeviceID: getEnvAsInt("NETCAM_CAMERA_ID", d.Camera.DeviceID),
			Width:    getEnvAsInt("NETCAM_WIDTH", d.Camera.Width),
			Height:   getEnvAsInt("NETCAM_HEIGHT", d.Camera.Height),
			FPS:      getEnvAsInt("NETCAM_FPS", d.Camera.FPS),
		},
		Model: ModelConfig{
			Path:          getEnv("NETCAM_MODEL_PATH", d.Model.Path),
			Confidence:    getEnvAsFloat("NETCAM_CONFIDENCE", d.Model.Confidence),
			NMS:           getEnvAsFloat("NETCAM_NMS", d.Model.NMS),
			MaxDetections: getEnvAsInt("NETCAM_MAX_DETECTIONS", d.Model.MaxDetections),
		},
		Capture: CaptureConfig{
			JPEGQuality:     getEnvAsInt("NETCAM_JPEG_QUALITY", d.Capture.JPEGQuality),
			ReadTimeout:     getEnvAsDuration("NETCAM_READ_TIMEOUT", d.Capture.ReadTimeout),
			MaxReadFailures: getEnvAsInt("NETCAM_MAX_READ_FAILURES", d.Capture.MaxReadFailures),
			RetryBackoff:    getEnvAsDuration("NETCAM_RETRY_BACKOFF", d.Capture.RetryBackoff),
			MaxRetryBackoff: getEnvAsDuration("NETCAM_MAX_RETRY_BACKOFF", d.Capture.MaxRetryBackoff),
			StopGrace:       getEnvAsDuration("NETCAM_STOP_GRACE", d.Capture.StopGrace),
			MotionGate:      getEnvAsFloat("NETCAM_MOTION_GATE", d.Capture.MotionGate),
		},
		Stream: StreamConfig{
			Interval: getEnvAsDuration("NETCAM_STREAM_INTERVAL", d.Stream.Interval),
			Wait:     getEnvAsDuration("NETCAM_STREAM_WAIT", d.Stream.Wait),
		},
		DBPath:    getEnv("NETCAM_DB_PATH", d.DBPath),
		StaticDir: getEnv("NETCAM_STATIC_DIR", d.StaticDir),
		LogLevel:  getEnv("NETCAM_LOG_LEVEL", d.LogLevel),
		Tray:      getEnvAsBool("NETCAM_TRAY", d.Tray),
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("port out of range: %d", c.Server.Port)
	case c.Camera.FPS <= 0:
		return fmt.Errorf("fps must be positive: %d", c.Camera.FPS)
	case c.Model.Confidence < 0 || c.Model.Confidence > 1:
		return fmt.Errorf("confidence must be in [0,1]: %v", c.Model.Confidence)
	case c.Model.NMS < 0 || c.Model.NMS > 1:
		return fmt.Errorf("nms must be in [0,1]: %v", c.Model.NMS)
	case c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be in [1,100]: %d", c.Capture.JPEGQuality)
	case c.Capture.MaxReadFailures < 1:
		return fmt.Errorf("max read failures must be at least 1: %d", c.Capture.MaxReadFailures)
	case c.Capture.ReadTimeout <= 0:
		return errors.New("read timeout must be positive")
	case c.Stream.Interval <= 0:
		return errors.New("stream interval must be positive")
	}
	return nil
}

// ServerAddress returns the listen address in host:port form.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AccessURL returns the URL viewers on the network should open.
func (c *Config) AccessURL() string {
	host := c.Server.AdvertiseAddr
	if host == "" {
		host = c.Server.Host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "netcam.db"
	}
	return filepath.Join(home, ".netcam", "netcam.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
