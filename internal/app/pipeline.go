package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/netcam/internal/annotate"
	"github.com/ayusman/netcam/internal/capture"
	"github.com/ayusman/netcam/internal/detector"
)

// runPipeline is the capture loop for one session.
//
// Each tick reads a frame, runs detection when enabled, draws the overlay,
// encodes and publishes. Read failures back off and retry; after
// MaxReadFailures in a row the session is stopped with reason capture_failed.
// Detector failures publish the raw frame. Encoder failures drop the frame.
func (a *App) runPipeline(ctx context.Context, gen uint64, id string, done chan struct{}) {
	defer close(done)

	logger := a.log.With("session", id)

	var motion *capture.MotionDetector
	if a.config.MotionGate > 0 {
		motion = capture.NewMotionDetector(a.config.MotionGate)
		defer motion.Close()
	}

	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	failures := 0
	backoff := a.config.RetryBackoff

	logger.Info("starting frame capture loop", "fps", a.config.FPS)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("frame capture loop cancelled")
			return
		case <-ticker.C:
		}

		mat, err := capture.ReadWithTimeout(ctx, a.config.Camera, a.config.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			failures++
			err = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
			a.setLastError(id, err)
			logger.Warn("failed to read frame, retrying", "attempt", failures, "error", err)

			if failures >= a.config.MaxReadFailures {
				logger.Error("giving up on camera", "failures", failures)
				a.config.Camera.Close()
				a.endSession(id, StopReasonCaptureFailed)
				return
			}

			if !sleepContext(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > a.config.MaxRetryBackoff {
				backoff = a.config.MaxRetryBackoff
			}
			continue
		}

		failures = 0
		backoff = a.config.RetryBackoff

		frame, err := a.processFrame(gen, id, mat, motion, logger)
		if err != nil {
			logger.Warn("dropping frame", "error", err)
			continue
		}
		if frame == nil {
			// Session ended while this frame was in flight.
			return
		}

		if n, ok := a.recordPublished(id, frame.Detections); ok && n%ProgressEvery == 0 {
			logger.Info("processed frames", "count", n, "seq", frame.Seq)
		}
		a.notifyFrame(frame)

		if ctx.Err() != nil {
			return
		}
	}
}

// processFrame turns one captured frame into a published Frame. It closes
// mat. A nil frame with a nil error means the session is no longer current.
func (a *App) processFrame(gen uint64, id string, mat *gocv.Mat, motion *capture.MotionDetector, logger *slog.Logger) (*Frame, error) {
	defer mat.Close()

	// Read once so the whole frame sees a single value.
	enabled := a.detection.Load()

	var dets []detector.Detection
	if enabled && a.config.Detector != nil && gateOpen(motion, mat) {
		found, err := a.config.Detector.Detect(mat)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInferenceFailed, err)
			a.setLastError(id, err)
			logger.Error("detection error", "error", err)
		} else {
			dets = found
		}
	}

	overlay := annotate.Overlay{DetectionEnabled: enabled, AccessURL: a.config.AccessURL}
	if err := a.config.Annotator.Draw(mat, dets, overlay); err != nil {
		logger.Warn("annotation failed", "error", err)
	}

	data, err := a.config.Encoder.Encode(mat)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEncodingFailed, err)
		a.recordDropped(id)
		a.setLastError(id, err)
		return nil, err
	}

	frame, ok := a.cell.Publish(gen, Frame{
		Data:             data,
		Timestamp:        time.Now(),
		DetectionEnabled: enabled,
		Detections:       dets,
	})
	if !ok {
		return nil, nil
	}
	return frame, nil
}

// gateOpen reports whether detection should run on this frame.
func gateOpen(motion *capture.MotionDetector, mat *gocv.Mat) bool {
	if motion == nil {
		return true
	}
	moved, _ := motion.Detect(mat)
	return moved
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
