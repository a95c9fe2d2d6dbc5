package app

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/netcam/internal/detector"
)

// Frame is one published, encoded image. It is never modified after publish.
type Frame struct {
	Seq              uint64
	Data             []byte
	Timestamp        time.Time
	DetectionEnabled bool
	Detections       []detector.Detection
}

// FrameCell holds the latest published frame of the current session.
//
// A single writer publishes with the generation it got from Activate. Once
// Invalidate runs, publishes carrying an older generation are rejected, so no
// frame can appear after a session has been stopped. Sequence numbers keep
// increasing across sessions.
type FrameCell struct {
	mu      sync.RWMutex
	frame   *Frame
	seq     uint64
	gen     uint64
	live    bool
	changed chan struct{}
}

// NewFrameCell returns an empty, inactive cell.
func NewFrameCell() *FrameCell {
	return &FrameCell{changed: make(chan struct{})}
}

// notify wakes all waiters. Caller holds mu.
func (c *FrameCell) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Activate opens a new session and returns its generation.
func (c *FrameCell) Activate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.live = true
	c.frame = nil
	c.notify()
	return c.gen
}

// Invalidate ends the current session and clears the frame.
func (c *FrameCell) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.live = false
	c.frame = nil
	c.notify()
}

// Publish stores f as the latest frame if gen is still current. It assigns
// the sequence number and returns the stored frame.
func (c *FrameCell) Publish(gen uint64, f Frame) (*Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live || gen != c.gen {
		return nil, false
	}

	c.seq++
	f.Seq = c.seq
	stored := &f
	c.frame = stored
	c.notify()
	return stored, true
}

// Current returns the latest frame of the live session.
func (c *FrameCell) Current() (*Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.frame != nil
}

// Live reports whether a session is active.
func (c *FrameCell) Live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Seq returns the last assigned sequence number.
func (c *FrameCell) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Wait blocks until a frame newer than afterSeq is published. It returns
// ErrNotRunning once no session is live.
func (c *FrameCell) Wait(ctx context.Context, afterSeq uint64) (*Frame, error) {
	for {
		c.mu.RLock()
		live, frame, ch := c.live, c.frame, c.changed
		c.mu.RUnlock()

		if !live {
			return nil, ErrNotRunning
		}
		if frame != nil && frame.Seq > afterSeq {
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// WaitLive blocks until a session is live or ctx ends.
func (c *FrameCell) WaitLive(ctx context.Context) error {
	for {
		c.mu.RLock()
		live, ch := c.live, c.changed
		c.mu.RUnlock()

		if live {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
