package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFrameCell_PublishRequiresActiveGeneration(t *testing.T) {
	c := NewFrameCell()

	if _, ok := c.Publish(0, Frame{Data: []byte{1}}); ok {
		t.Fatal("Publish() on inactive cell should be rejected")
	}

	gen := c.Activate()
	f, ok := c.Publish(gen, Frame{Data: []byte{1}})
	if !ok {
		t.Fatal("Publish() with current generation should succeed")
	}
	if f.Seq != 1 {
		t.Errorf("Seq = %d, want 1", f.Seq)
	}

	c.Invalidate()
	if _, ok := c.Publish(gen, Frame{Data: []byte{2}}); ok {
		t.Error("Publish() after Invalidate should be rejected")
	}
	if _, ok := c.Current(); ok {
		t.Error("Current() should be empty after Invalidate")
	}

	gen2 := c.Activate()
	if _, ok := c.Publish(gen, Frame{}); ok {
		t.Error("Publish() with stale generation should be rejected")
	}
	f, ok = c.Publish(gen2, Frame{})
	if !ok || f.Seq != 2 {
		t.Errorf("Publish() in new session = (%v, %v), want seq 2", f, ok)
	}
}

func TestFrameCell_WaitReturnsNewerFrame(t *testing.T) {
	c := NewFrameCell()
	gen := c.Activate()

	got := make(chan *Frame, 1)
	go func() {
		f, err := c.Wait(context.Background(), 0)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		got <- f
	}()

	time.Sleep(10 * time.Millisecond)
	c.Publish(gen, Frame{Data: []byte("jpeg")})

	select {
	case f := <-got:
		if f == nil || string(f.Data) != "jpeg" {
			t.Errorf("Wait() = %v, want published frame", f)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after publish")
	}

	// Already have seq 1: waiting after it must block until seq 2.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait(after=1) error = %v, want DeadlineExceeded", err)
	}
}

func TestFrameCell_WaitEndsOnInvalidate(t *testing.T) {
	c := NewFrameCell()
	c.Activate()

	errc := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), 0)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Invalidate()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrNotRunning) {
			t.Errorf("Wait() error = %v, want ErrNotRunning", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Invalidate")
	}
}

func TestFrameCell_WaitLive(t *testing.T) {
	c := NewFrameCell()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.WaitLive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitLive() on inactive cell error = %v, want DeadlineExceeded", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.WaitLive(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	c.Activate()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("WaitLive() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitLive() did not return after Activate")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrDeviceUnavailable, KindDeviceUnavailable},
		{errors.Join(errors.New("ctx"), ErrCaptureFailed), KindCaptureFailed},
		{ErrNotRunning, KindNotRunning},
		{ErrInferenceFailed, KindInferenceFailed},
		{ErrEncodingFailed, KindEncodingFailed},
		{errors.New("other"), ErrorKind("unknown")},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
