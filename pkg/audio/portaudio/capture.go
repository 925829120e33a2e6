// Package portaudio captures microphone audio and plays back synthesised
// speech through the system's default devices using PortAudio.
//
// The capture side emits fixed-size frames on a bounded channel. When the
// consumer falls behind, the oldest queued frame is evicted rather than
// blocking the PortAudio callback thread, so a slow pipeline loses the
// stalest audio first instead of stalling the device.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/loquax/pkg/audio"
)

// Capture reads fixed-size int16 frames from the default input device.
type Capture struct {
	sampleRate int
	channels   int
	frameSize  int

	out    chan audio.Frame
	onDrop func()
	stream *portaudio.Stream
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// CaptureOption is a functional option for Capture.
type CaptureOption func(*Capture)

// WithQueueDepth sets the number of frames buffered between the device and
// the consumer. Defaults to 64 (about 640 ms at 10 ms frames).
func WithQueueDepth(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.out = make(chan audio.Frame, n)
		}
	}
}

// WithDropHook registers a callback invoked once per frame evicted from a
// full queue. Used to feed a dropped-frame counter.
func WithDropHook(fn func()) CaptureOption {
	return func(c *Capture) { c.onDrop = fn }
}

// NewCapture creates a Capture for the given format. frameSize is the number
// of samples per channel in each emitted frame (e.g., 160 for 10 ms at
// 16 kHz). PortAudio is initialised here and released by Stop.
func NewCapture(sampleRate, channels, frameSize int, opts ...CaptureOption) (*Capture, error) {
	if sampleRate <= 0 || channels <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %dHz/%dch/%d samples", sampleRate, channels, frameSize)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	c := &Capture{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		out:        make(chan audio.Frame, 64),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Frames returns the channel on which captured frames are delivered. The
// channel is closed after Stop.
func (c *Capture) Frames() <-chan audio.Frame { return c.out }

// Start opens the default input device and begins emitting frames. It is a
// no-op if capture is already running.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	buf := make([]int16, c.frameSize*c.channels)
	stream, err := portaudio.OpenDefaultStream(c.channels, 0, float64(c.sampleRate), c.frameSize, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.running = true

	go c.readLoop(runCtx, stream, buf)
	return nil
}

func (c *Capture) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16) {
	defer close(c.out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() == nil {
				slog.Warn("audio input read failed, stopping capture", "error", err)
			}
			return
		}

		frame := audio.Frame{
			Samples:    append([]int16(nil), buf...),
			SampleRate: c.sampleRate,
			Channels:   c.channels,
			Timestamp:  time.Now(),
		}

		c.enqueue(frame)
	}
}

// enqueue delivers a frame without blocking. When the queue is full the
// oldest queued frame is evicted to make room for the new one.
func (c *Capture) enqueue(frame audio.Frame) {
	for {
		select {
		case c.out <- frame:
			return
		default:
		}
		select {
		case <-c.out:
			if c.onDrop != nil {
				c.onDrop()
			}
			slog.Debug("frame queue full, evicting oldest frame")
		default:
		}
	}
}

// Stop halts capture, closes the frame channel, and releases PortAudio.
// Safe to call multiple times.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cancel != nil {
			c.cancel()
		}
		if c.stream != nil {
			_ = c.stream.Stop()
			_ = c.stream.Close()
		}
		c.running = false
		_ = portaudio.Terminate()
	})
}
