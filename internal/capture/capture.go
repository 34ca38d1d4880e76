// Package capture runs the microphone pipeline: a capture device delivers
// raw PCM frames which are re-chunked into fixed-size blocks and handed to an
// emit function while the session is listening.
//
// Muting drops chunks without tearing the device down, so resuming is
// instant. Emit failures are reported but never stop capture; the microphone
// keeps running until an explicit Stop.
package capture

import (
	"fmt"
	"sync"

	"github.com/vocanto/vocanto/pkg/audio"
)

// DefaultChunkSamples is the number of samples per emitted chunk.
const DefaultChunkSamples = 256

// Device abstracts a microphone. Start delivers raw PCM frames of arbitrary
// size to onPCM from the device's own thread; SetEnabled toggles capture
// without releasing the device.
type Device interface {
	Start(onPCM func([]byte)) error
	SetEnabled(enabled bool)
	Stop() error
}

// PermissionError reports that the microphone could not be opened, typically
// because the device is missing or access was denied.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("capture: microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Config holds capture parameters.
type Config struct {
	// SampleRate of the device, in Hz. Defaults to [audio.CaptureRate].
	SampleRate int

	// ChunkSamples is the emitted block size in samples. Defaults to
	// [DefaultChunkSamples].
	ChunkSamples int
}

// Capture owns one microphone device between Start and Stop.
type Capture struct {
	dev        Device
	chunkBytes int
	gate       func() bool
	emit       func([]byte) error
	onError    func(error)

	mu      sync.Mutex
	running bool

	frameMu sync.Mutex
	rem     []byte // partial chunk carried between device callbacks
}

// New creates a Capture. gate is consulted once per chunk: a false result
// drops the chunk silently. emit transmits a chunk; its errors go to onError.
// Both gate and emit must be non-nil; onError may be nil.
func New(dev Device, cfg Config, gate func() bool, emit func([]byte) error, onError func(error)) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureRate
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = DefaultChunkSamples
	}
	return &Capture{
		dev:        dev,
		chunkBytes: cfg.ChunkSamples * audio.BytesPerSample,
		gate:       gate,
		emit:       emit,
		onError:    onError,
	}
}

// Start opens the microphone. Idempotent: a second call while running is a
// no-op. A device failure is wrapped in *PermissionError and capture does
// not start.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.dev.Start(c.onFrame); err != nil {
		return &PermissionError{Err: err}
	}
	c.running = true
	return nil
}

// onFrame re-chunks device frames into exact blocks. Device callbacks arrive
// sequentially from one thread, but frameMu also guards against Stop racing
// a late callback.
func (c *Capture) onFrame(frame []byte) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	c.rem = append(c.rem, frame...)
	for len(c.rem) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.rem[:c.chunkBytes])
		c.rem = c.rem[c.chunkBytes:]

		if !c.gate() {
			continue // muted: drop without teardown
		}
		if err := c.emit(chunk); err != nil && c.onError != nil {
			c.onError(err)
		}
	}
}

// Mute disables the device track. Chunks already buffered are still gated
// per chunk, so nothing leaks out after a mute.
func (c *Capture) Mute() {
	c.dev.SetEnabled(false)
}

// Unmute re-enables the device track.
func (c *Capture) Unmute() {
	c.dev.SetEnabled(true)
}

// Running reports whether the microphone is currently open.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop tears the device down and discards any partial chunk. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	err := c.dev.Stop()
	c.running = false

	c.frameMu.Lock()
	c.rem = nil
	c.frameMu.Unlock()
	return err
}
