package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Compile-time assertion that MalgoDevice satisfies Device.
var _ Device = (*MalgoDevice)(nil)

// MalgoDevice is the production microphone: a miniaudio capture device
// configured for mono s16le at a fixed sample rate and period size.
type MalgoDevice struct {
	sampleRate   int
	periodFrames int

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

// NewMalgoDevice creates an unopened microphone device. periodFrames sets
// the capture callback granularity in samples.
func NewMalgoDevice(sampleRate, periodFrames int) *MalgoDevice {
	return &MalgoDevice{
		sampleRate:   sampleRate,
		periodFrames: periodFrames,
	}
}

// Start opens the default capture device and begins delivering PCM frames
// to onPCM.
func (d *MalgoDevice) Start(onPCM func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev != nil {
		return nil
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	devConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	devConfig.Capture.Format = malgo.FormatS16
	devConfig.Capture.Channels = 1
	devConfig.SampleRate = uint32(d.sampleRate)
	devConfig.PeriodSizeInFrames = uint32(d.periodFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onPCM(input)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, devConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	d.ctx = ctx
	d.dev = dev
	return nil
}

// SetEnabled starts or stops the device without releasing it. miniaudio
// resumes a stopped device quickly, which is what mute/unmute needs.
func (d *MalgoDevice) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return
	}
	if enabled {
		_ = d.dev.Start()
	} else {
		_ = d.dev.Stop()
	}
}

// Stop releases the device and its context. Idempotent.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return nil
	}
	d.dev.Uninit()
	d.dev = nil
	d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return nil
}
