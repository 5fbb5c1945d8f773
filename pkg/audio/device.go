package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrDeviceClosed is returned by device operations after Close.
var ErrDeviceClosed = errors.New("audio: capture device is closed")

// FrameFunc receives one raw hardware buffer. Samples are interleaved
// float32 in the device's native format. Implementations must copy what they
// keep and return quickly; the callback runs on the OS audio thread.
type FrameFunc func(samples []float32, format Format)

// CaptureDevice abstracts the OS audio input so the pipeline can be tested
// without a microphone. Implementations deliver frames via the FrameFunc
// passed to Open and report asynchronous failures (device unplugged) via the
// error callback.
type CaptureDevice interface {
	// Open prepares the device for capture. deviceID selects a specific
	// input; empty means the system default. onFrame receives each hardware
	// buffer, onError receives mid-capture device failures. Open returns an
	// error and leaves no partial state when the device cannot be acquired.
	Open(deviceID string, onFrame FrameFunc, onError func(error)) error

	// Start begins frame delivery.
	Start() error

	// Stop halts frame delivery without releasing the device.
	Stop() error

	// Close releases the device. Safe to call more than once.
	Close() error
}

// MalgoDevice is the production CaptureDevice backed by miniaudio via
// gen2brain/malgo. One MalgoDevice corresponds to one opened input stream.
type MalgoDevice struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format Format

	// stopping marks a deliberate Stop or Close so the miniaudio stop
	// callback is not reported as a device failure.
	stopping bool
	closed   bool
}

// NewMalgoDevice creates an unopened malgo-backed capture device.
func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{}
}

// Open initialises a miniaudio context and capture device. Frames are
// requested as F32 so no integer conversion happens on the audio thread; the
// hardware rate and channel count are reported in the Format passed to
// onFrame so the pipeline can resample/downmix.
func (d *MalgoDevice) Open(deviceID string, onFrame FrameFunc, onError func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	if d.device != nil {
		return errors.New("audio: device already open")
	}

	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return fmt.Errorf("audio: init context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.PeriodSizeInMilliseconds = 20
	if deviceID != "" {
		if id, ok := findCaptureID(ctx, deviceID); ok {
			devCfg.Capture.DeviceID = id.Pointer()
		} else {
			_ = ctx.Uninit()
			ctx.Free()
			return fmt.Errorf("audio: capture device %q not found", deviceID)
		}
	}

	// Filled in after InitDevice; the callback only fires once Start is
	// called, well after Open returns.
	streamFormat := &Format{}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			// Native byte order F32 interleaved.
			onFrame(bytesToFloat32(in), *streamFormat)
		},
		Stop: func() {
			// Miniaudio fires this on unexpected device teardown and on a
			// deliberate Stop/Close alike; only the former is a failure.
			d.mu.Lock()
			deliberate := d.stopping || d.closed || d.device == nil
			d.mu.Unlock()
			if !deliberate && onError != nil {
				onError(errors.New("audio: capture device stopped unexpectedly"))
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, devCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("audio: init capture device: %w", err)
	}

	d.ctx = ctx
	d.device = device
	d.format = Format{
		SampleRate: int(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
	}
	*streamFormat = d.format
	return nil
}

// Start begins delivering frames to the callback registered in Open.
func (d *MalgoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.device == nil {
		return ErrDeviceClosed
	}
	d.stopping = false
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	return nil
}

// Stop halts frame delivery. The device stays open and can be restarted. The
// stopping flag is raised before the halt and the mutex released, because the
// stop callback takes the same mutex on the audio thread.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	if d.closed || d.device == nil {
		d.mu.Unlock()
		return ErrDeviceClosed
	}
	d.stopping = true
	dev := d.device
	d.mu.Unlock()

	if err := dev.Stop(); err != nil {
		d.mu.Lock()
		d.stopping = false
		d.mu.Unlock()
		return fmt.Errorf("audio: stop capture: %w", err)
	}
	return nil
}

// Close releases the device and miniaudio context. Safe to call twice. Uninit
// stops the device first, so the mutex must not be held across it.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopping = true
	dev := d.device
	ctx := d.ctx
	d.device = nil
	d.ctx = nil
	d.mu.Unlock()

	if dev != nil {
		dev.Uninit()
	}
	if ctx != nil {
		_ = ctx.Uninit()
		ctx.Free()
	}
	return nil
}

// bytesToFloat32 reinterprets native-order F32 PCM bytes as float32 samples.
// The returned slice is freshly allocated; the input buffer belongs to
// miniaudio and is only valid during the callback.
func bytesToFloat32(in []byte) []float32 {
	n := len(in) / 4
	out := make([]float32, n)
	for i := range n {
		bits := uint32(in[i*4]) | uint32(in[i*4+1])<<8 | uint32(in[i*4+2])<<16 | uint32(in[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// findCaptureID resolves a device name to a malgo device ID by enumerating
// capture devices and matching on the reported name prefix.
func findCaptureID(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, bool) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, false
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, true
		}
	}
	return malgo.DeviceID{}, false
}
