// Package capture owns the OS audio input stream and turns raw hardware
// buffers into the pipeline's working currency: normalised mono chunks at
// the target rate, ring-buffered pre-roll, and VAD speech segments. It
// exposes two modes: buffered-segment (batch) capture where the whole
// session is retained and returned on stop, and streaming capture where
// fixed-duration chunks are emitted live.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zordhalo/lisper-flow/pkg/audio"
	"github.com/zordhalo/lisper-flow/pkg/vad"
)

// Errors reported by the pipeline.
var (
	// ErrNotInitialized is returned when capture is started before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("capture: pipeline not initialized")

	// ErrBusy is returned when a capture or streaming session is already
	// running.
	ErrBusy = errors.New("capture: session already active")

	// ErrNotActive is returned by stop operations when nothing is running.
	ErrNotActive = errors.New("capture: no active session")
)

type mode int

const (
	modeIdle mode = iota
	modeBatch
	modeStreaming
)

// Config holds pipeline parameters. Zero values select defaults.
type Config struct {
	// TargetRate is the mono sample rate everything downstream sees.
	// Default 16000.
	TargetRate int

	// ChunkInterval is the cadence of streamed chunks. Default 100 ms.
	ChunkInterval time.Duration

	// PreRoll is the span of audio retained for segment onset recovery.
	// The ring buffer is sized to hold twice this span. Default 400 ms.
	PreRoll time.Duration

	// NormalizePeak is the target peak after normalisation. Default 0.95.
	NormalizePeak float32

	// SilenceFloor is the peak below which a frame is left un-normalised so
	// the noise floor is not amplified. Default 0.01.
	SilenceFloor float32

	// Gate configures the voice-activity hysteresis. SampleRate and PreRoll
	// are overridden to match the pipeline settings.
	Gate vad.GateConfig
}

func (c Config) withDefaults() Config {
	if c.TargetRate == 0 {
		c.TargetRate = 16000
	}
	if c.ChunkInterval == 0 {
		c.ChunkInterval = 100 * time.Millisecond
	}
	if c.PreRoll == 0 {
		c.PreRoll = 400 * time.Millisecond
	}
	if c.NormalizePeak == 0 {
		c.NormalizePeak = 0.95
	}
	if c.SilenceFloor == 0 {
		c.SilenceFloor = 0.01
	}
	return c
}

// Pipeline is the audio capture pipeline. The device callback context never
// blocks: it converts, classifies, buffers, and hands off through buffered
// channels, dropping (with a log) rather than stalling when a consumer lags.
type Pipeline struct {
	cfg    Config
	device audio.CaptureDevice
	ring   *audio.RingBuffer
	gate   *vad.Gate

	mu          sync.Mutex
	initialized bool
	mode        mode
	session     []float32 // batch accumulation, all samples verbatim
	chunkAcc    []float32 // streaming accumulation up to ChunkInterval
	processed   int64     // total samples processed, for timestamps

	chunks   chan audio.Chunk
	segments chan audio.Segment
	errs     chan error

	dropWarn sync.Once
}

// New creates a pipeline over the given device and VAD classifier.
// classifier may be nil to use the energy heuristic only.
func New(cfg Config, device audio.CaptureDevice, classifier vad.Classifier) *Pipeline {
	cfg = cfg.withDefaults()

	ringCap := int(2 * cfg.PreRoll.Seconds() * float64(cfg.TargetRate))
	ring := audio.NewRingBuffer(ringCap)

	gateCfg := cfg.Gate
	gateCfg.SampleRate = cfg.TargetRate
	gateCfg.PreRoll = cfg.PreRoll

	return &Pipeline{
		cfg:      cfg,
		device:   device,
		ring:     ring,
		gate:     vad.NewGate(gateCfg, classifier, ring),
		chunks:   make(chan audio.Chunk, 64),
		segments: make(chan audio.Segment, 8),
		errs:     make(chan error, 4),
	}
}

// Initialize opens the capture device. deviceID empty selects the system
// default input. On failure no partial state remains and Initialize may be
// retried.
func (p *Pipeline) Initialize(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := p.device.Open(deviceID, p.handleFrame, p.handleDeviceError); err != nil {
		return fmt.Errorf("capture: initialize: %w", err)
	}
	p.initialized = true
	return nil
}

// Chunks returns the streaming chunk channel. Only streaming sessions emit
// on it; the channel is never closed, stop is signalled by the orchestrator.
func (p *Pipeline) Chunks() <-chan audio.Chunk { return p.chunks }

// Segments returns the advisory speech-segment channel fed by the VAD gate.
func (p *Pipeline) Segments() <-chan audio.Segment { return p.segments }

// Errors returns the channel carrying mid-capture device failures.
func (p *Pipeline) Errors() <-chan error { return p.errs }

// StartCapture begins a batch session: every processed sample is retained
// verbatim until StopCapture.
func (p *Pipeline) StartCapture() error {
	return p.start(modeBatch)
}

// StopCapture ends a batch session and returns all samples captured during
// it as one segment. Returns nil when the session captured no audio.
func (p *Pipeline) StopCapture() (*audio.Segment, error) {
	p.mu.Lock()
	if p.mode != modeBatch {
		p.mu.Unlock()
		return nil, ErrNotActive
	}
	p.mode = modeIdle
	samples := p.session
	p.session = nil
	p.mu.Unlock()

	if err := p.device.Stop(); err != nil {
		return nil, fmt.Errorf("capture: stop: %w", err)
	}
	p.gate.Reset()

	if len(samples) == 0 {
		return nil, nil
	}
	return &audio.Segment{Samples: samples, SampleRate: p.cfg.TargetRate}, nil
}

// StartStreaming begins a streaming session emitting fixed-duration chunks
// on Chunks.
func (p *Pipeline) StartStreaming() error {
	return p.start(modeStreaming)
}

// StopStreaming ends a streaming session. Any accumulated remainder is
// flushed as a final short chunk before the device stops.
func (p *Pipeline) StopStreaming() error {
	p.mu.Lock()
	if p.mode != modeStreaming {
		p.mu.Unlock()
		return ErrNotActive
	}
	p.mode = modeIdle
	rest := p.chunkAcc
	p.chunkAcc = nil
	processed := p.processed
	p.mu.Unlock()

	if err := p.device.Stop(); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	p.gate.Reset()

	if len(rest) > 0 {
		start := processed - int64(len(rest))
		p.emitChunk(audio.Chunk{
			Samples:    rest,
			SampleRate: p.cfg.TargetRate,
			Timestamp:  p.sampleTime(start),
		})
	}
	return nil
}

// Close stops any active session and releases the device.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.mode = modeIdle
	p.initialized = false
	p.session = nil
	p.chunkAcc = nil
	p.mu.Unlock()
	return p.device.Close()
}

func (p *Pipeline) start(m mode) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if p.mode != modeIdle {
		p.mu.Unlock()
		return ErrBusy
	}
	p.mode = m
	p.session = nil
	p.chunkAcc = nil
	p.processed = 0
	p.mu.Unlock()

	p.ring.Reset()
	p.gate.Reset()

	if err := p.device.Start(); err != nil {
		p.mu.Lock()
		p.mode = modeIdle
		p.mu.Unlock()
		return fmt.Errorf("capture: start: %w", err)
	}
	return nil
}

// handleFrame runs on the OS audio callback context. It must never block:
// all channel sends are non-blocking drops.
func (p *Pipeline) handleFrame(samples []float32, format audio.Format) {
	p.mu.Lock()
	if p.mode == modeIdle {
		p.mu.Unlock()
		return
	}
	m := p.mode

	mono := audio.DownmixMono(samples, format.Channels)
	mono = audio.Resample(mono, format.SampleRate, p.cfg.TargetRate)
	audio.Normalize(mono, p.cfg.NormalizePeak, p.cfg.SilenceFloor)

	ts := p.sampleTime(p.processed)
	p.processed += int64(len(mono))

	// Gate before ring write so the pre-roll snapshot excludes the
	// triggering frame.
	segs := p.gate.Push(audio.Chunk{Samples: mono, SampleRate: p.cfg.TargetRate, Timestamp: ts})
	p.ring.Write(mono)

	var ready []audio.Chunk
	switch m {
	case modeBatch:
		p.session = append(p.session, mono...)
	case modeStreaming:
		p.chunkAcc = append(p.chunkAcc, mono...)
		chunkLen := int(p.cfg.ChunkInterval.Seconds() * float64(p.cfg.TargetRate))
		for len(p.chunkAcc) >= chunkLen {
			out := make([]float32, chunkLen)
			copy(out, p.chunkAcc[:chunkLen])
			p.chunkAcc = p.chunkAcc[chunkLen:]
			start := p.processed - int64(len(p.chunkAcc)) - int64(chunkLen)
			ready = append(ready, audio.Chunk{
				Samples:    out,
				SampleRate: p.cfg.TargetRate,
				Timestamp:  p.sampleTime(start),
			})
		}
	}
	p.mu.Unlock()

	for _, c := range ready {
		p.emitChunk(c)
	}
	for _, s := range segs {
		select {
		case p.segments <- s:
		default:
			// Advisory only; a slow consumer loses segments, not audio.
		}
	}
}

// handleDeviceError surfaces an asynchronous device failure and halts the
// session. There is no audio-loss recovery beyond this.
func (p *Pipeline) handleDeviceError(err error) {
	p.mu.Lock()
	active := p.mode != modeIdle
	p.mode = modeIdle
	p.mu.Unlock()
	if !active {
		return
	}
	slog.Error("capture: device error, session halted", "err", err)
	select {
	case p.errs <- err:
	default:
	}
}

func (p *Pipeline) emitChunk(c audio.Chunk) {
	select {
	case p.chunks <- c:
	default:
		p.dropWarn.Do(func() {
			slog.Warn("capture: chunk consumer lagging, dropping chunks")
		})
	}
}

func (p *Pipeline) sampleTime(sampleIndex int64) time.Duration {
	return time.Duration(sampleIndex) * time.Second / time.Duration(p.cfg.TargetRate)
}
