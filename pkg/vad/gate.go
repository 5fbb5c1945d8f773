package vad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zordhalo/lisper-flow/pkg/audio"
)

// State is the gate's hysteresis state.
type State int

const (
	// StateSilence means no active speech segment.
	StateSilence State = iota

	// StateSpeech means a segment is accumulating.
	StateSpeech
)

// GateConfig holds the hysteresis parameters. Zero values select defaults.
type GateConfig struct {
	// SampleRate of the chunks pushed through the gate. Required.
	SampleRate int

	// Threshold is the probability at or above which a window counts as
	// speech. Default 0.45.
	Threshold float64

	// PreRoll is the span of ring-buffer audio prepended to a new segment so
	// the utterance onset is not clipped. Default 400 ms.
	PreRoll time.Duration

	// Hangover is the continuous non-speech run required to end a segment.
	// Pauses shorter than this stay inside the segment. Default 500 ms.
	Hangover time.Duration

	// MinSegment is the minimum accumulated duration below which a finished
	// segment is discarded as a false trigger. Default 300 ms.
	MinSegment time.Duration
}

func (c GateConfig) withDefaults() GateConfig {
	if c.Threshold == 0 {
		c.Threshold = 0.45
	}
	if c.PreRoll == 0 {
		c.PreRoll = 400 * time.Millisecond
	}
	if c.Hangover == 0 {
		c.Hangover = 500 * time.Millisecond
	}
	if c.MinSegment == 0 {
		c.MinSegment = 300 * time.Millisecond
	}
	return c
}

// Gate drives the silence/speech hysteresis state machine over classified
// sub-windows and assembles speech segments with pre-roll taken from the
// ring buffer. Push is called from the capture context only; Gate is not
// safe for concurrent use.
type Gate struct {
	cfg      GateConfig
	primary  Classifier
	fallback *EnergyClassifier
	ring     *audio.RingBuffer

	state      State
	segment    []float32
	segStart   time.Duration
	silenceRun time.Duration

	warnFallback sync.Once
}

// NewGate creates a gate over the given classifier. primary may be nil, in
// which case only the energy heuristic runs. ring supplies pre-roll samples
// and may be nil to disable pre-roll.
func NewGate(cfg GateConfig, primary Classifier, ring *audio.RingBuffer) *Gate {
	return &Gate{
		cfg:      cfg.withDefaults(),
		primary:  primary,
		fallback: NewEnergyClassifier(),
		ring:     ring,
	}
}

// State returns the current hysteresis state.
func (g *Gate) State() State { return g.state }

// classify scores one sub-window, preferring the primary classifier and
// falling back to the energy heuristic on failure.
func (g *Gate) classify(window []float32) float64 {
	if g.primary != nil {
		p, err := g.primary.Classify(window)
		if err == nil {
			return p
		}
		g.warnFallback.Do(func() {
			slog.Warn("vad: primary classifier failed, using energy heuristic", "err", err)
		})
	}
	p, _ := g.fallback.Classify(window)
	return p
}

// Push feeds one chunk through the state machine. It returns any segments
// completed by this chunk (usually none). Pre-roll from the ring buffer is
// prepended when a segment opens; a segment closes only after Hangover of
// continuous non-speech, and is dropped when shorter than MinSegment.
//
// Push must be called with the chunk BEFORE it is written to the ring
// buffer, so the pre-roll snapshot does not include the triggering chunk.
func (g *Gate) Push(chunk audio.Chunk) []audio.Segment {
	var done []audio.Segment

	hasSpeech := false
	for _, w := range subWindows(chunk.Samples) {
		if g.classify(w) >= g.cfg.Threshold {
			hasSpeech = true
			break
		}
	}

	switch g.state {
	case StateSilence:
		if !hasSpeech {
			return nil
		}
		g.state = StateSpeech
		g.silenceRun = 0
		g.segment = g.segment[:0]
		pre := g.preRoll()
		g.segment = append(g.segment, pre...)
		g.segment = append(g.segment, chunk.Samples...)
		g.segStart = chunk.Timestamp - sampleDuration(len(pre), g.cfg.SampleRate)
		if g.segStart < 0 {
			g.segStart = 0
		}

	case StateSpeech:
		g.segment = append(g.segment, chunk.Samples...)
		if hasSpeech {
			g.silenceRun = 0
			return nil
		}
		g.silenceRun += chunk.Duration()
		if g.silenceRun < g.cfg.Hangover {
			return nil
		}
		if seg, ok := g.finish(); ok {
			done = append(done, seg)
		}
	}
	return done
}

// Flush closes any in-progress segment, applying the MinSegment filter.
// Called when capture stops while speech is still active.
func (g *Gate) Flush() []audio.Segment {
	if g.state != StateSpeech {
		return nil
	}
	if seg, ok := g.finish(); ok {
		return []audio.Segment{seg}
	}
	return nil
}

// Reset clears hysteresis and classifier state.
func (g *Gate) Reset() {
	g.state = StateSilence
	g.segment = g.segment[:0]
	g.silenceRun = 0
	if g.primary != nil {
		g.primary.Reset()
	}
	g.fallback.Reset()
}

// finish closes the active segment and returns it when long enough.
func (g *Gate) finish() (audio.Segment, bool) {
	samples := make([]float32, len(g.segment))
	copy(samples, g.segment)
	seg := audio.Segment{
		Samples:    samples,
		SampleRate: g.cfg.SampleRate,
		Start:      g.segStart,
	}

	g.state = StateSilence
	g.segment = g.segment[:0]
	g.silenceRun = 0

	if seg.Duration() < g.cfg.MinSegment {
		slog.Debug("vad: discarding short segment", "duration", seg.Duration())
		return audio.Segment{}, false
	}
	return seg, true
}

// preRoll snapshots the configured pre-roll span from the ring buffer.
func (g *Gate) preRoll() []float32 {
	if g.ring == nil {
		return nil
	}
	n := int(g.cfg.PreRoll.Seconds() * float64(g.cfg.SampleRate))
	return g.ring.Snapshot(n)
}

// subWindows splits samples into classifier windows. The final short
// remainder forms its own window so chunk boundaries never hide speech.
func subWindows(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > recurrentWindow {
		out = append(out, samples[:recurrentWindow])
		samples = samples[recurrentWindow:]
	}
	if len(samples) > 0 {
		out = append(out, samples)
	}
	return out
}

func sampleDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
