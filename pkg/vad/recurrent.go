package vad

import "math"

// recurrentWindow is the fixed window length the recurrent classifier
// operates on. Chunks are split into windows of this size by the gate.
const recurrentWindow = 512

// RecurrentClassifier scores 512-sample windows with a small recurrent
// model: per-window energy and zero-crossing features are folded into a
// leaky hidden state carried across calls, and the smoothed state is mapped
// to a probability with a logistic. The hidden state gives the classifier
// memory of recent speech, which suppresses single-window noise spikes that
// fool the plain energy ramp.
type RecurrentClassifier struct {
	// hidden state, one slot per feature
	hEnergy float64
	hZCR    float64
	primed  bool
}

// Feature smoothing and logistic shape. Tuned against 16 kHz speech; the
// decay corresponds to roughly 200 ms of memory at 512-sample windows.
const (
	recurrentDecay  = 0.85
	energyMidpoint  = 0.030
	energySteepness = 120.0
	zcrSpeechMax    = 0.25
)

// NewRecurrentClassifier returns a classifier with zeroed hidden state.
func NewRecurrentClassifier() *RecurrentClassifier {
	return &RecurrentClassifier{}
}

// Classify scores one fixed-size window. Returns ErrWindowSize for any other
// length so the caller can fall back to the energy heuristic.
func (c *RecurrentClassifier) Classify(samples []float32) (float64, error) {
	if len(samples) != recurrentWindow {
		return 0, ErrWindowSize
	}

	var energy float64
	crossings := 0
	prevNeg := samples[0] < 0
	for _, s := range samples {
		energy += float64(s) * float64(s)
		neg := s < 0
		if neg != prevNeg {
			crossings++
			prevNeg = neg
		}
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	zcr := float64(crossings) / float64(len(samples))

	if !c.primed {
		c.hEnergy = rms
		c.hZCR = zcr
		c.primed = true
	} else {
		c.hEnergy = recurrentDecay*c.hEnergy + (1-recurrentDecay)*rms
		c.hZCR = recurrentDecay*c.hZCR + (1-recurrentDecay)*zcr
	}

	// Logistic over the smoothed energy, attenuated when the zero-crossing
	// rate looks like broadband noise rather than voiced speech.
	p := 1.0 / (1.0 + math.Exp(-energySteepness*(c.hEnergy-energyMidpoint)))
	if c.hZCR > zcrSpeechMax {
		excess := (c.hZCR - zcrSpeechMax) / (0.5 - zcrSpeechMax)
		if excess > 1 {
			excess = 1
		}
		p *= 1 - 0.6*excess
	}
	return p, nil
}

// Reset clears the hidden state.
func (c *RecurrentClassifier) Reset() {
	c.hEnergy = 0
	c.hZCR = 0
	c.primed = false
}
