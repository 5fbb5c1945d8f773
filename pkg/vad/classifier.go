// Package vad provides per-chunk speech/silence classification and the
// hysteresis gate that turns raw classifier output into speech segments with
// pre-roll.
//
// Two classifier strategies are provided: an energy heuristic and a
// recurrent smoothed-feature classifier that carries hidden state across
// windows. The gate prefers the configured primary classifier and falls back
// to the energy heuristic when the primary fails.
package vad

import "errors"

// ErrWindowSize is returned when a classifier receives a window of the wrong
// length.
var ErrWindowSize = errors.New("vad: wrong window size")

// Classifier scores a window of mono float32 samples with a speech
// probability in [0, 1]. Implementations may keep state across calls and are
// not safe for concurrent use; one classifier serves one audio stream.
type Classifier interface {
	// Classify returns the speech probability for the window.
	Classify(samples []float32) (float64, error)

	// Reset clears accumulated state so a new utterance is not affected by
	// the previous one.
	Reset()
}

// Default energy ramp bounds, expressed as RMS amplitudes. The ramp itself
// runs linearly in mean-square power between the squared bounds.
const (
	defaultSilenceFloor = 0.010
	defaultSpeechCeil   = 0.100
)

// EnergyClassifier is the energy heuristic: a clamped linear ramp of the
// window's mean-square power between the squared silence floor and speech
// ceiling. It is stateless and never fails, which makes it the fallback
// strategy.
type EnergyClassifier struct {
	// SilenceFloor is the RMS amplitude at or below which probability is 0.
	SilenceFloor float64

	// SpeechCeil is the RMS amplitude at or above which probability is 1.
	SpeechCeil float64
}

// NewEnergyClassifier returns an EnergyClassifier with the default ramp.
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{SilenceFloor: defaultSilenceFloor, SpeechCeil: defaultSpeechCeil}
}

// Classify maps the window's mean-square power onto the configured ramp.
func (c *EnergyClassifier) Classify(samples []float32) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	floor := c.SilenceFloor
	ceil := c.SpeechCeil
	if ceil <= floor {
		ceil = floor + 1e-6
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	power := sum / float64(len(samples))
	p := (power - floor*floor) / (ceil*ceil - floor*floor)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return p, nil
}

// Reset is a no-op; the energy heuristic is stateless.
func (c *EnergyClassifier) Reset() {}
