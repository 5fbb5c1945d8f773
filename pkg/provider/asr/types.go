package asr

import "time"

// Transcript is a recognition result from an ASR provider. Both partial
// (interim) and final transcripts use this type. Partials are NOT monotonic:
// a later partial may revise or drop words from an earlier one.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is the provider's authoritative result
	// for the utterance segment or a provisional guess.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence or for partials.
	Confidence float64

	// Offset marks where the utterance started, relative to stream start.
	Offset time.Duration

	// Duration is the length of the recognised utterance. Only set on
	// finals.
	Duration time.Duration
}

// Clip is one finished recording submitted to a batch provider. Audio is
// 16-bit little-endian PCM mono.
type Clip struct {
	PCM        []byte
	SampleRate int
}
