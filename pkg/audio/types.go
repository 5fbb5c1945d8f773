package audio

import "time"

// Chunk is a fixed-cadence slice of captured audio flowing through the
// pipeline. Samples are normalised mono float32 in [-1, 1] at SampleRate.
// A Chunk is immutable once emitted and is consumed exactly once.
type Chunk struct {
	// Samples is the ordered mono sample data.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for ASR input).
	SampleRate int

	// Timestamp marks when the first sample of this chunk was captured,
	// relative to capture start.
	Timestamp time.Duration
}

// Duration returns the play time covered by the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Segment is a contiguous run of speech-classified audio, bounded by the
// configured pre-roll at the start and a silence run at the end. In batch
// mode StopCapture returns the whole session as one Segment; in streaming
// mode gate-produced segments are advisory only.
type Segment struct {
	// Samples is the mono sample data including pre-roll.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Start marks when the segment began (pre-roll included), relative to
	// capture start.
	Start time.Duration
}

// Duration returns the play time covered by the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Format describes the sample rate and channel count of a raw device stream.
type Format struct {
	SampleRate int
	Channels   int
}
