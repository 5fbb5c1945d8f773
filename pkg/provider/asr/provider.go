// Package asr defines the provider interfaces for speech recognition
// backends.
//
// Two shapes are covered. A StreamProvider wraps a real-time recognition
// service: once a session is open it accepts raw PCM audio and emits two
// streams of Transcript values: low-latency revisable partials and
// authoritative finals. A BatchProvider wraps a one-shot service that turns
// a finished clip into a single transcript.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package asr

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). Empty lets the provider auto-detect when supported.
	Language string
}

// StreamSession is an open streaming recognition session.
//
// Callers must call Close when the session is no longer needed; failing to
// do so may leak goroutines and network connections inside the provider.
// All methods are safe for concurrent use.
type StreamSession interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM mono audio at
	// the rate agreed in StreamConfig. Calling SendAudio after Close or
	// Finalize returns an error.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns the channel of authoritative transcripts. Closed when
	// the session ends.
	Finals() <-chan Transcript

	// Finalize tells the provider no more audio is coming and asks it to
	// flush remaining results. The transcript channels stay open until the
	// provider has delivered everything, then close.
	Finalize() error

	// Errors returns the channel carrying asynchronous provider failures
	// (network drop, protocol error). At most one error is delivered.
	Errors() <-chan error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// StreamProvider is the abstraction over any streaming ASR backend.
type StreamProvider interface {
	// StartStream opens a new streaming session with the given audio format
	// and recognition configuration. The returned session is ready to
	// accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamSession, error)
}

// BatchProvider is the abstraction over a one-shot transcription backend.
type BatchProvider interface {
	// Transcribe submits one finished clip and returns the provider's
	// transcript for it.
	Transcribe(ctx context.Context, clip Clip) (Transcript, error)
}
