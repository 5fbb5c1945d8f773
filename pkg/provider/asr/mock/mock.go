// Package mock provides test doubles for the asr package interfaces.
//
// Use StreamProvider to verify that the caller starts sessions with the
// expected StreamConfig. Use Session to feed controlled Transcript values and
// inspect which audio chunks were delivered. Use Batch to script one-shot
// transcription results.
//
// Example:
//
//	sess := &mock.Session{
//	    PartialsCh: make(chan asr.Transcript, 1),
//	    FinalsCh:   make(chan asr.Transcript, 1),
//	}
//	p := &mock.StreamProvider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
)

// StartStreamCall records a single invocation of StreamProvider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg asr.StreamConfig
}

// StreamProvider is a mock implementation of asr.StreamProvider.
type StreamProvider struct {
	mu sync.Mutex

	// Session is the StreamSession returned by StartStream. If nil,
	// StartStream returns a new default Session with buffered channels.
	Session asr.StreamSession

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *StreamProvider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan asr.Transcript, 16),
		FinalsCh:   make(chan asr.Transcript, 16),
		ErrorsCh:   make(chan error, 1),
	}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *StreamProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure StreamProvider implements asr.StreamProvider at compile time.
var _ asr.StreamProvider = (*StreamProvider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of asr.StreamSession.
// Callers should pre-populate PartialsCh and FinalsCh with the Transcript
// values they want the consumer to receive, then close them when done.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials(). Callers own this
	// channel and are responsible for sending to and closing it in tests.
	PartialsCh chan asr.Transcript

	// FinalsCh is the channel returned by Finals(). Callers own this channel.
	FinalsCh chan asr.Transcript

	// ErrorsCh is the channel returned by Errors(). Callers own this channel.
	ErrorsCh chan error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FinalizeErr, if non-nil, is returned by Finalize.
	FinalizeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// FinalizeCallCount is the number of times Finalize was called.
	FinalizeCallCount int

	// AudioAtFinalize is how many SendAudio calls had completed when
	// Finalize was first called. Lets tests assert that trailing audio
	// reached the session before the finalize request.
	AudioAtFinalize int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Partials returns PartialsCh. The caller must have initialised PartialsCh
// before calling this method.
func (s *Session) Partials() <-chan asr.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan asr.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// Errors returns ErrorsCh.
func (s *Session) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrorsCh
}

// Finalize records the call and returns FinalizeErr.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalizeCallCount++
	if s.FinalizeCallCount == 1 {
		s.AudioAtFinalize = len(s.SendAudioCalls)
	}
	return s.FinalizeErr
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.FinalizeCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements asr.StreamSession at compile time.
var _ asr.StreamSession = (*Session)(nil)

// TranscribeCall records a single invocation of Batch.Transcribe.
type TranscribeCall struct {
	// Clip is the clip passed to Transcribe.
	Clip asr.Clip
}

// Batch is a mock implementation of asr.BatchProvider.
type Batch struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result asr.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (b *Batch) Transcribe(_ context.Context, clip asr.Clip) (asr.Transcript, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranscribeCalls = append(b.TranscribeCalls, TranscribeCall{Clip: clip})
	if b.Err != nil {
		return asr.Transcript{}, b.Err
	}
	return b.Result, nil
}

// Ensure Batch implements asr.BatchProvider at compile time.
var _ asr.BatchProvider = (*Batch)(nil)
