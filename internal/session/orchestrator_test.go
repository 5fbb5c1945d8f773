package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zordhalo/lisper-flow/internal/session"
	"github.com/zordhalo/lisper-flow/internal/typing"
	"github.com/zordhalo/lisper-flow/pkg/audio"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
	asrmock "github.com/zordhalo/lisper-flow/pkg/provider/asr/mock"
	"github.com/zordhalo/lisper-flow/pkg/provider/input"
	inputmock "github.com/zordhalo/lisper-flow/pkg/provider/input/mock"
)

const targetWindow input.WindowHandle = 42

// fakeCapture is an in-memory CapturePipeline; tests feed chunks and device
// errors through its channels.
type fakeCapture struct {
	mu sync.Mutex

	initErr        error
	startStreamErr error

	initialized bool
	streaming   bool
	recording   bool
	closed      bool

	stopSegment *audio.Segment

	// remainderOnStop, when set, is enqueued as one last chunk by
	// StopStreaming, the way a live pipeline flushes its partial frame.
	remainderOnStop []float32

	stopStreamingCalls int

	chunks   chan audio.Chunk
	segments chan audio.Segment
	errs     chan error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{
		chunks:   make(chan audio.Chunk, 16),
		segments: make(chan audio.Segment, 4),
		errs:     make(chan error, 2),
	}
}

func (f *fakeCapture) Initialize(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeCapture) StartCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = true
	return nil
}

func (f *fakeCapture) StopCapture() (*audio.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = false
	return f.stopSegment, nil
}

func (f *fakeCapture) StartStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startStreamErr != nil {
		return f.startStreamErr
	}
	f.streaming = true
	return nil
}

func (f *fakeCapture) StopStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streaming && f.remainderOnStop != nil {
		f.chunks <- audio.Chunk{Samples: f.remainderOnStop, SampleRate: 16000}
	}
	f.streaming = false
	f.stopStreamingCalls++
	return nil
}

func (f *fakeCapture) Chunks() <-chan audio.Chunk     { return f.chunks }
func (f *fakeCapture) Segments() <-chan audio.Segment { return f.segments }
func (f *fakeCapture) Errors() <-chan error           { return f.errs }

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCapture) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopStreamingCalls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession() *asrmock.Session {
	return &asrmock.Session{
		PartialsCh: make(chan asr.Transcript, 16),
		FinalsCh:   make(chan asr.Transcript, 16),
		ErrorsCh:   make(chan error, 1),
	}
}

type fixture struct {
	orch     *session.Orchestrator
	capture  *fakeCapture
	platform *inputmock.Platform
	stream   *asrmock.StreamProvider
	sess     *asrmock.Session
	batch    *asrmock.Batch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		capture:  newFakeCapture(),
		platform: &inputmock.Platform{Foreground: targetWindow},
		sess:     newSession(),
		batch:    &asrmock.Batch{},
	}
	f.stream = &asrmock.StreamProvider{Session: f.sess}
	f.orch = session.New(session.Config{
		Grace: 500 * time.Millisecond,
	}, typing.InjectorConfig{
		FocusRetries:    2,
		FocusRetryDelay: time.Millisecond,
		InterCommand:    time.Millisecond,
		InterKey:        time.Millisecond,
	}, session.Deps{
		Capture:  f.capture,
		Stream:   f.stream,
		Batch:    f.batch,
		Platform: f.platform,
		Logger:   quietLogger(),
	})
	t.Cleanup(func() { f.orch.Close() })
	return f
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	if err := f.orch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOrchestrator_InitializeMovesIdleToReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var transitions []session.State
	var mu sync.Mutex
	f.orch.SetListener(func(from, to session.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	if got := f.orch.State(); got != session.StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}
	f.ready(t)
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}

	if err := f.orch.Initialize(context.Background()); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("second Initialize = %v, want ErrInvalidState", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != session.StateReady {
		t.Errorf("transitions = %v, want [ready]", transitions)
	}
}

func TestOrchestrator_StreamingSessionTypesTranscripts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)

	if err := f.orch.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	if got := f.orch.State(); got != session.StateStreaming {
		t.Fatalf("state = %v, want streaming", got)
	}
	if len(f.stream.StartStreamCalls) != 1 {
		t.Fatalf("StartStream called %d times, want 1", len(f.stream.StartStreamCalls))
	}
	if cfg := f.stream.StartStreamCalls[0].Cfg; cfg.SampleRate != 16000 {
		t.Errorf("stream sample rate = %d, want 16000", cfg.SampleRate)
	}

	// Live audio flows to the provider.
	f.capture.chunks <- audio.Chunk{Samples: []float32{0, 0.5}, SampleRate: 16000}
	waitFor(t, "audio forwarded to provider", func() bool {
		return f.sess.SendAudioCallCount() == 1
	})

	// Partials type immediately; the final revises the tail.
	f.sess.PartialsCh <- asr.Transcript{Text: "hello"}
	waitFor(t, "partial typed", func() bool { return f.platform.Typed() == "hello" })

	f.sess.FinalsCh <- asr.Transcript{Text: "hello world.", IsFinal: true}
	close(f.sess.PartialsCh)
	close(f.sess.FinalsCh)

	if err := f.orch.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming: %v", err)
	}
	if got := f.platform.Typed(); got != "hello world." {
		t.Errorf("typed %q, want %q", got, "hello world.")
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state after stop = %v, want ready", got)
	}
	if f.sess.FinalizeCallCount == 0 {
		t.Error("provider Finalize was never called")
	}
	if f.sess.CloseCallCount == 0 {
		t.Error("provider session was never closed")
	}
	if f.capture.stopCalls() == 0 {
		t.Error("capture streaming was never stopped")
	}
}

func TestOrchestrator_StopStreamingFlushesTrailingAudioBeforeFinalize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.remainderOnStop = []float32{0.1, 0.2, 0.3}

	if err := f.orch.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	f.capture.chunks <- audio.Chunk{Samples: []float32{0, 0.5}, SampleRate: 16000}
	waitFor(t, "audio forwarded to provider", func() bool {
		return f.sess.SendAudioCallCount() == 1
	})

	close(f.sess.PartialsCh)
	close(f.sess.FinalsCh)
	if err := f.orch.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming: %v", err)
	}

	if got := f.sess.SendAudioCallCount(); got != 2 {
		t.Fatalf("SendAudio calls = %d, want 2 including the trailing chunk", got)
	}
	if f.sess.FinalizeCallCount != 1 {
		t.Fatalf("Finalize calls = %d, want 1", f.sess.FinalizeCallCount)
	}
	// The chunk released by the capture stop must reach the provider before
	// the finalize request, or the utterance tail is cut off.
	if f.sess.AudioAtFinalize != 2 {
		t.Errorf("audio calls at finalize = %d, want 2", f.sess.AudioAtFinalize)
	}
}

func TestOrchestrator_StartStreamingRequiresReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.orch.StartStreaming(context.Background()); !errors.Is(err, session.ErrInvalidState) {
		t.Errorf("StartStreaming in idle = %v, want ErrInvalidState", err)
	}
}

func TestOrchestrator_StartStreamingRollsBackOnProviderFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.stream.StartStreamErr = errors.New("connect refused")

	if err := f.orch.StartStreaming(context.Background()); err == nil {
		t.Fatal("expected error when provider connect fails, got nil")
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready after rollback", got)
	}
	waitFor(t, "capture rollback", func() bool { return f.capture.stopCalls() == 1 })
}

func TestOrchestrator_StartStreamingFailsWithoutForegroundWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.platform.ForegroundErr = errors.New("no window")

	if err := f.orch.StartStreaming(context.Background()); err == nil {
		t.Fatal("expected error when the target window cannot be resolved")
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}

func TestOrchestrator_CancelAbandonsPendingText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)

	if err := f.orch.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	f.sess.PartialsCh <- asr.Transcript{Text: "hello"}
	waitFor(t, "partial typed", func() bool { return f.platform.Typed() == "hello" })

	f.orch.Cancel()
	if got := f.orch.State(); got != session.StateReady {
		t.Fatalf("state after cancel = %v, want ready", got)
	}
	typedAtCancel := f.platform.Typed()

	// Late transcripts must not type anything after Cancel returned.
	f.sess.PartialsCh <- asr.Transcript{Text: "hello straggler"}
	time.Sleep(50 * time.Millisecond)
	if got := f.platform.Typed(); got != typedAtCancel {
		t.Errorf("typed %q after cancel, want frozen at %q", got, typedAtCancel)
	}
	if f.sess.CloseCallCount == 0 {
		t.Error("provider session was not closed on cancel")
	}
}

func TestOrchestrator_DeviceFailureEntersErrorState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)

	if err := f.orch.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	f.capture.errs <- errors.New("device unplugged")

	waitFor(t, "error state", func() bool { return f.orch.State() == session.StateError })
	if f.sess.CloseCallCount == 0 {
		t.Error("provider session was not closed on device failure")
	}

	f.orch.Reset()
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state after Reset = %v, want ready", got)
	}
}

func TestOrchestrator_RecognitionFailureEntersErrorState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)

	if err := f.orch.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	f.sess.ErrorsCh <- errors.New("websocket torn down")

	waitFor(t, "error state", func() bool { return f.orch.State() == session.StateError })
}

func TestOrchestrator_BatchDictationTypesTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.stopSegment = &audio.Segment{
		Samples:    make([]float32, 16000),
		SampleRate: 16000,
	}
	f.batch.Result = asr.Transcript{Text: "hello world", IsFinal: true, Confidence: 0.9}

	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if got := f.orch.State(); got != session.StateRecording {
		t.Fatalf("state = %v, want recording", got)
	}

	if err := f.orch.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := f.platform.Typed(); got != "hello world" {
		t.Errorf("typed %q, want %q", got, "hello world")
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}

	if len(f.batch.TranscribeCalls) != 1 {
		t.Fatalf("Transcribe called %d times, want 1", len(f.batch.TranscribeCalls))
	}
	clip := f.batch.TranscribeCalls[0].Clip
	if clip.SampleRate != 16000 {
		t.Errorf("clip rate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.PCM) != 32000 {
		t.Errorf("clip PCM = %d bytes, want 32000 (16-bit samples)", len(clip.PCM))
	}
}

func TestOrchestrator_BatchEmptyRecordingTypesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.stopSegment = nil

	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := f.orch.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if len(f.batch.TranscribeCalls) != 0 {
		t.Error("Transcribe called for an empty recording")
	}
	if got := f.platform.Typed(); got != "" {
		t.Errorf("typed %q, want nothing", got)
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}

func TestOrchestrator_BatchEmptyTranscriptTypesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.stopSegment = &audio.Segment{Samples: make([]float32, 100), SampleRate: 16000}
	f.batch.Result = asr.Transcript{Text: "   ", IsFinal: true}

	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := f.orch.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := f.platform.Typed(); got != "" {
		t.Errorf("typed %q, want nothing for a blank transcript", got)
	}
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}

func TestOrchestrator_BatchTranscribeFailureEntersErrorState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.stopSegment = &audio.Segment{Samples: make([]float32, 100), SampleRate: 16000}
	f.batch.Err = errors.New("server down")

	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := f.orch.StopRecording(context.Background()); err == nil {
		t.Fatal("expected transcription error, got nil")
	}
	if got := f.orch.State(); got != session.StateError {
		t.Errorf("state = %v, want error", got)
	}
}

func TestOrchestrator_CancelDiscardsRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)
	f.capture.stopSegment = &audio.Segment{Samples: make([]float32, 100), SampleRate: 16000}

	if err := f.orch.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	f.orch.Cancel()
	if got := f.orch.State(); got != session.StateReady {
		t.Errorf("state = %v, want ready", got)
	}
	if len(f.batch.TranscribeCalls) != 0 {
		t.Error("cancelled recording was transcribed")
	}
}

func TestOrchestrator_CloseReturnsToIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ready(t)

	if err := f.orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := f.orch.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	f.capture.mu.Lock()
	closed := f.capture.closed
	f.capture.mu.Unlock()
	if !closed {
		t.Error("capture pipeline was not closed")
	}
}
