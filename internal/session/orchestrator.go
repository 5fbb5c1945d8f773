package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zordhalo/lisper-flow/internal/enhance"
	"github.com/zordhalo/lisper-flow/internal/history"
	"github.com/zordhalo/lisper-flow/internal/observe"
	"github.com/zordhalo/lisper-flow/internal/typing"
	"github.com/zordhalo/lisper-flow/pkg/audio"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
	"github.com/zordhalo/lisper-flow/pkg/provider/input"
)

// ErrInvalidState is returned when an operation is not legal in the current
// state.
var ErrInvalidState = errors.New("session: operation not valid in current state")

// CapturePipeline is the audio capture boundary the orchestrator drives.
// *capture.Pipeline satisfies it; tests substitute a fake.
type CapturePipeline interface {
	Initialize(deviceID string) error
	StartCapture() error
	StopCapture() (*audio.Segment, error)
	StartStreaming() error
	StopStreaming() error
	Chunks() <-chan audio.Chunk
	Segments() <-chan audio.Segment
	Errors() <-chan error
	Close() error
}

// Config holds orchestrator parameters. Zero values select defaults.
type Config struct {
	// DeviceID selects the capture device. Empty uses the system default.
	DeviceID string

	// SampleRate is the pipeline's working rate, passed to the ASR provider.
	// Default 16000.
	SampleRate int

	// Language is the recognition language hint.
	Language string

	// Grace is how long stop waits for in-flight transcripts after ASR
	// finalize. Default 2 s.
	Grace time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Grace == 0 {
		c.Grace = 2 * time.Second
	}
	return c
}

// Deps bundles the orchestrator's collaborators. Stream or Batch may be nil
// when the corresponding mode is unused; Enhancer and History may be nil.
type Deps struct {
	Capture  CapturePipeline
	Stream   asr.StreamProvider
	Batch    asr.BatchProvider
	Platform input.Platform
	Enhancer enhance.Enhancer
	History  *history.Store
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// Orchestrator owns the dictation state machine. All public methods are safe
// for concurrent use; exactly one session runs at a time.
type Orchestrator struct {
	cfg      Config
	capture  CapturePipeline
	stream   asr.StreamProvider
	batch    asr.BatchProvider
	platform input.Platform
	enhancer enhance.Enhancer
	history  *history.Store
	metrics  *observe.Metrics
	log      *slog.Logger

	queue    *typing.Queue
	injector *typing.Injector

	mu        sync.Mutex
	state     State
	listener  StateListener
	sessionID string

	// live streaming session, valid in StateStreaming only
	cancelRun  context.CancelFunc
	asrSession asr.StreamSession
	activeLink *link
}

// New creates an orchestrator. injCfg configures the keystroke injector.
func New(cfg Config, injCfg typing.InjectorConfig, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Enhancer == nil {
		deps.Enhancer = enhance.Noop{}
	}
	queue := typing.NewQueue()
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		capture:  deps.Capture,
		stream:   deps.Stream,
		batch:    deps.Batch,
		platform: deps.Platform,
		enhancer: deps.Enhancer,
		history:  deps.History,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		queue:    queue,
		injector: typing.NewInjector(injCfg, deps.Platform, queue, deps.Metrics, deps.Logger),
		state:    StateIdle,
	}
}

// SetListener registers the transition observer. Must be called before
// Initialize.
func (o *Orchestrator) SetListener(l StateListener) {
	o.mu.Lock()
	o.listener = l
	o.mu.Unlock()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// transition must be called with o.mu held.
func (o *Orchestrator) transition(to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.log.Debug("session: state transition", "from", from.String(), "to", to.String())
	if o.listener != nil {
		o.listener(from, to)
	}
}

// Initialize opens the capture device and moves Idle to Ready. Failure
// leaves the orchestrator in Idle; Initialize may be retried.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return fmt.Errorf("%w: initialize in %s", ErrInvalidState, o.state)
	}
	if err := o.capture.Initialize(o.cfg.DeviceID); err != nil {
		return err
	}
	go o.drainSegments(ctx)
	o.transition(StateReady)
	return nil
}

// drainSegments consumes the gate's advisory segment channel for the
// lifetime of the orchestrator, counting segments.
func (o *Orchestrator) drainSegments(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-o.capture.Segments():
			o.metrics.Segments.Add(ctx, 1)
			o.log.Debug("session: speech segment",
				"start", seg.Start, "duration", seg.Duration())
		}
	}
}

// StartStreaming begins a live dictation session. Capture start and ASR
// connect both complete before any chunk is forwarded; on failure whatever
// started is rolled back and the orchestrator stays Ready.
func (o *Orchestrator) StartStreaming(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateReady {
		return fmt.Errorf("%w: start streaming in %s", ErrInvalidState, o.state)
	}
	if o.stream == nil {
		return errors.New("session: no streaming ASR provider configured")
	}

	target, err := o.platform.ForegroundWindow()
	if err != nil {
		return fmt.Errorf("session: resolve target window: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var asrSession asr.StreamSession
	var captureStarted bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := o.capture.StartStreaming(); err != nil {
			return err
		}
		captureStarted = true
		return nil
	})
	g.Go(func() error {
		s, err := o.stream.StartStream(gctx, asr.StreamConfig{
			SampleRate: o.cfg.SampleRate,
			Language:   o.cfg.Language,
		})
		if err != nil {
			return err
		}
		asrSession = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if captureStarted {
			_ = o.capture.StopStreaming()
		}
		if asrSession != nil {
			_ = asrSession.Close()
		}
		cancel()
		return fmt.Errorf("session: start streaming: %w", err)
	}

	o.sessionID = uuid.NewString()
	o.queue.Reset()
	if err := o.injector.Start(runCtx, target); err != nil {
		_ = o.capture.StopStreaming()
		_ = asrSession.Close()
		cancel()
		return err
	}

	l := newLink(asrSession, o.capture.Chunks(), o.queue, o.metrics, o.log)
	l.history = o.history
	l.sessionID = o.sessionID
	l.start(runCtx)

	o.cancelRun = cancel
	o.asrSession = asrSession
	o.activeLink = l

	go o.watch(runCtx, l)

	o.metrics.ActiveSessions.Add(runCtx, 1)
	o.transition(StateStreaming)
	o.log.Info("session: streaming started", "session_id", o.sessionID, "target", fmt.Sprintf("%#x", uintptr(target)))
	return nil
}

// watch halts the session when the capture device or the ASR provider fails
// mid-stream.
func (o *Orchestrator) watch(ctx context.Context, l *link) {
	select {
	case <-ctx.Done():
		return
	case err := <-o.capture.Errors():
		o.log.Error("session: device failed, halting", "err", err)
	case err := <-l.errs:
		o.log.Error("session: recognition failed, halting", "err", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateStreaming {
		return
	}
	o.teardownStreamingLocked()
	o.transition(StateError)
}

// StopStreaming ends a live session in order: flush the final short chunk,
// ask the provider to finalize, wait out the grace period for in-flight
// transcripts, then let the injector drain the queue.
func (o *Orchestrator) StopStreaming(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStreaming {
		o.mu.Unlock()
		return fmt.Errorf("%w: stop streaming in %s", ErrInvalidState, o.state)
	}
	l := o.activeLink
	sess := o.asrSession
	o.transition(StateInjecting)
	o.mu.Unlock()

	if err := o.capture.StopStreaming(); err != nil {
		o.log.Warn("session: capture stop failed", "err", err)
	}
	// The remainder chunk is only enqueued by the capture stop; wait until
	// the forwarder has handed it to the provider before finalizing.
	l.stopForward()
	if err := sess.Finalize(); err != nil {
		o.log.Warn("session: asr finalize failed", "err", err)
	}
	l.waitResults(o.cfg.Grace)

	o.queue.Complete()
	o.injector.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardownStreamingLocked()
	o.transition(StateReady)
	o.log.Info("session: streaming stopped", "session_id", o.sessionID)
	return nil
}

// Cancel aborts the active session. Pending commands are discarded, focus
// retries exit promptly, and nothing types after Cancel returns.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateStreaming, StateInjecting:
		_ = o.capture.StopStreaming()
		o.queue.Clear()
		o.teardownStreamingLocked()
		o.injector.Stop()
		o.transition(StateReady)
		o.log.Info("session: cancelled", "session_id", o.sessionID)
	case StateRecording:
		_, _ = o.capture.StopCapture()
		o.transition(StateReady)
		o.log.Info("session: recording cancelled")
	}
}

// teardownStreamingLocked releases the live-session resources. Caller holds
// o.mu.
func (o *Orchestrator) teardownStreamingLocked() {
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	if o.asrSession != nil {
		_ = o.asrSession.Close()
		o.asrSession = nil
	}
	if o.activeLink != nil {
		o.activeLink = nil
		o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Reset returns an errored orchestrator to Ready.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateError {
		return
	}
	o.queue.Reset()
	o.transition(StateReady)
}

// StartRecording begins a batch session buffering the whole utterance.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateReady {
		return fmt.Errorf("%w: start recording in %s", ErrInvalidState, o.state)
	}
	if o.batch == nil {
		return errors.New("session: no batch ASR provider configured")
	}
	if err := o.capture.StartCapture(); err != nil {
		return fmt.Errorf("session: start recording: %w", err)
	}
	o.sessionID = uuid.NewString()
	o.transition(StateRecording)
	return nil
}

// StopRecording ends a batch session and runs the full pipeline: transcribe
// the buffered utterance, enhance it, then type it. Blocks until typing
// finishes.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRecording {
		o.mu.Unlock()
		return fmt.Errorf("%w: stop recording in %s", ErrInvalidState, o.state)
	}
	o.transition(StateTranscribing)
	o.mu.Unlock()

	seg, err := o.capture.StopCapture()
	if err != nil {
		return o.fail(fmt.Errorf("session: stop capture: %w", err))
	}
	if seg == nil {
		o.log.Info("session: recording captured no audio")
		o.toReady()
		return nil
	}

	start := time.Now()
	transcript, err := o.batch.Transcribe(ctx, asr.Clip{
		PCM:        audio.EncodePCM16(seg.Samples),
		SampleRate: seg.SampleRate,
	})
	o.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordProviderError(ctx, "asr")
		return o.fail(fmt.Errorf("session: transcribe: %w", err))
	}
	o.metrics.RecordTranscript(ctx, "final")
	if strings.TrimSpace(transcript.Text) == "" {
		o.log.Info("session: empty transcript, nothing to type")
		o.toReady()
		return nil
	}

	o.setState(StateEnhancing)
	enhStart := time.Now()
	text := o.enhancer.Enhance(ctx, transcript.Text)
	o.metrics.EnhanceDuration.Record(ctx, time.Since(enhStart).Seconds())

	if o.history != nil {
		err := o.history.Append(ctx, history.Utterance{
			SessionID:  o.sessionID,
			Text:       text,
			RawText:    transcript.Text,
			Confidence: transcript.Confidence,
			Duration:   seg.Duration(),
		})
		if err != nil {
			o.log.Warn("session: history append failed", "err", err)
		}
	}

	target, err := o.platform.ForegroundWindow()
	if err != nil {
		return o.fail(fmt.Errorf("session: resolve target window: %w", err))
	}

	o.setState(StateInjecting)
	o.queue.Reset()
	for _, word := range strings.Fields(text) {
		_ = o.queue.Enqueue(typing.TypeWord(word))
	}
	o.queue.Complete()

	injCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if err := o.injector.Start(injCtx, target); err != nil {
		return o.fail(err)
	}
	o.injector.Wait()

	o.toReady()
	o.log.Info("session: batch dictation typed", "session_id", o.sessionID, "chars", len(text))
	return nil
}

// Close tears down the orchestrator and the capture device.
func (o *Orchestrator) Close() error {
	o.Cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transition(StateIdle)
	return o.capture.Close()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.transition(s)
	o.mu.Unlock()
}

func (o *Orchestrator) toReady() {
	o.setState(StateReady)
}

func (o *Orchestrator) fail(err error) error {
	o.setState(StateError)
	return err
}
