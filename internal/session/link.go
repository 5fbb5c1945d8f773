package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zordhalo/lisper-flow/internal/history"
	"github.com/zordhalo/lisper-flow/internal/observe"
	"github.com/zordhalo/lisper-flow/internal/textsync"
	"github.com/zordhalo/lisper-flow/internal/typing"
	"github.com/zordhalo/lisper-flow/pkg/audio"
	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
)

// link bridges a live capture chunk stream to one asr.StreamSession. Audio
// flows in on the forward goroutine; transcripts flow out on the results
// goroutine, which runs the synchronizer synchronously and enqueues typing
// commands without ever blocking on the injector.
type link struct {
	session asr.StreamSession
	chunks  <-chan audio.Chunk
	sync    *textsync.Synchronizer
	queue   *typing.Queue
	metrics *observe.Metrics
	log     *slog.Logger

	// history persistence for final transcripts; both optional.
	history   *history.Store
	sessionID string

	// errs receives the first provider failure, capacity 1.
	errs chan error

	// flush asks forward to send whatever is buffered and exit; forwardDone
	// closes once the last chunk has been handed to the provider.
	flush       chan struct{}
	flushOnce   sync.Once
	forwardDone chan struct{}

	// resultsDone closes when the provider's transcript channels have
	// drained and closed.
	resultsDone chan struct{}
}

func newLink(session asr.StreamSession, chunks <-chan audio.Chunk, queue *typing.Queue,
	metrics *observe.Metrics, log *slog.Logger) *link {
	return &link{
		session:     session,
		chunks:      chunks,
		sync:        textsync.New(),
		queue:       queue,
		metrics:     metrics,
		log:         log,
		errs:        make(chan error, 1),
		flush:       make(chan struct{}),
		forwardDone: make(chan struct{}),
		resultsDone: make(chan struct{}),
	}
}

// start launches the forward and results goroutines. They exit on ctx
// cancellation or when the provider closes its channels.
func (l *link) start(ctx context.Context) {
	go l.forward(ctx)
	go l.results(ctx)
}

// waitResults blocks until the provider's transcript channels close or the
// grace period elapses. Used at stop so in-flight transcripts still land.
func (l *link) waitResults(grace time.Duration) {
	select {
	case <-l.resultsDone:
	case <-time.After(grace):
		l.log.Warn("session: grace period elapsed with transcripts still in flight")
	}
}

func (l *link) forward(ctx context.Context) {
	defer close(l.forwardDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.flush:
			// The capture side has stopped emitting; deliver what is already
			// buffered, then quiesce.
			for {
				select {
				case chunk := <-l.chunks:
					if err := l.send(ctx, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		case chunk := <-l.chunks:
			if err := l.send(ctx, chunk); err != nil {
				return
			}
		}
	}
}

func (l *link) send(ctx context.Context, chunk audio.Chunk) error {
	pcm := audio.EncodePCM16(chunk.Samples)
	if err := l.session.SendAudio(pcm); err != nil {
		l.log.Debug("session: send audio failed", "err", err)
		return err
	}
	l.metrics.Chunks.Add(ctx, 1)
	return nil
}

// stopForward makes forward drain any buffered chunks and exit. It returns
// once the last chunk has been handed to the provider, so a finalize issued
// afterwards cannot overtake trailing audio. Safe to call more than once.
func (l *link) stopForward() {
	l.flushOnce.Do(func() { close(l.flush) })
	<-l.forwardDone
}

func (l *link) results(ctx context.Context) {
	defer close(l.resultsDone)

	partials := l.session.Partials()
	finals := l.session.Finals()

	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			l.handlePartial(ctx, t)

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			l.handleFinal(ctx, t)

		case err := <-l.session.Errors():
			// Transcripts already buffered outrank the failure; processing
			// them first keeps a final that raced the error from being lost.
			l.drainResults(ctx, partials, finals)
			l.log.Error("session: recognition failed", "err", err)
			l.metrics.RecordProviderError(ctx, "asr")
			select {
			case l.errs <- err:
			default:
			}
			return
		}
	}
}

func (l *link) handlePartial(ctx context.Context, t asr.Transcript) {
	l.metrics.RecordTranscript(ctx, "partial")
	l.enqueue(l.sync.Sync(t.Text))
}

func (l *link) handleFinal(ctx context.Context, t asr.Transcript) {
	l.metrics.RecordTranscript(ctx, "final")
	l.enqueue(l.sync.Finalize(t.Text))
	l.appendHistory(ctx, t)
}

// drainResults consumes whatever transcripts are already buffered without
// blocking for new ones.
func (l *link) drainResults(ctx context.Context, partials, finals <-chan asr.Transcript) {
	for {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			l.handlePartial(ctx, t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			l.handleFinal(ctx, t)
		default:
			return
		}
	}
}

// appendHistory persists one final transcript when history is configured.
func (l *link) appendHistory(ctx context.Context, t asr.Transcript) {
	if l.history == nil || t.Text == "" {
		return
	}
	err := l.history.Append(ctx, history.Utterance{
		SessionID:  l.sessionID,
		Text:       t.Text,
		RawText:    t.Text,
		Confidence: t.Confidence,
		Duration:   t.Duration,
	})
	if err != nil {
		l.log.Warn("session: history append failed", "err", err)
	}
}

// enqueue hands commands to the queue. Enqueue never blocks; a completed
// queue (session shutting down) just drops the rest.
func (l *link) enqueue(cmds []typing.Command) {
	for _, cmd := range cmds {
		if err := l.queue.Enqueue(cmd); err != nil {
			return
		}
	}
}
