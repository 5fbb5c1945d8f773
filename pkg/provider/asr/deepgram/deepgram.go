// Package deepgram provides a Deepgram-backed streaming ASR provider using
// the Deepgram streaming WebSocket API. It implements asr.StreamProvider.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/zordhalo/lisper-flow/pkg/provider/asr"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level
// default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests to point
// the provider at a local WebSocket server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements asr.StreamProvider backed by the Deepgram streaming
// API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with Deepgram. It
// respects cfg.SampleRate and cfg.Language.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamSession, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:      conn,
		partials:  make(chan asr.Transcript, 64),
		finals:    make(chan asr.Transcript, 64),
		errs:      make(chan error, 1),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
		writeDone: make(chan struct{}),
	}

	// The session outlives the dial context; its loops end on Close or when
	// the server closes the connection.
	loopCtx := context.WithoutCancel(ctx)
	sess.wg.Add(2)
	go sess.readLoop(loopCtx)
	go sess.writeLoop(loopCtx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// config.
func (p *Provider) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sr))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements
// asr.StreamSession.
type session struct {
	conn     *websocket.Conn
	partials chan asr.Transcript
	finals   chan asr.Transcript
	errs     chan error
	audio    chan []byte

	// closing is closed by Finalize; writeDone is closed once the write
	// loop has flushed queued audio and exited.
	done      chan struct{}
	closing   chan struct{}
	writeDone chan struct{}
	once      sync.Once
	finalized sync.Once
	wg        sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram. It fails once
// the session has been finalized or closed.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	case <-s.closing:
		return errors.New("deepgram: session is finalized")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	case <-s.closing:
		return errors.New("deepgram: session is finalized")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan asr.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan asr.Transcript { return s.finals }

// Errors returns the channel carrying asynchronous session failures.
func (s *session) Errors() <-chan error { return s.errs }

// Finalize flushes any queued audio, then sends the CloseStream control
// message so Deepgram emits remaining results. The transcript channels stay
// open until the server closes the connection.
func (s *session) Finalize() error {
	var err error
	s.finalized.Do(func() {
		close(s.closing)
		// Every queued chunk must reach the wire before CloseStream, or the
		// server discards the utterance tail.
		<-s.writeDone
		err = s.conn.Write(context.Background(), websocket.MessageText,
			[]byte(`{"type":"CloseStream"}`))
	})
	if err != nil {
		return fmt.Errorf("deepgram: finalize: %w", err)
	}
	return nil
}

// Close terminates the session cleanly. The connection is closed before the
// loops are awaited so a read blocked on an unresponsive server still exits.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.Finalize()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram. It drains queued chunks on finalize and close so no audio handed
// to SendAudio is silently lost.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.writeDone)
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.closing:
			s.drainAudio(ctx)
			return
		case <-s.done:
			s.drainAudio(ctx)
			return
		}
	}
}

func (s *session) drainAudio(ctx context.Context) {
	for {
		select {
		case chunk := <-s.audio:
			_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
		default:
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// partials and finals channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if s.expectedClose(err) {
				return
			}
			select {
			case s.errs <- fmt.Errorf("deepgram: read: %w", err):
			default:
			}
			return
		}

		t, ok := parseResponse(msg)
		if !ok {
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-s.done:
			}
		}
	}
}

// expectedClose reports whether a read error is the anticipated end of the
// stream: a normal server closure, or any close after the session was
// finalized or closed locally. Such errors are clean EOF, not failures.
func (s *session) expectedClose(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case <-s.closing:
		return true
	default:
	}
	return false
}

// parseResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (zero, false) for messages that should be ignored.
func parseResponse(data []byte) (asr.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return asr.Transcript{}, false
	}
	if resp.Type != "Results" {
		return asr.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return asr.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return asr.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Offset:     time.Duration(resp.Start * float64(time.Second)),
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}
