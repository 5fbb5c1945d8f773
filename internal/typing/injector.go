package typing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zordhalo/lisper-flow/internal/observe"
	"github.com/zordhalo/lisper-flow/pkg/provider/input"
)

// TailTolerance is the number of characters by which a correction's range
// end may miss the typed-character count and still be executed. Corrections
// further from the tail are dropped; window and transcript can then diverge
// by at most this many characters until the next snapshot reconciles them.
const TailTolerance = 2

// ErrAlreadyRunning is returned by Start while a previous run is active.
var ErrAlreadyRunning = errors.New("typing: injector already running")

// InjectorConfig holds the injector's pacing and focus-retry parameters.
// Zero values select defaults.
type InjectorConfig struct {
	// FocusRetries is the number of focus-request attempts before a command
	// is dropped. Default 10.
	FocusRetries int

	// FocusRetryDelay is the pause between focus attempts. Default 100 ms.
	FocusRetryDelay time.Duration

	// InterCommand is the pause after each executed command. Default 25 ms.
	InterCommand time.Duration

	// InterKey is the pause between backspace keystrokes so the OS does not
	// coalesce them. Default 5 ms.
	InterKey time.Duration
}

func (c InjectorConfig) withDefaults() InjectorConfig {
	if c.FocusRetries == 0 {
		c.FocusRetries = 10
	}
	if c.FocusRetryDelay == 0 {
		c.FocusRetryDelay = 100 * time.Millisecond
	}
	if c.InterCommand == 0 {
		c.InterCommand = 25 * time.Millisecond
	}
	if c.InterKey == 0 {
		c.InterKey = 5 * time.Millisecond
	}
	return c
}

// Injector executes typing commands against an input.Platform. One goroutine
// dequeues and performs all keystroke synthesis; typed-count and last-char
// state live only on that goroutine.
type Injector struct {
	cfg      InjectorConfig
	platform input.Platform
	queue    *Queue
	metrics  *observe.Metrics
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewInjector creates an injector over the given platform and queue. metrics
// may be nil for the package-level default instruments; logger may be nil for
// slog.Default.
func NewInjector(cfg InjectorConfig, platform input.Platform, queue *Queue,
	metrics *observe.Metrics, logger *slog.Logger) *Injector {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		cfg:      cfg.withDefaults(),
		platform: platform,
		queue:    queue,
		metrics:  metrics,
		log:      logger,
	}
}

// Start launches the injection loop targeting the given window. The loop
// runs until Stop, context cancellation, or queue completion.
func (inj *Injector) Start(ctx context.Context, target input.WindowHandle) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	inj.cancel = cancel
	inj.done = make(chan struct{})
	inj.running = true

	go inj.run(runCtx, target, inj.done)
	return nil
}

// Stop cancels the injection loop and waits for it to exit. Safe to call
// when not running.
func (inj *Injector) Stop() {
	inj.mu.Lock()
	cancel := inj.cancel
	done := inj.done
	inj.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the injection loop exits (queue completion, Stop, or
// context cancellation). Returns immediately when not running.
func (inj *Injector) Wait() {
	inj.mu.Lock()
	done := inj.done
	inj.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (inj *Injector) run(ctx context.Context, target input.WindowHandle, done chan struct{}) {
	defer func() {
		inj.mu.Lock()
		inj.running = false
		inj.cancel = nil
		inj.mu.Unlock()
		close(done)
	}()

	// Window-content tracking, owned by this goroutine only.
	typed := 0
	var lastChar rune

	for {
		cmd, err := inj.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueComplete) {
				inj.log.Debug("typing: command stream complete")
			}
			return
		}

		if !inj.ensureFocus(ctx, target) {
			if ctx.Err() != nil {
				return
			}
			inj.log.Warn("typing: dropping command, focus not regained",
				"kind", cmd.Kind.String())
			inj.metrics.RecordCommand(ctx, cmd.Kind.String(), "dropped")
			continue
		}

		start := time.Now()
		executed := true
		switch cmd.Kind {
		case KindTypeWord:
			typed, lastChar = inj.typeWord(target, cmd.Word, typed, lastChar)
		case KindCorrection:
			typed, lastChar, executed = inj.correct(cmd.Correction, typed, lastChar)
		}
		if executed {
			inj.metrics.RecordCommand(ctx, cmd.Kind.String(), "executed")
			inj.metrics.InjectionDuration.Record(ctx, time.Since(start).Seconds())
		} else {
			inj.metrics.RecordCommand(ctx, cmd.Kind.String(), "dropped")
		}

		select {
		case <-time.After(inj.cfg.InterCommand):
		case <-ctx.Done():
			return
		}
	}
}

// ensureFocus confirms the target window has keyboard focus, requesting it
// with bounded retries when it does not. Returns false when focus could not
// be obtained or the context was cancelled.
func (inj *Injector) ensureFocus(ctx context.Context, target input.WindowHandle) bool {
	fg, err := inj.platform.ForegroundWindow()
	if err == nil && fg == target {
		return true
	}

	for attempt := 0; attempt < inj.cfg.FocusRetries; attempt++ {
		inj.metrics.FocusRetries.Add(ctx, 1)
		if err := inj.platform.FocusWindow(target); err != nil {
			inj.log.Debug("typing: focus request failed", "attempt", attempt+1, "err", err)
		}
		select {
		case <-time.After(inj.cfg.FocusRetryDelay):
		case <-ctx.Done():
			return false
		}
		fg, err := inj.platform.ForegroundWindow()
		if err == nil && fg == target {
			return true
		}
	}
	return false
}

// typeWord delivers one word, prefixed with a separating space when needed,
// and retries an undelivered suffix once after re-confirming focus.
func (inj *Injector) typeWord(target input.WindowHandle, word string, typed int, lastChar rune) (int, rune) {
	if word == "" {
		return typed, lastChar
	}

	text := word
	if needSeparator(typed, lastChar, word) {
		text = " " + word
	}

	delivered, err := inj.platform.SendText(text)
	typed += delivered
	if delivered > 0 {
		lastChar = lastDeliveredRune(text, delivered)
	}

	runes := []rune(text)
	if delivered < len(runes) {
		inj.log.Warn("typing: partial delivery, retrying suffix",
			"wanted", len(runes), "delivered", delivered, "err", err)
		fg, ferr := inj.platform.ForegroundWindow()
		if ferr != nil || fg != target {
			inj.log.Warn("typing: focus lost mid-word, abandoning suffix")
			return typed, lastChar
		}
		suffix := string(runes[delivered:])
		more, err := inj.platform.SendText(suffix)
		typed += more
		if more > 0 {
			lastChar = lastDeliveredRune(suffix, more)
		}
		if more < len(runes)-delivered {
			inj.log.Warn("typing: suffix retry incomplete, abandoning",
				"remaining", len(runes)-delivered-more, "err", err)
		}
	}
	return typed, lastChar
}

// correct executes a tail rewrite: one backspace per deleted character, then
// the replacement text. Corrections whose range end misses the typed count
// by more than TailTolerance are dropped without logging; they refer to text
// the injector never delivered. The third result reports whether the command
// was executed.
func (inj *Injector) correct(c Correction, typed int, lastChar rune) (int, rune, bool) {
	end := c.Position + c.DeleteChars
	gap := typed - end
	if gap < -TailTolerance || gap > TailTolerance {
		return typed, lastChar, false
	}

	n := c.DeleteChars
	if n > typed {
		n = typed
	}
	if n > 0 {
		if err := inj.platform.SendBackspaces(n, inj.cfg.InterKey); err != nil {
			inj.log.Warn("typing: backspace burst failed", "count", n, "err", err)
			return typed, lastChar, false
		}
		typed -= n
		lastChar = 0 // unknown after deletion; treat next word as needing a space
	}

	if c.NewText != "" {
		delivered, err := inj.platform.SendText(c.NewText)
		typed += delivered
		if delivered > 0 {
			lastChar = lastDeliveredRune(c.NewText, delivered)
		}
		if delivered < utf8.RuneCountInString(c.NewText) {
			inj.log.Warn("typing: correction text partially delivered",
				"wanted", utf8.RuneCountInString(c.NewText), "delivered", delivered, "err", err)
		}
	}
	return typed, lastChar, true
}

// needSeparator decides whether a space must precede word: never at buffer
// start, never before leading punctuation, never after trailing whitespace.
func needSeparator(typed int, lastChar rune, word string) bool {
	if typed == 0 {
		return false
	}
	if lastChar != 0 && unicode.IsSpace(lastChar) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	if unicode.IsPunct(first) {
		return false
	}
	return true
}

// lastDeliveredRune returns the final rune among the first delivered runes
// of text.
func lastDeliveredRune(text string, delivered int) rune {
	runes := []rune(text)
	if delivered > len(runes) {
		delivered = len(runes)
	}
	if delivered == 0 {
		return 0
	}
	return runes[delivered-1]
}
