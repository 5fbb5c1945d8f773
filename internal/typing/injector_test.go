package typing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zordhalo/lisper-flow/internal/observe"
	"github.com/zordhalo/lisper-flow/internal/typing"
	"github.com/zordhalo/lisper-flow/pkg/provider/input"
	inputmock "github.com/zordhalo/lisper-flow/pkg/provider/input/mock"
)

const target input.WindowHandle = 42

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInjector(p *inputmock.Platform) (*typing.Injector, *typing.Queue) {
	q := typing.NewQueue()
	cfg := typing.InjectorConfig{
		FocusRetries:    2,
		FocusRetryDelay: time.Millisecond,
		InterCommand:    time.Millisecond,
		InterKey:        time.Millisecond,
	}
	return typing.NewInjector(cfg, p, q, nil, quietLogger()), q
}

// drain starts the injector against an already-completed queue and waits for
// the loop to exit.
func drain(t *testing.T, inj *typing.Injector) {
	t.Helper()
	if err := inj.Start(context.Background(), target); err != nil {
		t.Fatalf("Start: %v", err)
	}
	inj.Wait()
}

func TestInjector_TypesWordsWithSpacing(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.TypeWord("world"))
	q.Enqueue(typing.TypeWord("."))
	q.Complete()
	drain(t, inj)

	// No space at the start, single spaces between words, none before
	// punctuation.
	if got := p.Typed(); got != "hello world." {
		t.Errorf("typed %q, want %q", got, "hello world.")
	}
}

func TestInjector_ZeroDeleteCorrectionExtendsWord(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.TypeWord("wor"))
	q.Enqueue(typing.Correct(9, 0, "ld"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "hello world" {
		t.Errorf("typed %q, want %q", got, "hello world")
	}
	if len(p.SendBackspacesCalls) != 0 {
		t.Errorf("zero-delete correction sent %d backspace bursts", len(p.SendBackspacesCalls))
	}
}

func TestInjector_CorrectionRewritesTail(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.TypeWord("whirled"))
	q.Enqueue(typing.Correct(6, 7, "world"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "hello world" {
		t.Errorf("typed %q, want %q", got, "hello world")
	}
	if len(p.SendBackspacesCalls) != 1 || p.SendBackspacesCalls[0].N != 7 {
		t.Errorf("backspace calls = %+v, want one burst of 7", p.SendBackspacesCalls)
	}
}

func TestInjector_DropsCorrectionsBeyondTailWindow(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.TypeWord("world"))
	// Rewrites the first character; its range end is 10 characters short of
	// the typed count, far outside the tail window.
	q.Enqueue(typing.Correct(0, 1, "J"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "hello world" {
		t.Errorf("typed %q, want text untouched by the dropped correction", got)
	}
	if len(p.SendBackspacesCalls) != 0 {
		t.Errorf("dropped correction still sent backspaces: %+v", p.SendBackspacesCalls)
	}
}

func TestInjector_ExecutesCorrectionAtToleranceEdge(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.TypeWord("world"))
	// Range end 9, typed count 11: the gap equals the tolerance exactly.
	q.Enqueue(typing.Correct(4, 5, "X"))
	q.Complete()
	drain(t, inj)

	if len(p.SendBackspacesCalls) != 1 {
		t.Fatalf("correction at tolerance edge was not executed")
	}
	if p.SendBackspacesCalls[0].N != 5 {
		t.Errorf("backspace count = %d, want 5", p.SendBackspacesCalls[0].N)
	}
	// The deletion is taken from the tail, so two characters of drift shift
	// the rewrite by two; the replacement still lands at the window's end.
	if got := p.Typed(); got != "hello X" {
		t.Errorf("typed %q, want %q", got, "hello X")
	}
}

func TestInjector_RegainsFocusBeforeTyping(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: 7, FocusGrants: true}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("hello"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "hello" {
		t.Errorf("typed %q, want hello after focus regained", got)
	}
	if len(p.FocusWindowCalls) == 0 {
		t.Error("no focus request was made")
	}
}

func TestInjector_DropsCommandWhenFocusNeverReturns(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: 7} // FocusGrants stays false
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("lost"))
	q.Enqueue(typing.TypeWord("also-lost"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "" {
		t.Errorf("typed %q, want nothing without focus", got)
	}
	// Two commands, two retry rounds each.
	if got := len(p.FocusWindowCalls); got != 4 {
		t.Errorf("focus requests = %d, want 4", got)
	}
}

func TestInjector_RetriesUndeliveredSuffixOnce(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target, ShortDeliver: 3}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("abcdef"))
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "abcdef" {
		t.Errorf("typed %q, want full word after suffix retry", got)
	}
	if len(p.SendTextCalls) != 2 {
		t.Fatalf("SendText calls = %d, want 2 (initial plus suffix)", len(p.SendTextCalls))
	}
	if p.SendTextCalls[1].Text != "def" {
		t.Errorf("suffix retry sent %q, want %q", p.SendTextCalls[1].Text, "def")
	}
}

func TestInjector_StartWhileRunningFails(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	if err := inj.Start(context.Background(), target); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inj.Start(context.Background(), target); !errors.Is(err, typing.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	inj.Stop()
	q.Reset()
	if err := inj.Start(context.Background(), target); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
	inj.Stop()
}

func TestInjector_StopWithoutStartIsSafe(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, _ := newTestInjector(p)
	inj.Stop()
	inj.Wait()
}

func TestInjector_RecordsCommandMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &inputmock.Platform{Foreground: target}
	q := typing.NewQueue()
	inj := typing.NewInjector(typing.InjectorConfig{
		FocusRetries:    1,
		FocusRetryDelay: time.Millisecond,
		InterCommand:    time.Millisecond,
		InterKey:        time.Millisecond,
	}, p, q, metrics, quietLogger())

	q.Enqueue(typing.TypeWord("hello"))
	q.Enqueue(typing.Correct(0, 1, "J")) // far outside the tail window
	q.Complete()
	drain(t, inj)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var commands int64
	var sawLatency bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "lisperflow.typing.commands":
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						commands += dp.Value
					}
				}
			case "lisperflow.injection.duration":
				sawLatency = true
			}
		}
	}
	// One executed word plus one dropped correction.
	if commands != 2 {
		t.Errorf("command counter total = %d, want 2", commands)
	}
	if !sawLatency {
		t.Error("injection latency histogram was never recorded")
	}
}

func TestInjector_ClearedQueueTypesNothingFurther(t *testing.T) {
	t.Parallel()
	p := &inputmock.Platform{Foreground: target}
	inj, q := newTestInjector(p)

	q.Enqueue(typing.TypeWord("never"))
	q.Enqueue(typing.TypeWord("typed"))
	q.Clear()
	q.Complete()
	drain(t, inj)

	if got := p.Typed(); got != "" {
		t.Errorf("typed %q, want nothing after Clear", got)
	}
}
