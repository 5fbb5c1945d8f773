// Package mock provides a test double for the input.Platform boundary.
//
// Platform records every call and lets tests script focus behaviour and
// partial text delivery. The Typed method reconstructs the text a real OS
// window would contain after the recorded SendText and SendBackspaces calls.
package mock

import (
	"sync"
	"time"

	"github.com/zordhalo/lisper-flow/pkg/provider/input"
)

// SendTextCall records a single invocation of Platform.SendText.
type SendTextCall struct {
	// Text is the text passed to SendText.
	Text string
	// Delivered is the character count SendText reported back.
	Delivered int
}

// SendBackspacesCall records a single invocation of Platform.SendBackspaces.
type SendBackspacesCall struct {
	N     int
	Delay time.Duration
}

// Platform is a mock implementation of input.Platform.
type Platform struct {
	mu sync.Mutex

	// Foreground is the handle returned by ForegroundWindow.
	Foreground input.WindowHandle

	// ForegroundErr, if non-nil, is returned by ForegroundWindow.
	ForegroundErr error

	// FocusErr, if non-nil, is returned by every FocusWindow call.
	FocusErr error

	// FocusGrants makes FocusWindow set Foreground to the requested handle
	// when true, simulating an OS that honours the focus request.
	FocusGrants bool

	// ShortDeliver, when > 0, caps the delivered count of the next SendText
	// call at that many characters and then clears itself. Used to script a
	// single partial delivery.
	ShortDeliver int

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// SendBackspacesErr, if non-nil, is returned by every SendBackspaces call.
	SendBackspacesErr error

	// --- Call records ---

	SendTextCalls       []SendTextCall
	SendBackspacesCalls []SendBackspacesCall
	FocusWindowCalls    []input.WindowHandle

	// buffer is the reconstructed window content.
	buffer []rune
}

var _ input.Platform = (*Platform)(nil)

// ForegroundWindow returns Foreground, ForegroundErr.
func (p *Platform) ForegroundWindow() (input.WindowHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ForegroundErr != nil {
		return 0, p.ForegroundErr
	}
	return p.Foreground, nil
}

// FocusWindow records the call. When FocusGrants is set the mock behaves as
// if the OS honoured the request.
func (p *Platform) FocusWindow(w input.WindowHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FocusWindowCalls = append(p.FocusWindowCalls, w)
	if p.FocusErr != nil {
		return p.FocusErr
	}
	if p.FocusGrants {
		p.Foreground = w
	}
	return nil
}

// SendText records the call, applies it to the reconstructed buffer, and
// returns the delivered count (possibly shortened by ShortDeliver).
func (p *Platform) SendText(text string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendTextErr != nil {
		p.SendTextCalls = append(p.SendTextCalls, SendTextCall{Text: text})
		return 0, p.SendTextErr
	}
	runes := []rune(text)
	delivered := len(runes)
	if p.ShortDeliver > 0 && p.ShortDeliver < delivered {
		delivered = p.ShortDeliver
		p.ShortDeliver = 0
	}
	p.buffer = append(p.buffer, runes[:delivered]...)
	p.SendTextCalls = append(p.SendTextCalls, SendTextCall{Text: text, Delivered: delivered})
	return delivered, nil
}

// SendBackspaces records the call and removes characters from the
// reconstructed buffer.
func (p *Platform) SendBackspaces(n int, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendBackspacesCalls = append(p.SendBackspacesCalls, SendBackspacesCall{N: n, Delay: delay})
	if p.SendBackspacesErr != nil {
		return p.SendBackspacesErr
	}
	if n > len(p.buffer) {
		n = len(p.buffer)
	}
	p.buffer = p.buffer[:len(p.buffer)-n]
	return nil
}

// Typed returns the reconstructed window content. Thread-safe.
func (p *Platform) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.buffer)
}

// ResetCalls clears all recorded calls and the reconstructed buffer.
func (p *Platform) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendTextCalls = nil
	p.SendBackspacesCalls = nil
	p.FocusWindowCalls = nil
	p.buffer = nil
	p.ShortDeliver = 0
}
