// Package input defines the OS keyboard and window-focus boundary used by
// the typing injector.
//
// A Platform implementation can report which window currently has keyboard
// focus, request focus for a window, synthesise text as keystrokes into the
// focused window, and issue backspace bursts for corrections. Everything
// above this boundary is platform-independent; the concrete backends live in
// the windows and mock subpackages.
package input

import (
	"errors"
	"time"
)

// WindowHandle identifies one top-level OS window. The zero value means "no
// window".
type WindowHandle uintptr

// ErrNoForeground is returned by ForegroundWindow when the OS reports no
// focused window (secure desktop, screensaver).
var ErrNoForeground = errors.New("input: no foreground window")

// Platform is the OS keystroke and focus backend.
//
// SendText reports how many characters the OS accepted, which may be fewer
// than requested; the caller decides whether to retry the undelivered
// suffix. Implementations need not be safe for concurrent use: the injector
// drives a Platform from a single goroutine.
type Platform interface {
	// ForegroundWindow returns the window that currently has keyboard focus.
	ForegroundWindow() (WindowHandle, error)

	// FocusWindow asks the OS to give keyboard focus to w. The OS may refuse;
	// callers should re-check ForegroundWindow afterwards.
	FocusWindow(w WindowHandle) error

	// SendText synthesises text as keystrokes into the focused window and
	// returns the number of characters actually delivered.
	SendText(text string) (int, error)

	// SendBackspaces issues n backspace keystrokes with delay between each.
	SendBackspaces(n int, delay time.Duration) error
}
