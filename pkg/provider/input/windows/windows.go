//go:build windows

// Package windows implements the input.Platform boundary on top of the
// user32 SendInput API.
//
// Text is delivered as KEYEVENTF_UNICODE key events so arbitrary characters
// reach the focused window without a keyboard-layout round trip. Characters
// outside the BMP are sent as surrogate pairs.
package windows

import (
	"fmt"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/zordhalo/lisper-flow/pkg/provider/input"
)

var (
	user32            = windows.NewLazySystemDLL("user32.dll")
	procGetForeground = user32.NewProc("GetForegroundWindow")
	procSetForeground = user32.NewProc("SetForegroundWindow")
	procSendInput     = user32.NewProc("SendInput")
)

const (
	inputKeyboard = 1

	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004

	vkBack = 0x08
)

// keyboardInput mirrors the Win32 INPUT struct for INPUT_KEYBOARD. The
// padding matches the union size on 64-bit Windows.
type keyboardInput struct {
	inputType uint32
	_         uint32 // struct alignment
	wVk       uint16
	wScan     uint16
	dwFlags   uint32
	time      uint32
	extraInfo uintptr
	_         [8]byte // pad to the size of MOUSEINPUT
}

// Platform is the Windows input backend. The zero value is ready to use.
type Platform struct{}

// New returns a Windows input backend.
func New() *Platform { return &Platform{} }

var _ input.Platform = (*Platform)(nil)

// ForegroundWindow returns the window with keyboard focus.
func (p *Platform) ForegroundWindow() (input.WindowHandle, error) {
	h, _, _ := procGetForeground.Call()
	if h == 0 {
		return 0, input.ErrNoForeground
	}
	return input.WindowHandle(h), nil
}

// FocusWindow asks the OS to foreground w. Windows may refuse the request
// when the calling process is not allowed to steal focus.
func (p *Platform) FocusWindow(w input.WindowHandle) error {
	ok, _, _ := procSetForeground.Call(uintptr(w))
	if ok == 0 {
		return fmt.Errorf("input: SetForegroundWindow refused for handle %#x", uintptr(w))
	}
	return nil
}

// SendText delivers text as KEYEVENTF_UNICODE down/up pairs in one SendInput
// call and returns how many characters the OS accepted.
func (p *Platform) SendText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	units := utf16.Encode([]rune(text))
	events := make([]keyboardInput, 0, 2*len(units))
	for _, u := range units {
		events = append(events,
			keyboardInput{inputType: inputKeyboard, wScan: u, dwFlags: keyeventfUnicode},
			keyboardInput{inputType: inputKeyboard, wScan: u, dwFlags: keyeventfUnicode | keyeventfKeyUp},
		)
	}

	sent, _, err := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		unsafe.Sizeof(events[0]),
	)
	delivered := deliveredChars(units, int(sent))
	if int(sent) < len(events) {
		return delivered, fmt.Errorf("input: SendInput delivered %d of %d events: %w", sent, len(events), err)
	}
	return delivered, nil
}

// SendBackspaces issues n backspace key presses with delay between each.
func (p *Platform) SendBackspaces(n int, delay time.Duration) error {
	for i := 0; i < n; i++ {
		events := []keyboardInput{
			{inputType: inputKeyboard, wVk: vkBack},
			{inputType: inputKeyboard, wVk: vkBack, dwFlags: keyeventfKeyUp},
		}
		sent, _, err := procSendInput.Call(
			uintptr(len(events)),
			uintptr(unsafe.Pointer(&events[0])),
			unsafe.Sizeof(events[0]),
		)
		if int(sent) < len(events) {
			return fmt.Errorf("input: backspace %d of %d failed: %w", i+1, n, err)
		}
		if delay > 0 && i < n-1 {
			time.Sleep(delay)
		}
	}
	return nil
}

// deliveredChars converts an accepted key-event count back into a character
// count. Each UTF-16 unit produces two events; a surrogate pair counts as
// one character and only when both halves made it through.
func deliveredChars(units []uint16, sentEvents int) int {
	fullUnits := sentEvents / 2
	if fullUnits > len(units) {
		fullUnits = len(units)
	}
	chars := 0
	for i := 0; i < fullUnits; {
		if utf16.IsSurrogate(rune(units[i])) {
			if i+1 >= fullUnits {
				break // pair split across the failure point
			}
			chars++
			i += 2
			continue
		}
		chars++
		i++
	}
	return chars
}
