// Package textsync turns a stream of revisable transcript snapshots into
// incremental typing commands.
//
// ASR partials are not monotonic: a later snapshot may rewrite or drop words
// an earlier one contained. The Synchronizer diffs each snapshot against the
// previous one at character level (longest common prefix, then longest
// common suffix over the remainder) and emits either append commands for
// pure extensions or a single tail correction for rewrites. Replaying the
// emitted commands against an empty buffer reconstructs the latest snapshot,
// modulo the single spaces the injector inserts between appended words.
// Corrections always cover the changed tail of the transcript; the injector
// executes only those whose range end lies within typing.TailTolerance of
// the typed-character count.
package textsync

import (
	"strings"
	"unicode"

	"github.com/zordhalo/lisper-flow/internal/typing"
)

// Synchronizer converts transcript snapshots into typing commands. Not safe
// for concurrent use; the streaming link calls it from one goroutine.
//
// Correction positions are absolute within the whole dictation session:
// after each finalized segment the committed length (plus one joining space)
// is added to the base offset, keeping positions aligned with the injector's
// running typed-character count.
type Synchronizer struct {
	prev []rune
	base int
}

// New creates a Synchronizer with empty transcript memory.
func New() *Synchronizer {
	return &Synchronizer{}
}

// Sync diffs snapshot against the previous one and returns the commands
// that carry the typed text forward. A pure extension yields one TypeWord
// per whitespace-separated token; any rewrite yields a single Correction
// covering the changed tail.
func (s *Synchronizer) Sync(snapshot string) []typing.Command {
	next := []rune(snapshot)
	cmds := s.diff(s.prev, next)
	s.prev = next
	return cmds
}

// Finalize diffs the authoritative transcript against the remembered
// partial, resets transcript memory for the next segment, and returns the
// closing commands.
func (s *Synchronizer) Finalize(final string) []typing.Command {
	runes := []rune(final)
	cmds := s.diff(s.prev, runes)
	s.prev = nil
	if len(runes) > 0 {
		// The next segment is typed after a joining space.
		s.base += len(runes) + 1
	}
	return cmds
}

// Reset clears transcript memory and the committed base without emitting
// commands.
func (s *Synchronizer) Reset() {
	s.prev = nil
	s.base = 0
}

func (s *Synchronizer) diff(old, next []rune) []typing.Command {
	p := commonPrefix(old, next)
	x := commonSuffix(old[p:], next[p:])

	changedOut := old[p : len(old)-x]
	changedIn := next[p : len(next)-x]

	if len(changedOut) == 0 && len(changedIn) == 0 {
		return nil
	}

	// Word appends only apply to text added at the very end and starting on
	// a word boundary; the injector joins appended words with single spaces.
	// A mid-word extension ("wor" growing into "world") must go out as a
	// zero-delete correction so no separator is inserted.
	if len(changedOut) == 0 && x == 0 && wordBoundary(old, changedIn) {
		var cmds []typing.Command
		for _, word := range strings.Fields(string(changedIn)) {
			cmds = append(cmds, typing.TypeWord(word))
		}
		return cmds
	}

	// Corrections are anchored at the tail: the injector can only backspace
	// from the end of the window, so a retained common suffix is retyped
	// along with the changed text. The range end always equals the previous
	// transcript's length, which keeps the injector's tail-delete execution
	// exact.
	return []typing.Command{typing.Correct(s.base+p, len(old)-p, string(next[p:]))}
}

// wordBoundary reports whether appended text starts a new word: at the start
// of the transcript, after trailing whitespace, or with its own leading
// whitespace.
func wordBoundary(old, in []rune) bool {
	if len(old) == 0 {
		return true
	}
	if len(in) > 0 && unicode.IsSpace(in[0]) {
		return true
	}
	return unicode.IsSpace(old[len(old)-1])
}

// commonPrefix returns the length of the longest common prefix of a and b.
func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// commonSuffix returns the length of the longest common suffix of a and b.
// Callers pass the post-prefix remainders, which bounds prefix+suffix to the
// shorter input.
func commonSuffix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
