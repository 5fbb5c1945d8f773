// Package typing carries transcript text into the focused window. It owns
// the typing command vocabulary, the ordered command queue between the
// transcript side and the keystroke side, and the injector goroutine that
// executes commands against an input.Platform.
package typing

import "fmt"

// Kind discriminates the command union.
type Kind int

const (
	// KindTypeWord appends one word to the target window.
	KindTypeWord Kind = iota

	// KindCorrection rewrites the tail of previously typed text.
	KindCorrection
)

func (k Kind) String() string {
	switch k {
	case KindTypeWord:
		return "type_word"
	case KindCorrection:
		return "correction"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one unit of typing work. Exactly one payload is meaningful
// depending on Kind.
type Command struct {
	Kind Kind

	// Word is the text to append for KindTypeWord. It carries no separating
	// whitespace; the injector decides spacing.
	Word string

	// Correction is the tail rewrite for KindCorrection.
	Correction Correction
}

// Correction describes a rewrite of already-typed text: delete DeleteChars
// characters starting at Position (counted from the start of the typed
// transcript), then type NewText in their place.
type Correction struct {
	Position    int
	DeleteChars int
	NewText     string
}

// TypeWord builds an append command.
func TypeWord(word string) Command {
	return Command{Kind: KindTypeWord, Word: word}
}

// Correct builds a tail-rewrite command.
func Correct(position, deleteChars int, newText string) Command {
	return Command{Kind: KindCorrection, Correction: Correction{
		Position:    position,
		DeleteChars: deleteChars,
		NewText:     newText,
	}}
}
