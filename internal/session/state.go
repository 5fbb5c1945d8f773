// Package session orchestrates one dictation pipeline: capture, voice
// activity, speech recognition, transcript synchronisation, and keystroke
// injection. The Orchestrator owns the state machine; the streaming link
// bridges live audio chunks to a streaming ASR session.
package session

import "fmt"

// State is the orchestrator's lifecycle state. Exactly one is active at a
// time.
type State int

const (
	// StateIdle means the pipeline is constructed but the device is not
	// open.
	StateIdle State = iota

	// StateReady means the device is open and a session can start.
	StateReady

	// StateRecording means a batch session is buffering audio.
	StateRecording

	// StateStreaming means a live session is forwarding chunks to the ASR
	// provider and typing results.
	StateStreaming

	// StateTranscribing means a finished batch recording is at the ASR
	// provider.
	StateTranscribing

	// StateEnhancing means the batch transcript is at the LLM cleanup pass.
	StateEnhancing

	// StateInjecting means queued commands are being typed.
	StateInjecting

	// StateError means the session failed; Reset returns to Ready.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StateStreaming:
		return "streaming"
	case StateTranscribing:
		return "transcribing"
	case StateEnhancing:
		return "enhancing"
	case StateInjecting:
		return "injecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateListener observes every transition. Called synchronously under the
// orchestrator's lock; implementations must not call back into the
// orchestrator.
type StateListener func(from, to State)
