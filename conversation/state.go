package conversation

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a session is asked to move between
// states that are not connected in the lifecycle.
var ErrIllegalTransition = errors.New("illegal state transition")

// State is a session lifecycle state.
type State int32

const (
	// StateIdle: registered, no audio or utterance received yet.
	StateIdle State = iota
	// StateStreaming: accumulating audio, or waiting for the next utterance.
	StateStreaming
	// StateRecognizing: a flushed buffer is with the recognizer.
	StateRecognizing
	// StateQuerying: retrieving context and generating the reply.
	StateQuerying
	// StateResponding: recording the reply and synthesizing speech.
	StateResponding
	// StateTerminated: released. Absorbing.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateRecognizing:
		return "recognizing"
	case StateQuerying:
		return "querying"
	case StateResponding:
		return "responding"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transitions lists the legal successors of each state. Text utterances
// enter Querying directly from Idle or Streaming.
var transitions = map[State][]State{
	StateIdle:        {StateStreaming, StateQuerying, StateTerminated},
	StateStreaming:   {StateRecognizing, StateQuerying, StateTerminated},
	StateRecognizing: {StateQuerying, StateStreaming, StateTerminated},
	StateQuerying:    {StateResponding, StateTerminated},
	StateResponding:  {StateStreaming, StateTerminated},
	StateTerminated:  nil,
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
