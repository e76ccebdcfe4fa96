package pipeline

import (
	"encoding/json"
	"time"
)

// State represents the pipeline state
type State int

const (
	// Idle means nothing has run yet
	Idle State = iota
	// Recording means audio is being captured
	Recording
	// Transcribing means the recording is with the ASR collaborator
	Transcribing
	// GeneratingReply means the transcript is with the LLM collaborator
	GeneratingReply
	// Synthesizing means the reply is being converted to speech
	Synthesizing
	// Playing means the reply is being played back
	Playing
	// Complete means the last run finished
	Complete
	// Failed means the last run stopped at an error
	Failed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Transcribing:
		return "Transcribing"
	case GeneratingReply:
		return "GeneratingReply"
	case Synthesizing:
		return "Synthesizing"
	case Playing:
		return "Playing"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether s ends a run
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

// Labeler returns the human-readable label for a state
type Labeler func(State) string

// DefaultLabel returns the English status label
func DefaultLabel(s State) string {
	switch s {
	case Idle:
		return "Ready"
	case Recording:
		return "Recording in progress..."
	case Transcribing:
		return "Calling ASR..."
	case GeneratingReply:
		return "Processing LLM..."
	case Synthesizing:
		return "Generating speech..."
	case Playing:
		return "Playing speech..."
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return s.String()
	}
}

// Status is delivered to observers after every transition
type Status struct {
	RunID string
	State State
	Label string
	Err   error
	Time  time.Time
}

// Observer receives status updates. Deliver is called from the goroutine
// that made the transition; an observer that owns UI state must hand the
// status over to its own goroutine instead of touching that state here.
type Observer interface {
	Deliver(status Status)
}

// ObserverFunc adapts a function to Observer. The function runs on the
// transitioning goroutine.
type ObserverFunc func(Status)

// Deliver calls f
func (f ObserverFunc) Deliver(status Status) {
	f(status)
}

// ChannelObserver queues statuses on a buffered channel for a consumer
// goroutine. Deliver never blocks: when the buffer is full the oldest queued
// status is dropped, so the consumer always receives the latest one. Deliver
// runs under the orchestrator's notify lock, and the tray calls back into the
// orchestrator from the goroutine that drains this channel.
type ChannelObserver struct {
	ch chan Status
}

// NewChannelObserver creates a ChannelObserver with the given buffer size
func NewChannelObserver(size int) *ChannelObserver {
	if size < 1 {
		size = 1
	}
	return &ChannelObserver{ch: make(chan Status, size)}
}

// Deliver queues status, dropping the oldest queued status if needed
func (c *ChannelObserver) Deliver(status Status) {
	for {
		select {
		case c.ch <- status:
			return
		default:
		}

		select {
		case <-c.ch:
		default:
		}
	}
}

// C returns the channel to drain
func (c *ChannelObserver) C() <-chan Status {
	return c.ch
}
