package core

// StreamEventType discriminates events on a streamed execution.
type StreamEventType string

const (
	// StreamEventMessage carries a partial assistant content chunk.
	StreamEventMessage StreamEventType = "message"
	// StreamEventComplete terminates a successful stream.
	StreamEventComplete StreamEventType = "complete"
	// StreamEventError terminates a failed stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one element of the finite, non-restartable event sequence
// produced by a streamed execution. The transport encodes each event as one
// JSON object on the wire. Exactly one terminal event (complete or error)
// ends every stream.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsTerminal reports whether this event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventComplete || e.Type == StreamEventError
}
