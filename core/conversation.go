package core

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleHuman marks messages sent by the client.
	RoleHuman Role = "human"
	// RoleAssistant marks messages produced by the agent.
	RoleAssistant Role = "assistant"
)

// Message is the single canonical history record: role, content, timestamp.
// Provider-specific representations are the agent factory's concern.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a message-history-bearing execution context bound to one
// configuration. Deleting a conversation never affects the shared agent
// instance or other conversations using the same configuration.
type Conversation struct {
	SessionID string    `json:"session_id"`
	ConfigID  string    `json:"config_id"`
	Messages  []Message `json:"message_history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	copy(clone.Messages, c.Messages)
	return &clone
}

// ConversationStore persists conversations and their append-only message
// history. Appends must be atomic per session: message order equals append
// call order, with no interleaving or deduplication.
type ConversationStore interface {
	// Create starts a conversation referencing an existing active
	// configuration. If sessionID is empty a fresh one is generated; a
	// client-supplied id that is already in use fails with ErrConflict.
	// An unknown or deactivated configID fails with ErrNotFound and creates
	// no record.
	Create(configID, sessionID string) (*Conversation, error)

	// Get returns a snapshot of the conversation or ErrNotFound.
	Get(sessionID string) (*Conversation, error)

	// AppendMessage atomically appends one message with the current
	// timestamp and bumps UpdatedAt. Returns ErrNotFound if the session is
	// absent.
	AppendMessage(sessionID string, role Role, content string) (Message, error)

	// List returns conversations ordered by creation time descending. A
	// non-empty configID restricts the result to that configuration.
	List(configID string) ([]*Conversation, error)

	// Delete removes the conversation. Returns ErrNotFound if absent.
	Delete(sessionID string) error

	// Count returns the number of live conversations.
	Count() int
}
