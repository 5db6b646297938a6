// Package conversation provides the in-memory ConversationStore
// implementation satisfying the persistence collaborator contract.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/internal/util"
)

// InMemoryStore is a volatile core.ConversationStore keeping conversations
// in a process-local map. Appends are atomic per session: the store lock
// serializes them, so history order equals append call order. Reads return
// deep copies to prevent external mutation of stored history.
type InMemoryStore struct {
	configs core.ConfigurationStore

	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

// NewInMemoryStore constructs an empty store. Creating a conversation
// validates its config_id against the given configuration store.
func NewInMemoryStore(configs core.ConfigurationStore) *InMemoryStore {
	return &InMemoryStore{
		configs:       configs,
		conversations: make(map[string]*core.Conversation),
	}
}

// Create starts a conversation bound to an active configuration.
func (s *InMemoryStore) Create(configID, sessionID string) (*core.Conversation, error) {
	if _, err := s.configs.Get(configID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		sessionID = util.NewID()
	} else if _, exists := s.conversations[sessionID]; exists {
		return nil, core.ErrConflict
	}

	now := time.Now().UTC()
	conv := &core.Conversation{
		SessionID: sessionID,
		ConfigID:  configID,
		Messages:  []core.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[sessionID] = conv

	return conv.Clone(), nil
}

// Get returns a snapshot of the conversation or core.ErrNotFound.
func (s *InMemoryStore) Get(sessionID string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return conv.Clone(), nil
}

// AppendMessage appends one message with the current timestamp.
func (s *InMemoryStore) AppendMessage(sessionID string, role core.Role, content string) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return core.Message{}, core.ErrNotFound
	}
	now := time.Now().UTC()
	msg := core.Message{Role: role, Content: content, Timestamp: now}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	return msg, nil
}

// List returns conversations ordered by creation time descending, optionally
// restricted to one configuration.
func (s *InMemoryStore) List(configID string) ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*core.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if configID != "" && conv.ConfigID != configID {
			continue
		}
		result = append(result, conv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes the conversation. The shared agent instance and other
// conversations of the same configuration are unaffected.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[sessionID]; !ok {
		return core.ErrNotFound
	}
	delete(s.conversations, sessionID)
	return nil
}

// Count returns the number of live conversations.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
