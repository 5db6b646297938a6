// Package coordinator orchestrates the conversation lifecycle: it resolves a
// conversation's configuration to a pooled agent instance, appends the
// exchange to the conversation store and drives sync or streamed execution.
package coordinator

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/logging"
	"github.com/hupe1980/agentdock/pool"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// StreamBufferSize sets channel buffering for streamed events.
	StreamBufferSize int
	// Logger receives coordinator logs.
	Logger logging.Logger
}

// Coordinator ties the stores and the instance pool together. Public methods
// are safe for concurrent use; per-session history atomicity is the
// conversation store's responsibility.
type Coordinator struct {
	configs       core.ConfigurationStore
	conversations core.ConversationStore
	pool          *pool.Pool

	streamBufferSize int
	logger           logging.Logger
}

// New constructs a Coordinator with optional overrides.
func New(configs core.ConfigurationStore, conversations core.ConversationStore, p *pool.Pool, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		StreamBufferSize: 32,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		configs:          configs,
		conversations:    conversations,
		pool:             p,
		streamBufferSize: opts.StreamBufferSize,
		logger:           opts.Logger,
	}
}

// Start creates a conversation bound to an active configuration. sessionID
// may be empty to have one generated. Unknown or deactivated configurations
// fail with core.ErrNotFound and create no record.
func (c *Coordinator) Start(configID, sessionID string) (*core.Conversation, error) {
	if _, err := c.configs.Get(configID); err != nil {
		return nil, err
	}
	conv, err := c.conversations.Create(configID, sessionID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("conversation started", "session_id", conv.SessionID, "config_id", configID)
	return conv, nil
}

// DeactivateConfiguration soft-deletes the configuration and invalidates its
// pool entry so no new execution binds to the stale instance. An in-flight
// execution finishes on the old instance before it is destroyed.
func (c *Coordinator) DeactivateConfiguration(configID string) error {
	if err := c.configs.Deactivate(configID); err != nil {
		return err
	}
	c.pool.Invalidate(configID)
	return nil
}

// Execute runs one synchronous exchange: append the human message, invoke
// the shared instance with the full history, append and return the
// assistant reply. The instance is released on every exit path.
func (c *Coordinator) Execute(ctx context.Context, sessionID, message string) (string, error) {
	conv, handle, err := c.prepare(ctx, sessionID, message)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	history := append(conv.Messages, core.Message{Role: core.RoleHuman, Content: message})
	reply, err := handle.Instance().Invoke(ctx, history)
	if err != nil {
		return "", &core.ExecutionError{SessionID: sessionID, Err: err}
	}

	if _, err := c.conversations.AppendMessage(sessionID, core.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("failed to append assistant message: %w", err)
	}
	return reply, nil
}

// ExecuteStream runs one streamed exchange. It returns a finite,
// non-restartable sequence of events: zero or more message chunks followed
// by exactly one terminal complete or error event, after which the channel
// is closed. Cancelling ctx stops the stream; the release path always runs.
// Partial assistant content already appended on failure or cancellation is
// not rolled back.
func (c *Coordinator) ExecuteStream(ctx context.Context, sessionID, message string) (<-chan core.StreamEvent, error) {
	conv, handle, err := c.prepare(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	history := append(conv.Messages, core.Message{Role: core.RoleHuman, Content: message})
	events := make(chan core.StreamEvent, c.streamBufferSize)

	go func() {
		defer close(events)
		defer handle.Release()

		chunks, errs := handle.Instance().InvokeStream(ctx, history)

		var assistant string
		terminal := core.StreamEvent{Type: core.StreamEventComplete, SessionID: sessionID}

		// Chunks are drained to completion before the error channel is
		// consulted: the producer buffers its terminal error before closing
		// both channels, so reading errs early could discard trailing
		// content the producer already emitted.
	drain:
		for {
			select {
			case <-ctx.Done():
				terminal = core.StreamEvent{Type: core.StreamEventError, SessionID: sessionID, Error: ctx.Err().Error()}
				break drain
			case chunk, ok := <-chunks:
				if !ok {
					if err := <-errs; err != nil {
						terminal = core.StreamEvent{Type: core.StreamEventError, SessionID: sessionID, Error: err.Error()}
					}
					break drain
				}
				assistant += chunk
				select {
				case events <- core.StreamEvent{Type: core.StreamEventMessage, Content: chunk}:
				case <-ctx.Done():
					terminal = core.StreamEvent{Type: core.StreamEventError, SessionID: sessionID, Error: ctx.Err().Error()}
					break drain
				}
			}
		}

		if assistant != "" {
			if _, err := c.conversations.AppendMessage(sessionID, core.RoleAssistant, assistant); err != nil {
				c.logger.Error("failed to append streamed assistant message", "session_id", sessionID, "error", err)
			}
		}

		select {
		case events <- terminal:
		default:
			// Consumer gone and buffer full; the stream is already dead.
		}
	}()

	return events, nil
}

// History returns the conversation's message history in append order.
func (c *Coordinator) History(sessionID string) ([]core.Message, error) {
	conv, err := c.conversations.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// Get returns a snapshot of the conversation.
func (c *Coordinator) Get(sessionID string) (*core.Conversation, error) {
	return c.conversations.Get(sessionID)
}

// List returns conversation snapshots, optionally restricted to one
// configuration.
func (c *Coordinator) List(configID string) ([]*core.Conversation, error) {
	return c.conversations.List(configID)
}

// ConversationCount reports the number of live conversations for health
// reporting.
func (c *Coordinator) ConversationCount() int {
	return c.conversations.Count()
}

// Delete removes the conversation, leaving the shared instance untouched.
func (c *Coordinator) Delete(sessionID string) error {
	return c.conversations.Delete(sessionID)
}

// prepare performs the shared prologue of both execution modes: load the
// conversation, re-check its configuration is still active, acquire the
// pooled instance and append the human message. On any failure after a
// successful acquire the handle is released before returning.
func (c *Coordinator) prepare(ctx context.Context, sessionID, message string) (*core.Conversation, *pool.Handle, error) {
	conv, err := c.conversations.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := c.configs.Get(conv.ConfigID)
	if err != nil {
		return nil, nil, err
	}

	handle, err := c.pool.Acquire(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if _, err := c.conversations.AppendMessage(sessionID, core.RoleHuman, message); err != nil {
		handle.Release()
		return nil, nil, fmt.Errorf("failed to append human message: %w", err)
	}

	return conv, handle, nil
}
