package core

import "context"

// AgentInstance is a constructed, ready-to-invoke agent: tools derived from
// the configuration's MCP servers plus a model bound with its system prompt
// and model settings. Instances are expensive to build and shared by every
// conversation of the same configuration; callers never inspect internals,
// they only invoke through this contract.
type AgentInstance interface {
	// Invoke runs one exchange against the full message history (the last
	// entry being the new human message) and returns the assistant reply.
	Invoke(ctx context.Context, history []Message) (string, error)

	// InvokeStream is the streaming variant: it emits partial assistant text
	// chunks on the returned channel and closes it when the reply is
	// complete. A terminal failure is delivered on the error channel. Both
	// channels are closed when the invocation ends; the producer observes
	// ctx cancellation between chunks.
	InvokeStream(ctx context.Context, history []Message) (<-chan string, <-chan error)
}

// AgentFactory is the collaborator that builds and destroys agent instances.
// The pool is its only caller: Construct runs under single-flight per
// configuration, Teardown runs when an entry is evicted or invalidated and
// its last holder has released.
type AgentFactory interface {
	// Construct builds an instance from an immutable configuration snapshot.
	// It must honor ctx cancellation (the pool bounds construction time).
	Construct(ctx context.Context, cfg *Configuration) (AgentInstance, error)

	// Teardown releases any process or connection resources the instance
	// holds, such as spawned MCP server subprocesses.
	Teardown(instance AgentInstance) error
}
