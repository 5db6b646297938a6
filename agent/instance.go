package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/logging"
	"github.com/hupe1980/agentdock/model"
)

// Instance is a constructed agent: a bound model plus the tools its MCP
// servers expose. Invocations are stateless with respect to the instance
// (history comes in per call), so one instance safely serves concurrent
// conversations.
type Instance struct {
	model         model.Model
	systemPrompt  string
	servers       []*mcpServer
	tools         map[string]*mcpTool
	maxToolRounds int
	logger        logging.Logger
}

var _ core.AgentInstance = (*Instance)(nil)

// Invoke runs the tool-call loop to completion and returns the final
// assistant text.
func (a *Instance) Invoke(ctx context.Context, history []core.Message) (string, error) {
	msgs := toModelMessages(history)

	for round := 0; round <= a.maxToolRounds; round++ {
		final, err := a.generate(ctx, msgs, nil)
		if err != nil {
			return "", err
		}
		if len(final.ToolCalls) == 0 {
			return final.Text, nil
		}
		msgs = a.runToolRound(ctx, msgs, final)
	}

	return "", fmt.Errorf("exceeded %d tool rounds without a final answer", a.maxToolRounds)
}

// InvokeStream runs the same loop but forwards partial text chunks. A
// terminal failure is buffered on the error channel before both channels
// close.
func (a *Instance) InvokeStream(ctx context.Context, history []core.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		msgs := toModelMessages(history)

		for round := 0; round <= a.maxToolRounds; round++ {
			streamed := false
			final, err := a.generate(ctx, msgs, func(delta string) bool {
				select {
				case <-ctx.Done():
					return false
				case chunks <- delta:
					streamed = true
					return true
				}
			})
			if err != nil {
				errs <- err
				return
			}
			if len(final.ToolCalls) == 0 {
				// Buffered providers emit no partials; surface the full
				// reply as a single chunk so the stream is never empty.
				if !streamed && final.Text != "" {
					select {
					case <-ctx.Done():
						errs <- ctx.Err()
					case chunks <- final.Text:
					}
				}
				return
			}
			msgs = a.runToolRound(ctx, msgs, final)
		}

		errs <- fmt.Errorf("exceeded %d tool rounds without a final answer", a.maxToolRounds)
	}()

	return chunks, errs
}

// generate runs one model call, invoking onDelta (when non-nil) for each
// partial text chunk, and returns the final response. onDelta returning
// false aborts with the context error.
func (a *Instance) generate(ctx context.Context, msgs []model.Message, onDelta func(delta string) bool) (*model.Response, error) {
	req := model.Request{
		System:   a.systemPrompt,
		Messages: msgs,
		Tools:    a.toolDefinitions(),
		Stream:   onDelta != nil,
	}

	out, errCh := a.model.Generate(ctx, req)

	var final *model.Response
	for resp := range out {
		if resp.Partial {
			if onDelta != nil && resp.Text != "" && !onDelta(resp.Text) {
				return nil, ctx.Err()
			}
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("model returned no final response")
	}
	return final, nil
}

// runToolRound appends the assistant turn with its tool calls and one tool
// message per call. Tool failures are reported back to the model as the tool
// result rather than aborting the invocation.
func (a *Instance) runToolRound(ctx context.Context, msgs []model.Message, final *model.Response) []model.Message {
	msgs = append(msgs, model.Message{
		Role:      "assistant",
		Text:      final.Text,
		ToolCalls: final.ToolCalls,
	})
	for _, tc := range final.ToolCalls {
		result := a.callTool(ctx, tc)
		msgs = append(msgs, model.Message{Role: "tool", ToolID: tc.ID, Text: result})
	}
	return msgs
}

func (a *Instance) callTool(ctx context.Context, tc model.ToolCall) string {
	tool, ok := a.tools[tc.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", tc.Name)
	}
	result, err := tool.call(ctx, tc.Arguments)
	if err != nil {
		a.logger.Warn("tool call failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	a.logger.Debug("tool call completed", "tool", tc.Name)
	return result
}

func (a *Instance) toolDefinitions() []model.ToolDefinition {
	if len(a.tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, t.definition())
	}
	return defs
}

// toModelMessages converts canonical history records to model turns.
func toModelMessages(history []core.Message) []model.Message {
	msgs := make([]model.Message, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == core.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, model.Message{Role: role, Text: m.Content})
	}
	return msgs
}
