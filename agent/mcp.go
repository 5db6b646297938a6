package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/model"
)

const mcpProtocolVersion = "2024-11-05"

// mcpServer is one spawned MCP server subprocess plus the tools it exposed
// at construction time.
type mcpServer struct {
	name   string
	client *client.Client
	tools  []mcpTool
}

// mcpTool is a single tool exposed by an MCP server.
type mcpTool struct {
	server      *mcpServer
	name        string
	description string
	schema      map[string]any
}

// startMCPServer spawns the server described by spec over stdio, initializes
// the MCP session and lists its tools.
func startMCPServer(ctx context.Context, spec core.MCPServerSpec, clientName, clientVersion string) (*mcpServer, error) {
	if spec.Transport != "" && spec.Transport != core.TransportStdio {
		return nil, fmt.Errorf("mcp server %q: unsupported transport %q", spec.Name, spec.Transport)
	}

	mcpClient, err := client.NewStdioMCPClient(spec.Command, envSlice(spec.Env), spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: failed to create client: %w", spec.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp server %q: failed to start: %w", spec.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcp server %q: failed to initialize: %w", spec.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcp server %q: failed to list tools: %w", spec.Name, err)
	}

	srv := &mcpServer{name: spec.Name, client: mcpClient}
	for _, t := range listResp.Tools {
		srv.tools = append(srv.tools, mcpTool{
			server:      srv,
			name:        t.Name,
			description: t.Description,
			schema:      convertSchema(t.InputSchema),
		})
	}

	return srv, nil
}

// close shuts down the server subprocess.
func (s *mcpServer) close() error {
	return s.client.Close()
}

// call executes the tool and flattens the MCP result into a single text
// payload for the model's tool message.
func (t *mcpTool) call(ctx context.Context, arguments string) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = parseArguments(arguments)

	resp, err := t.server.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp tool %q failed: %w", t.name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("mcp tool %q returned error: %s", t.name, text)
	}
	return text, nil
}

// definition exposes the tool to the model.
func (t *mcpTool) definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.schema,
	}
}

// parseArguments decodes the model's JSON argument string, falling back to
// the raw string when it is not an object.
func parseArguments(arguments string) any {
	if arguments == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return arguments
	}
	return args
}

// envSlice converts an env map to "KEY=VALUE" form for the subprocess.
func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// convertSchema round-trips the MCP input schema through JSON to get a
// plain map usable as a JSON Schema parameter object.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
