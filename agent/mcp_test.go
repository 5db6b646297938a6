package agent

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentdock/core"
)

func TestParseArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, parseArguments(""))
	assert.Equal(t, map[string]any{"path": "/tmp"}, parseArguments(`{"path": "/tmp"}`))
	assert.Equal(t, "not json", parseArguments("not json"), "non-object payloads pass through raw")
}

func TestEnvSlice(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	assert.ElementsMatch(t,
		[]string{"API_KEY=secret", "REGION=eu"},
		envSlice(map[string]string{"API_KEY": "secret", "REGION": "eu"}),
	)
}

func TestConvertSchema(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"path": map[string]any{"type": "string"},
		},
		Required: []string{"path"},
	}

	result := convertSchema(schema)
	assert.Equal(t, "object", result["type"])
	assert.Contains(t, result, "properties")
}

func TestStartMCPServerRejectsUnknownTransport(t *testing.T) {
	_, err := startMCPServer(t.Context(), core.MCPServerSpec{
		Name:      "remote",
		Command:   "npx",
		Transport: "sse",
	}, "agentdock", "1.0.0")
	assert.ErrorContains(t, err, "unsupported transport")
}
