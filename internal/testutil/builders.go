// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing configurations and conversations. Not
// intended for production use.
package testutil

import (
	"time"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/internal/util"
)

// ConfigSpec returns a valid configuration spec with the given name and one
// MCP server per server name.
func ConfigSpec(name string, serverNames ...string) core.ConfigurationSpec {
	if len(serverNames) == 0 {
		serverNames = []string{"filesystem"}
	}
	servers := make([]core.MCPServerSpec, len(serverNames))
	for i, srv := range serverNames {
		servers[i] = core.MCPServerSpec{
			Name:    srv,
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-" + srv},
		}
	}
	return core.ConfigurationSpec{
		Name:         name,
		MCPServers:   servers,
		SystemPrompt: "You are a helpful assistant.",
	}
}

// Config returns a stored-shape configuration without going through a store.
func Config(name string, serverNames ...string) *core.Configuration {
	spec := ConfigSpec(name, serverNames...)
	now := time.Now().UTC()
	return &core.Configuration{
		ID:            util.NewID(),
		Name:          spec.Name,
		MCPServers:    spec.MCPServers,
		SystemPrompt:  spec.SystemPrompt,
		ModelSettings: spec.ModelSettings,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
