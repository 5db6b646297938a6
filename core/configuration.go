package core

import (
	"fmt"
	"time"
)

// Transport identifies how an MCP server is reached.
type Transport string

const (
	// TransportStdio spawns the server as a subprocess and speaks MCP over
	// stdin/stdout. This is the default.
	TransportStdio Transport = "stdio"
)

// MCPServerSpec describes one MCP server a configuration depends on: the
// command to launch it, its arguments, extra environment and transport.
type MCPServerSpec struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env,omitempty"`
	Transport Transport         `json:"transport,omitempty"`
}

// ConfigurationSpec is the caller-supplied input for creating a
// Configuration. Validation happens in the store's Create.
type ConfigurationSpec struct {
	Name          string          `json:"name"`
	MCPServers    []MCPServerSpec `json:"mcp_servers"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	ModelSettings map[string]any  `json:"model_settings,omitempty"`
}

// Validate checks the spec's structural invariants: at least one MCP server,
// unique server names, non-empty commands and args.
func (s ConfigurationSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(s.MCPServers) == 0 {
		return &ValidationError{Field: "mcp_servers", Message: "at least one MCP server must be configured"}
	}
	seen := make(map[string]bool, len(s.MCPServers))
	for i, srv := range s.MCPServers {
		field := fmt.Sprintf("mcp_servers[%d]", i)
		if srv.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "must not be empty"}
		}
		if seen[srv.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate MCP server name %q", srv.Name)}
		}
		seen[srv.Name] = true
		if srv.Command == "" {
			return &ValidationError{Field: field + ".command", Message: "must not be empty"}
		}
		if len(srv.Args) == 0 {
			return &ValidationError{Field: field + ".args", Message: "must not be empty"}
		}
	}
	return nil
}

// Configuration is a reusable, named bundle of MCP server specs, system
// prompt and model settings. MCPServers, SystemPrompt and ModelSettings are
// immutable once created: any cached agent instance was built from exactly
// these values, so the only supported mutation is deactivation, which also
// invalidates the corresponding pool entry.
type Configuration struct {
	ID            string          `json:"config_id"`
	Name          string          `json:"name"`
	MCPServers    []MCPServerSpec `json:"mcp_servers"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	ModelSettings map[string]any  `json:"model_settings,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ConfigurationStore persists configurations. Configurations are soft
// deleted (Deactivate) and never removed, preserving referential integrity
// for conversations that still point at them.
type ConfigurationStore interface {
	// Create validates the spec, assigns an id and timestamps and stores the
	// configuration as active. Returns *ValidationError on malformed input.
	Create(spec ConfigurationSpec) (*Configuration, error)

	// Get returns an active configuration or ErrNotFound if it is absent or
	// deactivated.
	Get(configID string) (*Configuration, error)

	// GetAny returns the configuration regardless of its active flag, or
	// ErrNotFound if it never existed.
	GetAny(configID string) (*Configuration, error)

	// List returns configurations ordered by creation time descending,
	// optionally restricted to active ones.
	List(activeOnly bool) ([]*Configuration, error)

	// Deactivate sets active=false. Returns ErrNotFound for unknown ids.
	// Callers owning a pool must invalidate the matching cache entry.
	Deactivate(configID string) error

	// Count returns the number of stored configurations (active and not).
	Count() int
}
