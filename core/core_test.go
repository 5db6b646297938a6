package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationSpec_Validate(t *testing.T) {
	valid := ConfigurationSpec{
		Name: "research",
		MCPServers: []MCPServerSpec{
			{Name: "filesystem", Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem"}},
			{Name: "fetch", Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-fetch"}},
		},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name      string
		mutate    func(s *ConfigurationSpec)
		wantField string
	}{
		{
			name:      "empty name",
			mutate:    func(s *ConfigurationSpec) { s.Name = "" },
			wantField: "name",
		},
		{
			name:      "no servers",
			mutate:    func(s *ConfigurationSpec) { s.MCPServers = nil },
			wantField: "mcp_servers",
		},
		{
			name:      "empty server name",
			mutate:    func(s *ConfigurationSpec) { s.MCPServers[1].Name = "" },
			wantField: "mcp_servers[1].name",
		},
		{
			name:      "duplicate server name",
			mutate:    func(s *ConfigurationSpec) { s.MCPServers[1].Name = "filesystem" },
			wantField: "mcp_servers[1].name",
		},
		{
			name:      "empty command",
			mutate:    func(s *ConfigurationSpec) { s.MCPServers[0].Command = "" },
			wantField: "mcp_servers[0].command",
		},
		{
			name:      "empty args",
			mutate:    func(s *ConfigurationSpec) { s.MCPServers[0].Args = nil },
			wantField: "mcp_servers[0].args",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			spec.MCPServers = append([]MCPServerSpec(nil), valid.MCPServers...)
			tt.mutate(&spec)

			err := spec.Validate()
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestConversation_Clone(t *testing.T) {
	conv := &Conversation{
		SessionID: "s1",
		ConfigID:  "c1",
		Messages:  []Message{{Role: RoleHuman, Content: "hello"}},
	}

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Messages = append(clone.Messages, Message{Role: RoleAssistant, Content: "extra"})

	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Len(t, conv.Messages, 1)
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("subprocess died")

	var err error = &ConstructionError{ConfigID: "c1", Err: cause}
	assert.ErrorIs(t, err, cause)
	var constructionErr *ConstructionError
	require.ErrorAs(t, err, &constructionErr)
	assert.Equal(t, "c1", constructionErr.ConfigID)

	err = &ExecutionError{SessionID: "s1", Err: cause}
	assert.ErrorIs(t, err, cause)
	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	assert.Equal(t, "s1", executionErr.SessionID)
}

func TestStreamEvent_IsTerminal(t *testing.T) {
	assert.False(t, StreamEvent{Type: StreamEventMessage}.IsTerminal())
	assert.True(t, StreamEvent{Type: StreamEventComplete}.IsTerminal())
	assert.True(t, StreamEvent{Type: StreamEventError}.IsTerminal())
}
