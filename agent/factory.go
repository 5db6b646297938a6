package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/logging"
)

// Options holds configuration overrides passed to NewFactory().
type Options struct {
	// ClientName/ClientVersion identify this process to MCP servers.
	ClientName    string
	ClientVersion string
	// MaxToolRounds bounds the tool-call loop per invocation.
	MaxToolRounds int
	// Resolver maps model settings to a bound model.
	Resolver ModelResolver
	// Logger receives factory logs.
	Logger logging.Logger
}

// Factory implements core.AgentFactory. Construction is expensive: it spawns
// one subprocess per MCP server in the configuration and performs the MCP
// handshake with each, which is exactly why instances are pooled and shared.
type Factory struct {
	clientName    string
	clientVersion string
	maxToolRounds int
	resolver      ModelResolver
	logger        logging.Logger
}

var _ core.AgentFactory = (*Factory)(nil)

// NewFactory constructs a Factory with optional overrides.
func NewFactory(optFns ...func(o *Options)) *Factory {
	opts := Options{
		ClientName:    "agentdock",
		ClientVersion: "1.0.0",
		MaxToolRounds: 8,
		Resolver:      DefaultModelResolver,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Factory{
		clientName:    opts.ClientName,
		clientVersion: opts.ClientVersion,
		maxToolRounds: opts.MaxToolRounds,
		resolver:      opts.Resolver,
		logger:        opts.Logger,
	}
}

// Construct builds an instance: resolve the model, launch every MCP server,
// collect their tools. If any server fails, the ones already started are
// shut down before the error is returned.
func (f *Factory) Construct(ctx context.Context, cfg *core.Configuration) (core.AgentInstance, error) {
	m, err := f.resolver(cfg)
	if err != nil {
		return nil, err
	}

	var servers []*mcpServer
	for _, spec := range cfg.MCPServers {
		srv, err := startMCPServer(ctx, spec, f.clientName, f.clientVersion)
		if err != nil {
			for _, started := range servers {
				if cerr := started.close(); cerr != nil {
					f.logger.Warn("failed to close mcp server during rollback", "server", started.name, "error", cerr)
				}
			}
			return nil, err
		}
		servers = append(servers, srv)
		f.logger.Info("mcp server started", "config_id", cfg.ID, "server", spec.Name, "tools", len(srv.tools))
	}

	inst := &Instance{
		model:         m,
		systemPrompt:  cfg.SystemPrompt,
		servers:       servers,
		tools:         make(map[string]*mcpTool),
		maxToolRounds: f.maxToolRounds,
		logger:        f.logger,
	}
	for _, srv := range servers {
		for i := range srv.tools {
			t := &srv.tools[i]
			if _, exists := inst.tools[t.name]; exists {
				f.logger.Warn("duplicate tool name, keeping first", "tool", t.name, "server", srv.name)
				continue
			}
			inst.tools[t.name] = t
		}
	}

	f.logger.Info("agent instance built",
		"config_id", cfg.ID,
		"model", m.Info().Name,
		"provider", m.Info().Provider,
		"tools", len(inst.tools),
	)
	return inst, nil
}

// Teardown shuts down the instance's MCP server subprocesses.
func (f *Factory) Teardown(instance core.AgentInstance) error {
	inst, ok := instance.(*Instance)
	if !ok {
		return fmt.Errorf("unexpected instance type %T", instance)
	}
	var firstErr error
	for _, srv := range inst.servers {
		if err := srv.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close mcp server %q: %w", srv.name, err)
		}
	}
	return firstErr
}
