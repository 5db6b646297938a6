// Package agent provides the concrete agent-factory collaborator: it builds
// ready-to-invoke agent instances from configurations by launching their MCP
// servers over stdio, collecting the exposed tools and binding a model
// selected from the configuration's model settings. Invocation runs a
// bounded tool-call loop against the bound model.
package agent
