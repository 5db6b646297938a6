// Package core defines the domain model and contracts shared by all
// AgentDock packages: configurations (how to build an agent), conversations
// (per-session message history), the store interfaces the persistence layer
// must satisfy, the agent-factory collaborator interface the instance pool
// drives, and the error kinds surfaced to transports.
//
// Core deliberately contains no I/O. Stores, the pool, the coordinator and
// the HTTP layer all depend on core; core depends on nothing but the
// standard library and uuid-backed ID generation.
package core
