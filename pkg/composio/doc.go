// Package composio is the HTTP client for the upstream tool-execution
// backend. It provisions per-user sessions, runs tools against a session's
// endpoint and checks provider connections.
//
// Client implements broker.SessionProvisioner and broker.ToolInvoker.
package composio
