// Package toolregistry describes the upstream tools the gateway exposes and
// validates invocation parameters before any upstream work happens.
//
// Validation is deliberately shallow: a required parameter must be present
// and, when it is a string, contain something other than whitespace. Types
// and formats are left to the upstream tool.
//
// ApprovalRequired is metadata for the caller-facing surface. The registry
// never enforces it.
package toolregistry
