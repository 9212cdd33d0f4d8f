package toolregistry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownTool is returned for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ToolCategory separates tools that only read from tools with side effects.
type ToolCategory string

const (
	CategoryRead  ToolCategory = "read"
	CategoryWrite ToolCategory = "write"
)

// ToolParameter describes one invocation parameter.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDescriptor is the static definition of an exposed tool.
type ToolDescriptor struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	UpstreamAction   string          `json:"upstream_action"`
	Provider         string          `json:"provider"`
	Category         ToolCategory    `json:"category"`
	ApprovalRequired bool            `json:"approval_required"`
	Parameters       []ToolParameter `json:"parameters"`
}

// RequiredParams returns the names of required parameters in declaration order.
func (d ToolDescriptor) RequiredParams() []string {
	var names []string
	for _, p := range d.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// FieldProblem says why a required parameter failed validation.
type FieldProblem string

const (
	ProblemMissing FieldProblem = "missing"
	ProblemEmpty   FieldProblem = "empty"
)

// FieldError names one required parameter that failed validation.
type FieldError struct {
	Field   string       `json:"field"`
	Problem FieldProblem `json:"problem"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s is %s", e.Field, e.Problem)
}

// Fields returns the field names from errs.
func Fields(errs []FieldError) []string {
	names := make([]string, len(errs))
	for i, e := range errs {
		names[i] = e.Field
	}
	return names
}

// Registry holds tool descriptors by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDescriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]ToolDescriptor)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(desc ToolDescriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool %s already registered", desc.Name)
	}
	r.tools[desc.Name] = desc
	return nil
}

// Describe returns the descriptor for name.
func (r *Registry) Describe(name string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return desc, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ToolDescriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		list = append(list, desc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate checks that every required parameter of name is present and
// non-empty. It returns the failing fields in declaration order; an empty
// result means params are acceptable.
func (r *Registry) Validate(name string, params map[string]interface{}) ([]FieldError, error) {
	desc, err := r.Describe(name)
	if err != nil {
		return nil, err
	}

	var problems []FieldError
	for _, field := range desc.RequiredParams() {
		value, ok := params[field]
		switch {
		case !ok:
			problems = append(problems, FieldError{Field: field, Problem: ProblemMissing})
		case isEmpty(value):
			problems = append(problems, FieldError{Field: field, Problem: ProblemEmpty})
		}
	}
	return problems, nil
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// InputSchema returns a JSON Schema document describing name's parameters.
// It is published to callers; Validate does not apply its type constraints.
func (r *Registry) InputSchema(name string) (map[string]interface{}, error) {
	desc, err := r.Describe(name)
	if err != nil {
		return nil, err
	}
	return schemaFor(desc), nil
}

func schemaFor(desc ToolDescriptor) map[string]interface{} {
	properties := make(map[string]interface{}, len(desc.Parameters))
	for _, p := range desc.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if required := desc.RequiredParams(); len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateDescriptor(desc ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if desc.UpstreamAction == "" {
		return fmt.Errorf("upstream action cannot be empty for %s", desc.Name)
	}
	switch desc.Category {
	case CategoryRead, CategoryWrite:
	default:
		return fmt.Errorf("invalid category %q for %s", desc.Category, desc.Name)
	}

	seen := make(map[string]bool, len(desc.Parameters))
	for _, p := range desc.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty for %s", desc.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %s for %s", p.Name, desc.Name)
		}
		seen[p.Name] = true
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", p.Type, p.Name)
		}
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaFor(desc))); err != nil {
		return fmt.Errorf("invalid input schema for %s: %w", desc.Name, err)
	}
	return nil
}
