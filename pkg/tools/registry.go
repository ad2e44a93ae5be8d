// Package tools holds the callable tool registry: named handlers with
// JSON-schema-described parameters, validated before execution.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/provider"
)

// Kind classifies how a tool resolves at the approval gate.
type Kind string

const (
	// KindAction tools have side effects and honor the cancel path.
	KindAction Kind = "action"
	// KindUserInput tools exist to collect free-form user input: the resume
	// payload is the result and the cancel path does not apply.
	KindUserInput Kind = "user_input"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler executes a tool. The returned string becomes the Tool message
// content; an error is captured as content too, never as a failed stage.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition is a tool's metadata and handler.
type Definition struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Kind        Kind        `json:"kind"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Registry maps tool names to definitions with compiled parameter schemas.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register validates and adds a tool definition.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if def.Kind == "" {
		def.Kind = KindAction
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Name
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Declarations resolves the named tools into the declarations passed to the
// model. An unknown name is an error: the active mode's tool set must be
// resolvable up front.
func (r *Registry) Declarations(names []string) ([]provider.ToolDeclaration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.ToolDeclaration, 0, len(names))
	for _, name := range names {
		def, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		out = append(out, provider.ToolDeclaration{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap(*def),
		})
	}
	return out, nil
}

// Execute validates args against the tool's schema and runs the handler
// under a timeout. Handler errors and validation errors are returned to the
// caller for capture as Tool message content.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (string, error) {
	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	if err := validateArgs(schema, args); err != nil {
		return "", fmt.Errorf("parameter validation failed: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		result, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		observability.RecordToolExecution(name, time.Since(start), true)
		log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool execution completed")
		return result, nil
	case err := <-errChan:
		observability.RecordToolExecution(name, time.Since(start), false)
		log.Error().Str("tool", name).Err(err).Msg("Tool execution failed")
		return "", err
	case <-timeoutCtx.Done():
		observability.RecordToolExecution(name, time.Since(start), false)
		log.Error().Str("tool", name).Dur("timeout", timeout).Msg("Tool execution timeout")
		return "", fmt.Errorf("tool execution timeout after %v", timeout)
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", p.Type, p.Name)
		}
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", p.Name)
		}
	}
	return nil
}

func schemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}
	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	m := schemaMap(def)
	m["additionalProperties"] = false
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(m))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := []string{}
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}
