// Package toolschema validates planned tool-call arguments against the JSON
// schema a tool declares, before the executor ever invokes it.
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches one jsonschema.Schema per tool name, so a
// hot tool-loop doesn't recompile its schema on every call.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator constructs an empty Validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and caches the schema for a tool. Call once per tool
// definition, typically when the MCP broker discovers it.
func (v *Validator) Register(toolName string, rawSchema json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("toolschema: decoding schema for %q: %w", toolName, err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "mem://" + toolName
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("toolschema: adding schema resource for %q: %w", toolName, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("toolschema: compiling schema for %q: %w", toolName, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[toolName] = schema
	return nil
}

// Validate checks arguments against the registered schema for toolName. A
// tool with no registered schema is treated as permissive (no validation),
// since not every tool advertises one.
func (v *Validator) Validate(toolName string, arguments json.RawMessage) error {
	v.mu.RLock()
	schema, ok := v.schemas[toolName]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if err := json.Unmarshal(arguments, &doc); err != nil {
		return fmt.Errorf("toolschema: decoding arguments for %q: %w", toolName, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("toolschema: arguments for %q failed validation: %w", toolName, err)
	}
	return nil
}
