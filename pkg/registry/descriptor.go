package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// RateLimitMode selects the behavior when a tool's bucket is empty.
type RateLimitMode string

const (
	// ModeReject fails the acquire immediately.
	ModeReject RateLimitMode = "reject"
	// ModeQueue parks the caller in a bounded FIFO until a token refills.
	ModeQueue RateLimitMode = "queue"
)

// RateLimitPolicy declares a tool's token bucket parameters.
type RateLimitPolicy struct {
	Capacity   float64       `json:"capacity"`
	RefillRate float64       `json:"refill_rate"` // tokens per second
	Mode       RateLimitMode `json:"mode"`
	QueueDepth int           `json:"queue_depth,omitempty"`
}

// ToolParameter describes a single input parameter of a tool.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler is the invocation entrypoint a tool plugin supplies.
// Cancellation and deadlines arrive through the context.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDescriptor is the immutable record of a registered tool. Once
// registered it is never mutated; a re-registration under the same name
// swaps the registry pointer, and in-flight executions keep referencing
// the descriptor they started with.
type ToolDescriptor struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	Description   string          `json:"description"`
	Parameters    []ToolParameter `json:"parameters"`
	RateLimit     RateLimitPolicy `json:"rate_limit"`
	MaxConcurrent int             `json:"max_concurrent,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	RequiredEnv   []string        `json:"required_env,omitempty"`
	Handler       ToolHandler     `json:"-"`

	schema       *gojsonschema.Schema
	registeredAt time.Time
}

// RegisteredAt reports when the descriptor was added to a registry.
func (d *ToolDescriptor) RegisteredAt() time.Time {
	return d.registeredAt
}

// ValidateParams checks params against the descriptor's compiled schema.
func (d *ToolDescriptor) ValidateParams(params map[string]interface{}) error {
	if d.schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := d.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if !result.Valid() {
		details := []string{}
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, details)
	}

	return nil
}

// MissingEnv returns the names of declared environment variables that
// are not set in the process environment.
func (d *ToolDescriptor) MissingEnv() []string {
	var missing []string
	for _, name := range d.RequiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (d *ToolDescriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Version == "" {
		return fmt.Errorf("tool version cannot be empty for %s", d.Name)
	}
	if d.Description == "" {
		return fmt.Errorf("tool description cannot be empty for %s", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil for %s", d.Name)
	}
	if d.RateLimit.Mode != "" && d.RateLimit.Mode != ModeReject && d.RateLimit.Mode != ModeQueue {
		return fmt.Errorf("invalid rate limit mode %q for %s", d.RateLimit.Mode, d.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range d.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty for %s", d.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s.%s", param.Type, d.Name, param.Name)
		}
	}

	return nil
}

// compileSchema builds and compiles the JSON schema for the descriptor's
// parameters.
func (d *ToolDescriptor) compileSchema() error {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]interface{}{},
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", d.Name, err)
	}

	d.schema = schema
	return nil
}
