// Package registry holds tool descriptors and their declared policies.
//
// Invariants:
// - Tool names are unique at any instant.
// - Descriptors are immutable once registered; upgrades swap the pointer.
// - List iterates a snapshot and never observes mid-iteration registrations.
//
// Usage:
//
//	reg := registry.New()
//	_ = reg.Register(registry.ToolDescriptor{
//		Name: "echo", Version: "1.0.0", Description: "Echo input",
//		Parameters: []registry.ToolParameter{{Name: "msg", Type: "string", Description: "message", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params, nil },
//	})
package registry
