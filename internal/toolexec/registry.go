package toolexec

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
)

// Registry holds the tools available to the agent executor.
type Registry struct {
	tools map[string]tool.InvokableTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool under its schema name.
func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool %q already registered", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Tool returns the tool for a given name, or nil.
func (r *Registry) Tool(name string) tool.InvokableTool {
	return r.tools[name]
}

// Tools returns all registered tools.
func (r *Registry) Tools() []tool.InvokableTool {
	result := make([]tool.InvokableTool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// ToolNames returns all registered tool names.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
