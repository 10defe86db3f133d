package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// ToolHandler executes one tool invocation. Implementations receive the raw
// argument map and return the textual tool output.
type ToolHandler interface {
	Execute(ctx context.Context, args protocol.Args) (string, error)
}

// ToolHandlerFunc adapts a function to the ToolHandler interface.
type ToolHandlerFunc func(ctx context.Context, args protocol.Args) (string, error)

// Execute calls f.
func (f ToolHandlerFunc) Execute(ctx context.Context, args protocol.Args) (string, error) {
	return f(ctx, args)
}

// Tool is one registered tool.
type Tool struct {
	Name        string
	Description string
	Handler     ToolHandler
}

// ToolRegistry holds the tools the server exposes over tools/call.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool under its name.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool.Name == "" {
		return protocol.Errorf(protocol.CodeInvalidParams, "tool name must not be empty")
	}
	if tool.Handler == nil {
		return protocol.Errorf(protocol.CodeInvalidParams, "tool %q has no handler", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return protocol.Errorf(protocol.CodeInvalidParams, "tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a tool by name. An unknown tool is a protocol error; a failure
// inside the tool is reported on the result with IsError set, so callers can
// distinguish "no such tool" from "the tool ran and failed".
func (r *ToolRegistry) Call(ctx context.Context, name string, args protocol.Args) (*protocol.CallToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodNotFound, "tool not found: %s", name)
	}

	text, err := tool.Handler.Execute(ctx, args)
	if err != nil {
		return &protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: text}},
	}, nil
}

// EchoTool returns the built-in diagnostic tool that echoes its "message"
// argument.
func EchoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "Echo the message argument back to the caller",
		Handler: ToolHandlerFunc(func(ctx context.Context, args protocol.Args) (string, error) {
			msg := args.String("message")
			if msg == "" {
				return "", fmt.Errorf("missing message argument")
			}
			return msg, nil
		}),
	}
}
