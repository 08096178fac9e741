package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type ToolRegistry struct {
	mu     sync.RWMutex
	byName map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: map[string]Tool{}}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(tool Tool) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return errors.New("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = tool
	return nil
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	return tool, ok
}

func (r *ToolRegistry) Specs() []ResponseToolSpec {
	if r == nil {
		return []ResponseToolSpec{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]ResponseToolSpec, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name].Spec())
	}
	return out
}

func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage, callID string) (string, *ToolError) {
	tool, ok := r.Get(name)
	if !ok {
		return "", NewToolError(CodeToolNotFound, "use one of the device tools listed in this request")
	}
	out, err := tool.Execute(ctx, input, callID)
	if err != nil {
		return "", err
	}
	return out, nil
}
