package agentloop

import (
	"context"
	"encoding/json"
)

type ResponseToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type Tool interface {
	Name() string
	Spec() ResponseToolSpec
	Execute(ctx context.Context, input json.RawMessage, callID string) (string, *ToolError)
}

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	ToolName    string
	Description string
	Parameters  map[string]any
	Fn          func(ctx context.Context, input json.RawMessage) (string, *ToolError)
}

func (t FuncTool) Name() string { return t.ToolName }

func (t FuncTool) Spec() ResponseToolSpec {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ResponseToolSpec{
		Type:        "function",
		Name:        t.ToolName,
		Description: t.Description,
		Parameters:  params,
	}
}

func (t FuncTool) Execute(ctx context.Context, input json.RawMessage, _ string) (string, *ToolError) {
	if t.Fn == nil {
		return "", NewToolError(CodeToolNotImplemented, "")
	}
	return t.Fn(ctx, input)
}
