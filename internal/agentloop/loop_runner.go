package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ResponsesAPI interface {
	CreateResponse(ctx context.Context, req CreateResponseRequest) (*CreateResponseResult, error)
}

// Event describes one step of a run. Stage is one of "model.request",
// "model.response", "tool.call", "tool.result" and "tool.error".
type Event struct {
	Stage     string
	Iteration int
	ToolName  string
	CallID    string
	Detail    string
}

// Observer returns an input item describing the current environment, for
// example a screenshot message. It is re-sent fresh on every iteration and
// never accumulates in the history.
type Observer func(ctx context.Context) (map[string]any, error)

type LoopRunnerOptions struct {
	MaxIterations int
	Instructions  string
	Observe       Observer
}

type LoopRunner struct {
	client  ResponsesAPI
	tools   *ToolRegistry
	options LoopRunnerOptions
}

func NewLoopRunner(client ResponsesAPI, tools *ToolRegistry, options LoopRunnerOptions) *LoopRunner {
	if options.MaxIterations <= 0 {
		options.MaxIterations = 8
	}
	return &LoopRunner{client: client, tools: tools, options: options}
}

// Run alternates model requests and tool calls until the model answers with
// text. The whole conversation is replayed on every request so providers that
// do not persist responses server-side work too.
func (r *LoopRunner) Run(ctx context.Context, userPrompt string, onEvent func(Event)) (string, error) {
	if r == nil || r.client == nil {
		return "", errors.New("loop runner client is required")
	}
	emit := func(e Event) {
		if onEvent != nil {
			onEvent(e)
		}
	}
	userPrompt = strings.TrimSpace(userPrompt)
	history := []map[string]any{buildUserMessageInputItem(userPrompt)}

	for i := 0; i < r.options.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		input := cloneResponseInputItems(history)
		if r.options.Observe != nil {
			obs, err := r.options.Observe(ctx)
			if err != nil {
				return "", fmt.Errorf("observe environment iteration=%d: %w", i+1, err)
			}
			if obs != nil {
				input = append(input, obs)
			}
		}
		req := CreateResponseRequest{
			Instructions: r.options.Instructions,
			Input:        input,
			Store:        boolPtr(false),
		}
		if r.tools != nil {
			req.Tools = r.tools.Specs()
		}
		reqSummary := summarizeCreateResponseRequest(req)
		emit(Event{Stage: "model.request", Iteration: i + 1, Detail: reqSummary})

		res, err := r.client.CreateResponse(ctx, req)
		if err != nil {
			return "", fmt.Errorf("responses request failed iteration=%d: %w", i+1, err)
		}
		emit(Event{
			Stage:     "model.response",
			Iteration: i + 1,
			Detail:    fmt.Sprintf("response_id=%s tool_calls=%s", strings.TrimSpace(res.ID), summarizeToolCalls(res.ToolCalls)),
		})
		if res.HasFinalText() {
			return strings.TrimSpace(res.FinalText), nil
		}
		if len(res.ToolCalls) == 0 {
			return "", fmt.Errorf(
				"responses api returned no output_text and no tool_calls iteration=%d response_id=%q",
				i+1,
				strings.TrimSpace(res.ID),
			)
		}
		for _, call := range res.ToolCalls {
			callID := strings.TrimSpace(call.CallID)
			if callID == "" {
				return "", fmt.Errorf(
					"responses tool call missing call_id iteration=%d tool=%s response_id=%q",
					i+1,
					strings.TrimSpace(call.Name),
					strings.TrimSpace(res.ID),
				)
			}
			emit(Event{
				Stage:     "tool.call",
				Iteration: i + 1,
				ToolName:  call.Name,
				CallID:    callID,
				Detail:    clipForLog(string(call.Arguments), 400),
			})
			out := r.executeTool(ctx, call)
			stage := "tool.result"
			if isToolErrorOutput(out) {
				stage = "tool.error"
			}
			emit(Event{Stage: stage, Iteration: i + 1, ToolName: call.Name, CallID: callID, Detail: clipForLog(out, 400)})
			history = append(history, buildReplayFunctionCallInputItem(call), map[string]any{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  out,
			})
		}
	}
	return "", fmt.Errorf("responses loop exceeded max iterations: %d", r.options.MaxIterations)
}

func (r *LoopRunner) executeTool(ctx context.Context, call ToolCall) string {
	if r.tools == nil {
		return NewToolError(CodeRegistryMissing, "").JSON()
	}
	out, toolErr := r.tools.Execute(ctx, call.Name, call.Arguments, call.CallID)
	if toolErr != nil {
		return toolErr.JSON()
	}
	return out
}

func isToolErrorOutput(out string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return false
	}
	return probe.Error != ""
}

func clipForLog(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "...(truncated)"
}

func summarizeCreateResponseRequest(req CreateResponseRequest) string {
	storeSummary := "<unset>"
	if req.Store != nil {
		storeSummary = fmt.Sprintf("%t", *req.Store)
	}
	parts := []string{
		fmt.Sprintf("store=%s", storeSummary),
		fmt.Sprintf("tools=%d", len(req.Tools)),
		fmt.Sprintf("input=%s", summarizeResponseInput(req.Input)),
	}
	return strings.Join(parts, " ")
}

func boolPtr(v bool) *bool {
	return &v
}

func cloneResponseInputItems(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in)+1)
	return append(out, in...)
}

func buildUserMessageInputItem(text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{
				"type": "input_text",
				"text": strings.TrimSpace(text),
			},
		},
	}
}

// ImageMessageInputItem builds a user message carrying an image and a caption.
func ImageMessageInputItem(dataURI, caption string) map[string]any {
	content := []map[string]any{
		{"type": "input_image", "image_url": dataURI, "detail": "auto"},
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		content = append(content, map[string]any{"type": "input_text", "text": caption})
	}
	return map[string]any{
		"type":    "message",
		"role":    "user",
		"content": content,
	}
}

func buildReplayFunctionCallInputItem(call ToolCall) map[string]any {
	arguments := strings.TrimSpace(string(call.Arguments))
	if arguments == "" {
		arguments = "{}"
	}
	return map[string]any{
		"type":      "function_call",
		"call_id":   strings.TrimSpace(call.CallID),
		"name":      sanitizeFunctionCallNameForInput(call.Name),
		"arguments": arguments,
	}
}

func sanitizeFunctionCallNameForInput(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "tool_call"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-' {
			b.WriteRune(ch)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func summarizeResponseInput(input any) string {
	items, ok := input.([]map[string]any)
	if !ok {
		return fmt.Sprintf("type=%T", input)
	}
	if len(items) == 0 {
		return "items=0"
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		token := strings.TrimSpace(fmt.Sprint(item["type"]))
		if token == "" {
			token = "<empty_type>"
		}
		if callID, ok := item["call_id"].(string); ok && callID != "" {
			token += fmt.Sprintf("(call_id=%s)", callID)
		}
		out = append(out, token)
	}
	return fmt.Sprintf("items=%d[%s]", len(items), strings.Join(out, ", "))
}

func summarizeToolCalls(calls []ToolCall) string {
	if len(calls) == 0 {
		return "<none>"
	}
	out := make([]string, 0, len(calls))
	for _, call := range calls {
		out = append(out, fmt.Sprintf(
			"%s(call_id=%s,args_len=%d)",
			strings.TrimSpace(call.Name),
			strings.TrimSpace(call.CallID),
			len(strings.TrimSpace(string(call.Arguments))),
		))
	}
	return strings.Join(out, ", ")
}
