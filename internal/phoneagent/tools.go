package phoneagent

import (
	"context"
	"encoding/json"
	"time"

	"phonepanel/cli/internal/agentloop"
)

const maxWait = 10 * time.Second

func deviceTools(device Device) []agentloop.Tool {
	return []agentloop.Tool{
		agentloop.FuncTool{
			ToolName:    "tap",
			Description: "Tap the screen at point (x, y).",
			Parameters:  objectSchema(map[string]any{"x": numberProp("x in points"), "y": numberProp("y in points")}, "x", "y"),
			Fn: func(ctx context.Context, in json.RawMessage) (string, *agentloop.ToolError) {
				var args struct{ X, Y float64 }
				if err := decodeArgs(in, &args); err != nil {
					return "", err
				}
				return result(device.Tap(ctx, args.X, args.Y))
			},
		},
		agentloop.FuncTool{
			ToolName:    "swipe",
			Description: "Swipe from (from_x, from_y) to (to_x, to_y).",
			Parameters: objectSchema(map[string]any{
				"from_x":      numberProp("start x"),
				"from_y":      numberProp("start y"),
				"to_x":        numberProp("end x"),
				"to_y":        numberProp("end y"),
				"duration_ms": numberProp("gesture duration in milliseconds"),
			}, "from_x", "from_y", "to_x", "to_y"),
			Fn: func(ctx context.Context, in json.RawMessage) (string, *agentloop.ToolError) {
				var args struct {
					FromX      float64 `json:"from_x"`
					FromY      float64 `json:"from_y"`
					ToX        float64 `json:"to_x"`
					ToY        float64 `json:"to_y"`
					DurationMS int     `json:"duration_ms"`
				}
				if err := decodeArgs(in, &args); err != nil {
					return "", err
				}
				d := time.Duration(args.DurationMS) * time.Millisecond
				return result(device.Swipe(ctx, args.FromX, args.FromY, args.ToX, args.ToY, d))
			},
		},
		agentloop.FuncTool{
			ToolName:    "type_text",
			Description: "Type text into the focused field.",
			Parameters:  objectSchema(map[string]any{"text": map[string]any{"type": "string"}}, "text"),
			Fn: func(ctx context.Context, in json.RawMessage) (string, *agentloop.ToolError) {
				var args struct{ Text string }
				if err := decodeArgs(in, &args); err != nil {
					return "", err
				}
				return result(device.TypeText(ctx, args.Text))
			},
		},
		agentloop.FuncTool{
			ToolName:    "press_home",
			Description: "Go to the home screen.",
			Fn: func(ctx context.Context, _ json.RawMessage) (string, *agentloop.ToolError) {
				return result(device.PressHome(ctx))
			},
		},
		agentloop.FuncTool{
			ToolName:    "launch_app",
			Description: "Launch an app by bundle id, e.g. com.apple.Preferences.",
			Parameters:  objectSchema(map[string]any{"bundle_id": map[string]any{"type": "string"}}, "bundle_id"),
			Fn: func(ctx context.Context, in json.RawMessage) (string, *agentloop.ToolError) {
				var args struct {
					BundleID string `json:"bundle_id"`
				}
				if err := decodeArgs(in, &args); err != nil {
					return "", err
				}
				return result(device.LaunchApp(ctx, args.BundleID))
			},
		},
		agentloop.FuncTool{
			ToolName:    "wait",
			Description: "Wait for the screen to settle.",
			Parameters:  objectSchema(map[string]any{"seconds": numberProp("seconds to wait, at most 10")}),
			Fn: func(ctx context.Context, in json.RawMessage) (string, *agentloop.ToolError) {
				var args struct{ Seconds float64 }
				if err := decodeArgs(in, &args); err != nil {
					return "", err
				}
				d := time.Duration(args.Seconds * float64(time.Second))
				if d <= 0 {
					d = time.Second
				}
				if d > maxWait {
					d = maxWait
				}
				select {
				case <-ctx.Done():
					return "", agentloop.NewToolError(agentloop.CodeCanceled, ctx.Err().Error())
				case <-time.After(d):
				}
				return `{"ok":true}`, nil
			},
		},
	}
}

func decodeArgs(in json.RawMessage, out any) *agentloop.ToolError {
	if len(in) == 0 {
		in = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(in, out); err != nil {
		return agentloop.NewToolError(agentloop.CodeInvalidArguments, err.Error())
	}
	return nil
}

func result(err error) (string, *agentloop.ToolError) {
	if err != nil {
		return "", agentloop.ToolErrorFrom(agentloop.CodeDeviceError, err)
	}
	return `{"ok":true}`, nil
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
