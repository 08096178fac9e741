package agentloop

import (
	"context"
	"encoding/json"
	"errors"
)

// Codes returned to the model in the "error" field of a tool output.
const (
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeToolNotImplemented = "TOOL_NOT_IMPLEMENTED"
	CodeRegistryMissing    = "TOOL_REGISTRY_UNAVAILABLE"
	CodeInvalidArguments   = "INVALID_ARGUMENTS"
	CodeDeviceError        = "DEVICE_ERROR"
	CodeCanceled           = "CANCELED"
	CodeUnknown            = "UNKNOWN_ERROR"

	noSuggestion = "NO_SUGGESTION"
)

// ToolError is the structured failure a tool hands back to the model so it
// can correct its next call.
type ToolError struct {
	Message string `json:"error"`
	Suggest string `json:"suggest"`
}

func (e *ToolError) Error() string {
	if e == nil || e.Message == "" {
		return CodeUnknown
	}
	return e.Message
}

func NewToolError(message, suggest string) *ToolError {
	if suggest == "" {
		suggest = noSuggestion
	}
	return &ToolError{Message: message, Suggest: suggest}
}

// ToolErrorFrom classifies err under code, except that context cancellation
// always reports CodeCanceled.
func ToolErrorFrom(code string, err error) *ToolError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewToolError(CodeCanceled, err.Error())
	}
	return NewToolError(code, err.Error())
}

// JSON renders e as the tool output sent to the model.
func (e *ToolError) JSON() string {
	if e == nil {
		e = NewToolError(CodeUnknown, "")
	}
	raw, _ := json.Marshal(e)
	return string(raw)
}
