package agent

import (
	"context"
	"log/slog"
)

// Event is a progress notification emitted while an agent runs.
type Event struct {
	Kind    string
	Message string
	Attrs   map[string]any
}

// Sink receives agent progress events. Implementations must not block for long.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LoggerSink forwards events to slog at debug level.
func LoggerSink(lg *slog.Logger) Sink {
	if lg == nil {
		return Discard
	}
	return SinkFunc(func(e Event) {
		args := make([]any, 0, 2+2*len(e.Attrs))
		args = append(args, "kind", e.Kind)
		for k, v := range e.Attrs {
			args = append(args, k, v)
		}
		lg.Debug(e.Message, args...)
	})
}

// Agent executes natural-language instructions against a device.
type Agent interface {
	Run(ctx context.Context, instruction string, sink Sink) (string, error)
}

type DeviceInfo struct {
	UDID    string `json:"udid"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

type DeviceInfoProvider interface {
	DeviceInfo(ctx context.Context) (DeviceInfo, error)
}

// PlaceholderDevice is reported when the real device cannot be described.
func PlaceholderDevice() DeviceInfo {
	return DeviceInfo{
		UDID:    "default",
		Name:    "iPhone",
		Model:   "iOS Device",
		Version: "unknown",
		Status:  "unknown",
	}
}
