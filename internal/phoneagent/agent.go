package phoneagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"phonepanel/cli/internal/agent"
	"phonepanel/cli/internal/agentloop"
	"phonepanel/cli/internal/screenshot"
	"phonepanel/cli/internal/wda"
)

type Config struct {
	ModelBaseURL string
	ModelAPIKey  string
	ModelName    string
	WDAURL       string
	Lang         string
	MaxSteps     int
	HTTPClient   *http.Client
}

// Device is the subset of the device driver the agent needs.
type Device interface {
	Screenshot(ctx context.Context) ([]byte, error)
	DeviceInfo(ctx context.Context) (wda.DeviceInfo, error)
	Tap(ctx context.Context, x, y float64) error
	Swipe(ctx context.Context, fromX, fromY, toX, toY float64, duration time.Duration) error
	TypeText(ctx context.Context, text string) error
	PressHome(ctx context.Context) error
	LaunchApp(ctx context.Context, bundleID string) error
}

// Agent drives an iOS device with a vision model through WebDriverAgent.
type Agent struct {
	device Device
	runner *agentloop.LoopRunner
}

// New validates cfg and wires the model client, device tools and loop runner.
func New(cfg Config) (*Agent, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	device := wda.NewClient(cfg.WDAURL, nil)
	client := agentloop.NewResponsesClient(agentloop.OpenAIConfig{
		BaseURL: cfg.ModelBaseURL,
		Model:   cfg.ModelName,
		APIKey:  cfg.ModelAPIKey,
	}, cfg.HTTPClient)
	return NewWithDevice(cfg, client, device)
}

// NewWithDevice builds an agent on top of an existing model client and device.
func NewWithDevice(cfg Config, client agentloop.ResponsesAPI, device Device) (*Agent, error) {
	if client == nil || device == nil {
		return nil, errors.New("model client and device are required")
	}
	registry := agentloop.NewToolRegistry()
	for _, tool := range deviceTools(device) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	a := &Agent{device: device}
	a.runner = agentloop.NewLoopRunner(client, registry, agentloop.LoopRunnerOptions{
		MaxIterations: cfg.MaxSteps,
		Instructions:  systemPrompt(cfg.Lang),
		Observe:       a.observe,
	})
	return a, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.ModelName) == "" {
		return errors.New("model name is required")
	}
	if strings.TrimSpace(cfg.ModelAPIKey) == "" {
		return errors.New("model api key is required")
	}
	for name, raw := range map[string]string{"model base url": cfg.ModelBaseURL, "device driver url": cfg.WDAURL} {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is invalid", name, raw)
		}
	}
	return nil
}

func (a *Agent) Run(ctx context.Context, instruction string, sink agent.Sink) (string, error) {
	if sink == nil {
		sink = agent.Discard
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", errors.New("instruction is required")
	}
	sink.Emit(agent.Event{Kind: "run.start", Message: "agent run started", Attrs: map[string]any{"instruction": instruction}})
	out, err := a.runner.Run(ctx, instruction, func(e agentloop.Event) {
		sink.Emit(agent.Event{
			Kind:    e.Stage,
			Message: e.Detail,
			Attrs:   map[string]any{"iteration": e.Iteration, "tool": e.ToolName, "call_id": e.CallID},
		})
	})
	if err != nil {
		sink.Emit(agent.Event{Kind: "run.error", Message: err.Error()})
		return "", err
	}
	sink.Emit(agent.Event{Kind: "run.done", Message: "agent run finished"})
	return out, nil
}

func (a *Agent) DeviceInfo(ctx context.Context) (agent.DeviceInfo, error) {
	info, err := a.device.DeviceInfo(ctx)
	if err != nil {
		return agent.DeviceInfo{}, err
	}
	out := agent.DeviceInfo{
		UDID:    info.UUID,
		Name:    info.Name,
		Model:   info.Model,
		Version: info.OSVersion,
		Status:  "connected",
	}
	if out.UDID == "" {
		out.UDID = "default"
	}
	if out.Version == "" {
		out.Version = "unknown"
	}
	return out, nil
}

func (a *Agent) observe(ctx context.Context) (map[string]any, error) {
	raw, err := a.device.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	uri, err := screenshot.Thumbnail(raw, observationWidth, screenshot.DefaultQuality)
	if err != nil {
		return nil, err
	}
	return agentloop.ImageMessageInputItem(uri, "Current screen. Coordinates in tool calls are screen points."), nil
}

const observationWidth = 720

func systemPrompt(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "en") {
		return promptEN
	}
	return promptCN
}

const promptEN = `You operate an iPhone on behalf of the user. Each request includes the current screen.
Use the device tools to act one step at a time. When the task is done, or cannot be done,
reply with a short plain-text summary of the outcome and call no tools.`

const promptCN = `你是一个操作 iPhone 的智能助手。每次请求都会附带当前屏幕截图。
请使用设备工具逐步完成用户的任务。任务完成或无法完成时，用简短的文字总结结果，并且不要再调用工具。`
