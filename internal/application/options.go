package application

import (
	"log/slog"

	"phonepanel/cli/internal/agent"
	"phonepanel/cli/internal/config"
	"phonepanel/cli/internal/localapi"
)

// StartOptions carries the resolved configuration plus optional overrides.
type StartOptions struct {
	Config config.Config
	Logger *slog.Logger
	Hooks  Hooks
}

// Hooks replace collaborators that talk to the outside world.
type Hooks struct {
	AgentFactory agent.Factory
	Screenshots  localapi.Screenshotter
}
