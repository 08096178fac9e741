package command

import (
	"context"
	"errors"
	"testing"

	"phonepanel/cli/internal/config"
)

type calls struct {
	serve, migrate, seed int
	lastCfg              config.Config
}

func buildTestApp(c *calls) Deps {
	return Deps{
		LoadConfig: func() (config.Config, error) {
			return config.Config{LocalHost: "0.0.0.0", LocalPort: 5001}, nil
		},
		RunServe: func(_ context.Context, cfg config.Config) error {
			c.serve++
			c.lastCfg = cfg
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config) error {
			c.migrate++
			return nil
		},
		RunSeed: func(context.Context, config.Config) error {
			c.seed++
			return nil
		},
	}
}

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	var c calls
	app := BuildApp(buildTestApp(&c))
	if err := app.RunContext(context.Background(), []string{"phonepanel"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.serve != 1 || c.migrate != 0 || c.seed != 0 {
		t.Fatalf("unexpected call count %+v", c)
	}
	if c.lastCfg.LocalPort != 5001 {
		t.Fatalf("expected configured port, got %d", c.lastCfg.LocalPort)
	}
}

func TestBuildApp_PortFlagOverridesConfig(t *testing.T) {
	var c calls
	app := BuildApp(buildTestApp(&c))
	if err := app.RunContext(context.Background(), []string{"phonepanel", "--port", "6123", "serve"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.serve != 1 || c.lastCfg.LocalPort != 6123 {
		t.Fatalf("expected serve on 6123, got %+v", c)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	var c calls
	app := BuildApp(buildTestApp(&c))
	if err := app.RunContext(context.Background(), []string{"phonepanel", "migrate", "up"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.migrate != 1 || c.serve != 0 {
		t.Fatalf("expected migrate command called once, got %+v", c)
	}
}

func TestBuildApp_SeedCommand(t *testing.T) {
	var c calls
	app := BuildApp(buildTestApp(&c))
	if err := app.RunContext(context.Background(), []string{"phonepanel", "seed"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.seed != 1 {
		t.Fatalf("expected seed command called once, got %+v", c)
	}
}

func TestBuildApp_ConfigErrorStopsCommand(t *testing.T) {
	var c calls
	deps := buildTestApp(&c)
	deps.LoadConfig = func() (config.Config, error) { return config.Config{}, errors.New("bad toml") }
	app := BuildApp(deps)
	if err := app.RunContext(context.Background(), []string{"phonepanel", "serve"}); err == nil {
		t.Fatal("expected config error")
	}
	if c.serve != 0 {
		t.Fatal("serve must not run on config error")
	}
}
