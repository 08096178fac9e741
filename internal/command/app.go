package command

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"phonepanel/cli/internal/config"
)

type Deps struct {
	LoadConfig   func() (config.Config, error)
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	RunSeed      func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "phonepanel",
		Usage: "web control panel for the phone automation agent",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "override the listen port"},
			&cli.StringFlag{Name: "host", Usage: "override the listen host"},
		},
		Action: func(ctx *cli.Context) error {
			return withConfig(ctx, deps, runServe(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the web panel",
				Action: func(ctx *cli.Context) error {
					return withConfig(ctx, deps, runServe(deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "sync the database schema",
						Action: func(ctx *cli.Context) error {
							return withConfig(ctx, deps, func(c context.Context, cfg config.Config) error {
								if deps.RunMigrateUp == nil {
									return errors.New("migrate up runner is not configured")
								}
								return deps.RunMigrateUp(c, cfg)
							})
						},
					},
				},
			},
			{
				Name:  "seed",
				Usage: "insert the default test cases when none exist",
				Action: func(ctx *cli.Context) error {
					return withConfig(ctx, deps, func(c context.Context, cfg config.Config) error {
						if deps.RunSeed == nil {
							return errors.New("seed runner is not configured")
						}
						return deps.RunSeed(c, cfg)
					})
				},
			},
		},
	}
}

func runServe(deps Deps) func(context.Context, config.Config) error {
	return func(ctx context.Context, cfg config.Config) error {
		if deps.RunServe == nil {
			return errors.New("serve runner is not configured")
		}
		return deps.RunServe(ctx, cfg)
	}
}

func withConfig(ctx *cli.Context, deps Deps, fn func(context.Context, config.Config) error) error {
	cfg, err := loadConfig(deps)
	if err != nil {
		return err
	}
	if port := ctx.Int("port"); port > 0 {
		cfg.LocalPort = port
	}
	if host := ctx.String("host"); host != "" {
		cfg.LocalHost = host
	}
	return fn(ctx.Context, cfg)
}

func loadConfig(deps Deps) (config.Config, error) {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}
