package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"phonepanel/cli/internal/application"
	"phonepanel/cli/internal/command"
	"phonepanel/cli/internal/config"
	dbmodel "phonepanel/cli/internal/db"
	"phonepanel/cli/internal/logging"
	"phonepanel/cli/internal/testcases"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:   config.LoadConfig,
		RunServe:     runServe,
		RunMigrateUp: runMigrateUp,
		RunSeed:      runSeed,
	})
	app.Version = version

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "phonepanel"}).Error("phonepanel failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "phonepanel"})
}

func runServe(ctx context.Context, cfg config.Config) error {
	lg := newLogger(cfg)
	app, err := application.Start(ctx, application.StartOptions{Config: cfg, Logger: lg})
	if err != nil {
		return err
	}
	lg.Info("phonepanel started",
		"version", version,
		"url", app.LocalAPIBaseURL(),
		"db", app.DBPath(),
		"wda", cfg.WDAURL,
		"model", cfg.ModelName,
		"webui_mode", cfg.WebUIMode,
	)
	return app.Run(ctx)
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	gdb, err := dbmodel.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	newLogger(cfg).Info("schema synced", "db", cfg.DBPath)
	return dbmodel.Close(gdb)
}

func runSeed(ctx context.Context, cfg config.Config) (err error) {
	gdb, err := dbmodel.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, dbmodel.Close(gdb)) }()
	st, err := testcases.NewStore(gdb)
	if err != nil {
		return err
	}
	inserted, existing, err := st.SeedDefaults(ctx)
	if err != nil {
		return err
	}
	newLogger(cfg).Info("seed finished", "inserted", inserted, "existing", existing)
	return nil
}
