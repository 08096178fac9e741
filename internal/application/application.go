package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"phonepanel/cli/internal/agent"
	"phonepanel/cli/internal/appserver"
	"phonepanel/cli/internal/config"
	dbmodel "phonepanel/cli/internal/db"
	"phonepanel/cli/internal/historydb"
	"phonepanel/cli/internal/lifecycle"
	"phonepanel/cli/internal/localapi"
	"phonepanel/cli/internal/logstream"
	"phonepanel/cli/internal/phoneagent"
	"phonepanel/cli/internal/taskrunner"
	"phonepanel/cli/internal/testcases"
	"phonepanel/cli/internal/wda"
)

const (
	httpShutdownTimeout = 3 * time.Second
	taskDrainTimeout    = 10 * time.Second
)

type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *gorm.DB
	listener net.Listener
	server   *http.Server
	runner   *taskrunner.Runner
	mgr      *lifecycle.Manager
}

// Start opens the database, builds every collaborator and binds the HTTP
// listener. Serving begins with Run.
func Start(ctx context.Context, opts StartOptions) (*Application, error) {
	cfg := opts.Config
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}

	gdb, err := dbmodel.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app, err := build(ctx, cfg, lg, gdb, opts.Hooks)
	if err != nil {
		_ = dbmodel.Close(gdb)
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg config.Config, lg *slog.Logger, gdb *gorm.DB, hooks Hooks) (*Application, error) {
	history, err := historydb.NewStore(gdb)
	if err != nil {
		return nil, err
	}
	// Rows left running by a previous server can never be finished by it.
	orphaned, err := history.FailOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail orphaned tasks: %w", err)
	}
	if orphaned > 0 {
		lg.Warn("failed orphaned running tasks", "count", orphaned)
	}
	tcs, err := testcases.NewStore(gdb)
	if err != nil {
		return nil, err
	}

	factory := hooks.AgentFactory
	if factory == nil {
		factory = phoneAgentFactory(cfg)
	}
	agents := agent.NewHandle(factory)
	var screens localapi.Screenshotter = hooks.Screenshots
	if screens == nil {
		screens = wda.NewClient(cfg.WDAURL, nil)
	}

	logs := logstream.NewChannel()
	var api *localapi.Server
	runner, err := taskrunner.New(taskrunner.Options{
		History:          history,
		Agents:           agents,
		Logs:             logs,
		Logger:           lg.With("module", "taskrunner"),
		PreviewLimit:     cfg.PreviewLimit,
		ErrorDetailLimit: cfg.ErrorDetailLimit,
		OnEvent: func(e taskrunner.Event) {
			if api != nil {
				api.PublishTaskEvent(e)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	api = localapi.NewServer(localapi.Deps{
		History:            history,
		Tasks:              runner,
		Logs:               logs,
		Devices:            agents,
		Screenshots:        screens,
		TestCases:          tcs,
		Logger:             lg.With("module", "localapi"),
		LogStreamWait:      cfg.LogStreamWait(),
		ScreenshotMaxWidth: cfg.ScreenshotMaxWidth,
	})
	front, err := appserver.NewServer(appserver.Deps{
		LocalAPI: api.Handler(),
		WebUI: appserver.WebUIConfig{
			Mode:        cfg.WebUIMode,
			DevProxyURL: cfg.WebUIDevProxyURL,
			DistDir:     cfg.WebUIDistDir,
		},
	})
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.LocalHost, fmt.Sprint(cfg.LocalPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	app := &Application{
		cfg:      cfg,
		logger:   lg,
		db:       gdb,
		listener: ln,
		server:   &http.Server{Handler: front.Handler(), ReadHeaderTimeout: 10 * time.Second},
		runner:   runner,
		mgr:      lifecycle.NewManager(),
	}
	app.registerJobs()
	return app, nil
}

func phoneAgentFactory(cfg config.Config) agent.Factory {
	return func(context.Context) (agent.Agent, error) {
		return phoneagent.New(phoneagent.Config{
			ModelBaseURL: cfg.ModelBaseURL,
			ModelAPIKey:  cfg.ModelAPIKey,
			ModelName:    cfg.ModelName,
			WDAURL:       cfg.WDAURL,
			Lang:         cfg.Lang,
			MaxSteps:     cfg.AgentMaxStep,
		})
	}
}

func (a *Application) registerJobs() {
	a.mgr.SetLogger(a.logger.With("module", "lifecycle"))
	a.mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			_ = a.server.Shutdown(shutdownCtx)
		}()
		a.logger.Info("http server listening", "addr", a.listener.Addr().String())
		err := a.server.Serve(a.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Shutdown jobs run in reverse: stop HTTP, drain tasks, close the DB.
	a.mgr.AddShutdown("close-db", func(context.Context) error {
		return dbmodel.Close(a.db)
	})
	a.mgr.AddShutdown("drain-tasks", func(ctx context.Context) error {
		drainCtx, cancel := context.WithTimeout(ctx, taskDrainTimeout)
		defer cancel()
		if err := a.runner.Wait(drainCtx); err != nil {
			a.logger.Warn("tasks still running at shutdown", "err", err)
		}
		return nil
	})
	a.mgr.AddShutdown("http-server-shutdown", func(ctx context.Context) error {
		err := a.server.Shutdown(ctx)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil || a.listener == nil {
		return ""
	}
	return "http://" + a.listener.Addr().String()
}

func (a *Application) DBPath() string {
	if a == nil {
		return ""
	}
	return a.cfg.DBPath
}

// Run serves until ctx is cancelled, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.mgr == nil {
		return nil
	}
	return a.mgr.StartAndWait(ctx)
}

// Close releases the listener and database of an application that was
// started but never run.
func (a *Application) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.listener != nil {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, dbmodel.Close(a.db))
	return errors.Join(errs...)
}
