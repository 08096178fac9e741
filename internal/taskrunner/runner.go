package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"phonepanel/cli/internal/agent"
	dbmodel "phonepanel/cli/internal/db"
	"phonepanel/cli/internal/historydb"
)

const (
	DefaultPreviewLimit     = 300
	DefaultErrorDetailLimit = 500

	EventTaskUpdated = "task.updated"
)

// ValidationError reports a rejected task request. Nothing is recorded.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type History interface {
	Create(ctx context.Context, description string) (historydb.Record, error)
	Finish(ctx context.Context, id int64, status, result string) error
}

type AgentSource interface {
	Get(ctx context.Context) (agent.Agent, error)
}

// LogSink is the user-facing progress stream.
type LogSink interface {
	Push(text string)
	Close()
}

type Event struct {
	Type   string `json:"type"`
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

type Options struct {
	History          History
	Agents           AgentSource
	Logs             LogSink
	Logger           *slog.Logger
	PreviewLimit     int
	ErrorDetailLimit int
	OnEvent          func(Event)
}

type Runner struct {
	history      History
	agents       AgentSource
	logs         LogSink
	logger       *slog.Logger
	previewLimit int
	errorLimit   int
	onEvent      func(Event)
	wg           sync.WaitGroup
}

func New(opts Options) (*Runner, error) {
	if opts.History == nil {
		return nil, errors.New("history store is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("agent source is required")
	}
	if opts.Logs == nil {
		return nil, errors.New("log sink is required")
	}
	r := &Runner{
		history:      opts.History,
		agents:       opts.Agents,
		logs:         opts.Logs,
		logger:       opts.Logger,
		previewLimit: opts.PreviewLimit,
		errorLimit:   opts.ErrorDetailLimit,
		onEvent:      opts.OnEvent,
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.previewLimit <= 0 {
		r.previewLimit = DefaultPreviewLimit
	}
	if r.errorLimit <= 0 {
		r.errorLimit = DefaultErrorDetailLimit
	}
	return r, nil
}

// Start records a running task and executes it in the background. The
// returned id is valid as soon as Start returns.
func (r *Runner) Start(ctx context.Context, description string) (int64, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return 0, &ValidationError{Message: "No task provided"}
	}
	rec, err := r.history.Create(ctx, desc)
	if err != nil {
		return 0, fmt.Errorf("record task: %w", err)
	}
	r.emit(rec.ID, dbmodel.TaskStatusRunning)

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(runCtx, rec.ID, desc)
	}()
	return rec.ID, nil
}

// Wait blocks until every started task finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, id int64, desc string) {
	lg := r.logger.With("task_id", id)
	defer r.logs.Close()

	result, err := r.invoke(ctx, lg, desc)
	if err != nil {
		r.logs.Push("Task failed: " + err.Error())
		r.finish(ctx, lg, id, dbmodel.TaskStatusFailed, errorDetail(err, r.errorLimit))
		return
	}
	r.logs.Push("Task completed")
	r.logs.Push("Result: " + clip(result, r.previewLimit))
	r.finish(ctx, lg, id, dbmodel.TaskStatusCompleted, result)
}

func (r *Runner) invoke(ctx context.Context, lg *slog.Logger, desc string) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error("task panicked", "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	r.logs.Push("Task started: " + desc)
	a, err := r.agents.Get(ctx)
	if err != nil {
		return "", err
	}
	lg.Info("task running")
	return a.Run(ctx, desc, agent.LoggerSink(lg))
}

func (r *Runner) finish(ctx context.Context, lg *slog.Logger, id int64, status, result string) {
	if err := r.history.Finish(ctx, id, status, result); err != nil {
		lg.Error("record task outcome failed", "status", status, "err", err)
	} else {
		lg.Info("task finished", "status", status)
	}
	r.emit(id, status)
}

func (r *Runner) emit(id int64, status string) {
	if r.onEvent == nil {
		return
	}
	r.onEvent(Event{Type: EventTaskUpdated, TaskID: id, Status: status})
}

// errorDetail renders the message plus each wrapped cause, clipped to limit runes.
func errorDetail(err error, limit int) string {
	var b strings.Builder
	b.WriteString(err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(&b, "\ncaused by %T: %v", cause, cause)
	}
	return clip(b.String(), limit)
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
