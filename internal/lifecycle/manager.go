package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

const DefaultShutdownTimeout = 10 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs until the first failure or cancellation and
// then runs shutdown hooks in reverse registration order.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewManager() *Manager {
	return &Manager{shutdownTimeout: DefaultShutdownTimeout}
}

func (m *Manager) SetLogger(lg *slog.Logger) {
	m.mu.Lock()
	m.logger = lg
	m.mu.Unlock()
}

func (m *Manager) SetShutdownTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.shutdownTimeout = d
	m.mu.Unlock()
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs, shutdownJobs, lg, timeout := m.snapshot()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lg.Debug("lifecycle run start", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("lifecycle run failed", "job", j.name, "err", err)
				errCh <- err
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		lg.Info("lifecycle stopping", "reason", context.Cause(ctx))
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("lifecycle shutdown failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job, *slog.Logger, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]job, len(m.runJobs))
	copy(runs, m.runJobs)
	shutdowns := make([]job, len(m.shutdownJobs))
	copy(shutdowns, m.shutdownJobs)
	lg := m.logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return runs, shutdowns, lg, m.shutdownTimeout
}
