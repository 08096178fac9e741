package localapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"phonepanel/cli/internal/agent"
	"phonepanel/cli/internal/historydb"
	"phonepanel/cli/internal/logstream"
	"phonepanel/cli/internal/taskrunner"
	"phonepanel/cli/internal/testcases"
)

const (
	defaultLogStreamWait      = 60 * time.Second
	defaultScreenshotMaxWidth = 400
)

type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]historydb.Record, error)
}

type TaskStarter interface {
	Start(ctx context.Context, description string) (int64, error)
}

type LogSource interface {
	Next(ctx context.Context, timeout time.Duration) (logstream.Entry, error)
}

type DeviceSource interface {
	DeviceInfo(ctx context.Context) (agent.DeviceInfo, error)
}

type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

type TestCaseStore interface {
	List(ctx context.Context, category string) ([]testcases.TestCase, error)
	Create(ctx context.Context, in testcases.Input) (testcases.TestCase, error)
	Update(ctx context.Context, id int64, patch testcases.Patch) (testcases.TestCase, error)
	Delete(ctx context.Context, id int64) error
	SeedDefaults(ctx context.Context) (inserted int, existing int64, err error)
}

type Deps struct {
	History     HistoryReader
	Tasks       TaskStarter
	Logs        LogSource
	Devices     DeviceSource
	Screenshots Screenshotter
	TestCases   TestCaseStore
	Logger      *slog.Logger

	LogStreamWait      time.Duration
	ScreenshotMaxWidth int
}

type Server struct {
	deps   Deps
	mux    *http.ServeMux
	hub    *WSHub
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.LogStreamWait <= 0 {
		deps.LogStreamWait = defaultLogStreamWait
	}
	if deps.ScreenshotMaxWidth <= 0 {
		deps.ScreenshotMaxWidth = defaultScreenshotMaxWidth
	}
	lg := deps.Logger
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: NewWSHub(lg), logger: lg}
	s.registerTaskRoutes()
	s.registerLogRoutes()
	s.registerDeviceRoutes()
	s.registerTestCaseRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	s.mux.HandleFunc("/", s.handleNotFound)
	return s
}

// Handler returns the API with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	return withRequestLog(s.logger, withCORS(s.mux))
}

// PublishTaskEvent forwards a task lifecycle change to WebSocket clients.
func (s *Server) PublishTaskEvent(e taskrunner.Event) {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Publish(e.Type, map[string]any{"task_id": e.TaskID, "status": e.Status})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ws_clients": s.hub.ClientCount()})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusNotFound, "Not found")
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
