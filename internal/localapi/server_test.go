package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"phonepanel/cli/internal/agent"
	dbmodel "phonepanel/cli/internal/db"
	"phonepanel/cli/internal/historydb"
	"phonepanel/cli/internal/logstream"
	"phonepanel/cli/internal/taskrunner"
	"phonepanel/cli/internal/testcases"
)

type fakeAgent struct {
	result string
	err    error
}

func (f fakeAgent) Run(context.Context, string, agent.Sink) (string, error) {
	return f.result, f.err
}

type fakeDevices struct {
	info agent.DeviceInfo
	err  error
}

func (f fakeDevices) DeviceInfo(context.Context) (agent.DeviceInfo, error) { return f.info, f.err }

type fakeScreens struct {
	raw []byte
	err error
}

func (f fakeScreens) Screenshot(context.Context) ([]byte, error) { return f.raw, f.err }

type testEnv struct {
	srv       *Server
	history   *historydb.Store
	testCases *testcases.Store
	logs      *logstream.Channel
	runner    *taskrunner.Runner
}

func newTestEnv(t *testing.T, a agent.Agent, mutate func(*Deps)) *testEnv {
	t.Helper()
	gdb, err := dbmodel.Open(filepath.Join(t.TempDir(), "phone_agent.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	history, err := historydb.NewStore(gdb)
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	tcs, err := testcases.NewStore(gdb)
	if err != nil {
		t.Fatalf("test case store: %v", err)
	}
	logs := logstream.NewChannel()
	env := &testEnv{history: history, testCases: tcs, logs: logs}
	env.runner, err = taskrunner.New(taskrunner.Options{
		History: history,
		Agents:  agent.Static(a),
		Logs:    logs,
		OnEvent: func(e taskrunner.Event) {
			if env.srv != nil {
				env.srv.PublishTaskEvent(e)
			}
		},
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	deps := Deps{
		History:       history,
		Tasks:         env.runner,
		Logs:          logs,
		TestCases:     tcs,
		LogStreamWait: 2 * time.Second,
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.srv = NewServer(deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.runner.Wait(ctx)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRun_RejectsMissingTask(t *testing.T) {
	env := newTestEnv(t, fakeAgent{result: "ok"}, nil)
	for _, body := range []string{"", "{}", `{"task":"   "}`, "not json", `{"task":5}`} {
		rec := env.do(t, http.MethodPost, "/run", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		got := decodeBody[map[string]string](t, rec)
		if got["error"] != "No task provided" {
			t.Fatalf("body %q: unexpected error %v", body, got)
		}
	}
	recs, _ := env.history.ListRecent(context.Background(), 10)
	if len(recs) != 0 {
		t.Fatalf("rejected requests must not create rows, got %d", len(recs))
	}
	if env.logs.Len() != 0 {
		t.Fatalf("rejected requests must not push logs, got %d", env.logs.Len())
	}
}

func TestRun_StartsTaskAndStreamsLogs(t *testing.T) {
	env := newTestEnv(t, fakeAgent{result: "Settings opened"}, nil)

	rec := env.do(t, http.MethodPost, "/run", `{"task":"open settings"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	started := decodeBody[map[string]any](t, rec)
	if started["status"] != "started" {
		t.Fatalf("unexpected response: %v", started)
	}
	id, ok := started["task_id"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("expected numeric task id, got %v", started["task_id"])
	}

	logs := env.do(t, http.MethodGet, "/logs", "")
	if ct := logs.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if logs.Header().Get("Cache-Control") != "no-cache" || logs.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatalf("missing streaming headers: %v", logs.Header())
	}
	want := "data: Task started: open settings\n\n" +
		"data: Task completed\n\n" +
		"data: Result: Settings opened\n\n" +
		endFrame
	if logs.Body.String() != want {
		t.Fatalf("unexpected stream:\n%q\nwant:\n%q", logs.Body.String(), want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.runner.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	hist := env.do(t, http.MethodGet, "/api/history", "")
	recs := decodeBody[[]historydb.Record](t, hist)
	if len(recs) != 1 || recs[0].ID != int64(id) || recs[0].Status != dbmodel.TaskStatusCompleted {
		t.Fatalf("unexpected history: %+v", recs)
	}
}

func TestRun_FailedTaskVisibleInHistory(t *testing.T) {
	env := newTestEnv(t, fakeAgent{err: errors.New("device driver unreachable")}, nil)
	rec := env.do(t, http.MethodPost, "/run", `{"task":"tap"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stream := env.do(t, http.MethodGet, "/logs", "").Body.String()
	if !strings.Contains(stream, "data: Task failed: device driver unreachable\n\n") || !strings.HasSuffix(stream, endFrame) {
		t.Fatalf("unexpected stream: %q", stream)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = env.runner.Wait(ctx)
	recs := decodeBody[[]historydb.Record](t, env.do(t, http.MethodGet, "/api/history", ""))
	if len(recs) != 1 || recs[0].Status != dbmodel.TaskStatusFailed || recs[0].ResultMessage == nil {
		t.Fatalf("unexpected history: %+v", recs)
	}
}

func TestLogs_TimeoutEndsStream(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, func(d *Deps) { d.LogStreamWait = 20 * time.Millisecond })
	rec := env.do(t, http.MethodGet, "/logs", "")
	if rec.Code != http.StatusOK || rec.Body.String() != endFrame {
		t.Fatalf("expected lone END frame, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestLogs_MultilineAndLiteralEndText(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)
	env.logs.Push("line one\nline two")
	env.logs.Push("__END__")
	env.logs.Close()
	rec := env.do(t, http.MethodGet, "/logs", "")
	want := "data: line one\ndata: line two\n\n" + "data: __END__\n\n" + endFrame
	if rec.Body.String() != want {
		t.Fatalf("unexpected stream %q", rec.Body.String())
	}
}

func TestLogs_ClientDisconnectLeavesQueueIntact(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, func(d *Deps) { d.LogStreamWait = time.Minute })
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/logs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	env.logs.Push("later")
	if env.logs.Len() != 1 {
		t.Fatalf("expected queued message to remain, got %d", env.logs.Len())
	}
}

func TestDevices_FallsBackToPlaceholder(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, func(d *Deps) { d.Devices = fakeDevices{err: errors.New("no wda")} })
	got := decodeBody[[]agent.DeviceInfo](t, env.do(t, http.MethodGet, "/api/devices", ""))
	if len(got) != 1 || got[0] != agent.PlaceholderDevice() {
		t.Fatalf("expected placeholder, got %+v", got)
	}

	known := agent.DeviceInfo{UDID: "abc", Name: "Test Phone", Model: "iPhone15,2", Version: "17.4", Status: "connected"}
	env = newTestEnv(t, fakeAgent{}, func(d *Deps) { d.Devices = fakeDevices{info: known} })
	got = decodeBody[[]agent.DeviceInfo](t, env.do(t, http.MethodGet, "/api/devices", ""))
	if len(got) != 1 || got[0] != known {
		t.Fatalf("expected real device, got %+v", got)
	}
}

func TestScreenshot_DriverFailureReturnsStructuredError(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, func(d *Deps) {
		d.Screenshots = fakeScreens{err: errors.New("device driver unreachable: connection refused")}
	})
	rec := env.do(t, http.MethodGet, "/api/screenshot", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	got := decodeBody[map[string]any](t, rec)
	if got["success"] != false || !strings.Contains(got["error"].(string), "unreachable") {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestScreenshot_ReturnsDataURI(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 800, 1600))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	env := newTestEnv(t, fakeAgent{}, func(d *Deps) { d.Screenshots = fakeScreens{raw: buf.Bytes()} })
	rec := env.do(t, http.MethodGet, "/api/screenshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[map[string]any](t, rec)
	img, _ := got["image"].(string)
	if got["success"] != true || !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected body: %.80v", got)
	}
}

func TestTestCases_CRUDFlow(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)

	rec := env.do(t, http.MethodPost, "/api/test-cases", `{"name":"Open settings","instruction":"打开设置","category":"system"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[testcases.TestCase](t, rec)
	if created.ID <= 0 || !created.IsActive || created.Category != "system" {
		t.Fatalf("unexpected created: %+v", created)
	}

	bad := env.do(t, http.MethodPost, "/api/test-cases", `{"name":"","instruction":""}`)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", bad.Code)
	}

	path := "/api/test-cases/" + jsonNumber(created.ID)
	upd := env.do(t, http.MethodPut, path, `{"name":"Open Settings app"}`)
	if upd.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", upd.Code, upd.Body.String())
	}
	updated := decodeBody[testcases.TestCase](t, upd)
	if updated.Name != "Open Settings app" || updated.Instruction != "打开设置" {
		t.Fatalf("partial update lost fields: %+v", updated)
	}

	list := decodeBody[[]testcases.TestCase](t, env.do(t, http.MethodGet, "/api/test-cases?category=system", ""))
	if len(list) != 1 {
		t.Fatalf("expected one system case, got %d", len(list))
	}

	del := env.do(t, http.MethodDelete, path, "")
	if del.Code != http.StatusOK || decodeBody[map[string]bool](t, del)["success"] != true {
		t.Fatalf("unexpected delete response: %d %s", del.Code, del.Body.String())
	}
	list = decodeBody[[]testcases.TestCase](t, env.do(t, http.MethodGet, "/api/test-cases", ""))
	if len(list) != 0 {
		t.Fatalf("soft-deleted case must be hidden, got %+v", list)
	}
}

func TestTestCases_UnknownIDReturns404(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rec := env.do(t, method, "/api/test-cases/9999", `{"name":"x"}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", method, rec.Code)
		}
		if decodeBody[map[string]string](t, rec)["error"] != "Test case not found" {
			t.Fatalf("%s: unexpected body %s", method, rec.Body.String())
		}
	}
	if rec := env.do(t, http.MethodPut, "/api/test-cases/abc", `{}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", rec.Code)
	}
}

func TestTestCases_InitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)
	first := decodeBody[map[string]any](t, env.do(t, http.MethodPost, "/api/test-cases/init", ""))
	n := float64(len(testcases.DefaultSet))
	if first["count"] != n {
		t.Fatalf("expected %v inserted, got %v", n, first)
	}
	second := decodeBody[map[string]any](t, env.do(t, http.MethodPost, "/api/test-cases/init", ""))
	if second["count"] != n || second["message"] != "Test cases already exist" {
		t.Fatalf("unexpected second init: %v", second)
	}
	list := decodeBody[[]testcases.TestCase](t, env.do(t, http.MethodGet, "/api/test-cases", ""))
	if float64(len(list)) != n {
		t.Fatalf("init must not duplicate rows, got %d", len(list))
	}
}

func TestHandler_CORSAndRequestID(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight: %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get(requestIDHeader))
	}
}

func TestHandler_UnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, fakeAgent{}, nil)
	if rec := env.do(t, http.MethodGet, "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/run", "")
	if rec.Code != http.StatusMethodNotAllowed || decodeBody[map[string]string](t, rec)["error"] == "" {
		t.Fatalf("expected JSON 405, got %d %s", rec.Code, rec.Body.String())
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
