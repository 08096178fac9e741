package localapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"phonepanel/cli/internal/logging"
	"phonepanel/cli/internal/logstream"
)

const endFrame = "data: END\n\n"

func (s *Server) registerLogRoutes() {
	s.mux.HandleFunc("/logs", s.handleLogs)
}

// handleLogs relays the shared log channel as server-sent events until the
// sentinel arrives, the wait times out, or the client goes away.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.Logs == nil {
		respondError(w, http.StatusInternalServerError, "log stream is unavailable")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	flush()

	ctx := r.Context()
	lg := logging.FromContext(ctx, s.logger)
	for {
		entry, err := s.deps.Logs.Next(ctx, s.deps.LogStreamWait)
		switch {
		case errors.Is(err, logstream.ErrTimeout):
			lg.Debug("log stream idle, closing")
			_, _ = io.WriteString(w, endFrame)
			flush()
			return
		case err != nil:
			return
		case entry.End:
			_, _ = io.WriteString(w, endFrame)
			flush()
			return
		}
		if _, err := io.WriteString(w, sseFrame(entry.Text)); err != nil {
			lg.Debug("log stream write failed", "err", err)
			return
		}
		flush()
	}
}

// sseFrame renders text as one event, one data line per text line.
func sseFrame(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
