package localapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"phonepanel/cli/internal/historydb"
	"phonepanel/cli/internal/logging"
	"phonepanel/cli/internal/taskrunner"
)

const noTaskMessage = "No task provided"

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/run", s.handleRun)
	s.mux.HandleFunc("/api/history", s.handleHistory)
}

type runRequest struct {
	Task string `json:"task"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.deps.Tasks == nil {
		respondError(w, http.StatusInternalServerError, "task runner is unavailable")
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, noTaskMessage)
		return
	}
	id, err := s.deps.Tasks.Start(r.Context(), req.Task)
	if err != nil {
		var verr *taskrunner.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, noTaskMessage)
			return
		}
		logging.FromContext(r.Context(), s.logger).Error("start task failed", "err", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "task_id": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.History == nil {
		respondError(w, http.StatusInternalServerError, "history store is unavailable")
		return
	}
	recs, err := s.deps.History.ListRecent(r.Context(), historydb.DefaultListLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []historydb.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
