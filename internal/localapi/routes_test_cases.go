package localapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"phonepanel/cli/internal/logging"
	"phonepanel/cli/internal/testcases"
)

const testCaseNotFound = "Test case not found"

func (s *Server) registerTestCaseRoutes() {
	s.mux.HandleFunc("/api/test-cases", s.handleTestCases)
	s.mux.HandleFunc("/api/test-cases/init", s.handleTestCasesInit)
	s.mux.HandleFunc("/api/test-cases/{id}", s.handleTestCaseItem)
}

func (s *Server) handleTestCases(w http.ResponseWriter, r *http.Request) {
	if s.deps.TestCases == nil {
		respondError(w, http.StatusInternalServerError, "test case store is unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.deps.TestCases.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("category")))
		if err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		if items == nil {
			items = []testcases.TestCase{}
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var in testcases.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		tc, err := s.deps.TestCases.Create(r.Context(), in)
		if err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tc)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTestCaseItem(w http.ResponseWriter, r *http.Request) {
	if s.deps.TestCases == nil {
		respondError(w, http.StatusInternalServerError, "test case store is unavailable")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusNotFound, testCaseNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var patch testcases.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		tc, err := s.deps.TestCases.Update(r.Context(), id, patch)
		if err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tc)
	case http.MethodDelete:
		if err := s.deps.TestCases.Delete(r.Context(), id); err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTestCasesInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.deps.TestCases == nil {
		respondError(w, http.StatusInternalServerError, "test case store is unavailable")
		return
	}
	inserted, existing, err := s.deps.TestCases.SeedDefaults(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if inserted == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Test cases already exist", "count": existing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("Initialized %d test cases", inserted), "count": inserted})
}

func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *testcases.ValidationError
	switch {
	case errors.Is(err, testcases.ErrNotFound):
		respondError(w, http.StatusNotFound, testCaseNotFound)
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	default:
		logging.FromContext(r.Context(), s.logger).Error("test case store failed", "err", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
