package appserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type WebUIConfig struct {
	Mode        string
	DevProxyURL string
	DistDir     string
}

type Deps struct {
	LocalAPI http.Handler
	WebUI    WebUIConfig
}

type Server struct {
	local http.Handler
	webui http.Handler
}

func NewServer(deps Deps) (*Server, error) {
	if deps.LocalAPI == nil {
		return nil, routeError("local api handler is required")
	}
	webui, err := newWebUIHandler(deps.WebUI)
	if err != nil {
		return nil, err
	}
	return &Server{local: deps.LocalAPI, webui: webui}, nil
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if isLocalAPIPath(r.URL.Path) {
		s.local.ServeHTTP(w, r)
		return
	}
	s.webui.ServeHTTP(w, r)
}

func isLocalAPIPath(p string) bool {
	switch p {
	case "/run", "/logs", "/ws", "/healthz", "/api":
		return true
	}
	return strings.HasPrefix(p, "/api/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func routeError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
