package appserver

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const defaultDevProxyURL = "http://127.0.0.1:5173"

func newWebUIHandler(cfg WebUIConfig) (http.Handler, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "prod"
	}
	if mode == "prod" {
		dist := cfg.DistDir
		if dist == "" {
			dist = filepath.Clean("../frontend-vue/dist")
		}
		return newSPAHandler(dist), nil
	}
	proxyURL := cfg.DevProxyURL
	if proxyURL == "" {
		proxyURL = defaultDevProxyURL
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, routeError("invalid dev proxy url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, e error) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "web UI dev server unavailable at " + u.String()})
	}
	return proxy, nil
}

type spaHandler struct {
	dist string
}

func newSPAHandler(dist string) http.Handler {
	return &spaHandler{dist: dist}
}

// ServeHTTP serves built assets and falls back to index.html for client routes.
func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}
	indexPath := filepath.Join(h.dist, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "web UI is not built: " + indexPath + " missing"})
		return
	}
	clean := filepath.Clean("/" + r.URL.Path)
	if clean == "/" {
		http.ServeFile(w, r, indexPath)
		return
	}
	candidate := filepath.Join(h.dist, strings.TrimPrefix(clean, "/"))
	if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, indexPath)
}
