package localapi

import (
	"errors"
	"net/http"

	"phonepanel/cli/internal/agent"
	"phonepanel/cli/internal/logging"
	"phonepanel/cli/internal/screenshot"
)

func (s *Server) registerDeviceRoutes() {
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/screenshot", s.handleScreenshot)
}

// handleDevices never fails: any lookup error yields the placeholder device.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	device := agent.PlaceholderDevice()
	if s.deps.Devices != nil {
		info, err := s.deps.Devices.DeviceInfo(r.Context())
		if err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("device info unavailable", "err", err)
		} else {
			device = info
		}
	}
	writeJSON(w, http.StatusOK, []agent.DeviceInfo{device})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	image, err := s.captureScreenshot(r)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("screenshot failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "image": image})
}

func (s *Server) captureScreenshot(r *http.Request) (string, error) {
	if s.deps.Screenshots == nil {
		return "", errors.New("device driver is not configured")
	}
	raw, err := s.deps.Screenshots.Screenshot(r.Context())
	if err != nil {
		return "", err
	}
	return screenshot.Thumbnail(raw, s.deps.ScreenshotMaxWidth, screenshot.DefaultQuality)
}
