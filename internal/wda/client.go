package wda

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StatusError is returned when the driver answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device driver %s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type DeviceInfo struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	OSVersion string `json:"-"`
}

type Status struct {
	State     string
	OSName    string
	OSVersion string
	SessionID string
}

// Client talks to a WebDriverAgent endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out struct {
		SessionID string `json:"sessionId"`
		Value     struct {
			State string `json:"state"`
			OS    struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"os"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return Status{}, err
	}
	return Status{
		State:     out.Value.State,
		OSName:    out.Value.OS.Name,
		OSVersion: out.Value.OS.Version,
		SessionID: out.SessionID,
	}, nil
}

// Screenshot returns the current screen as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/screenshot", nil, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Value) == "" {
		return nil, errors.New("device driver returned an empty screenshot")
	}
	raw, err := base64.StdEncoding.DecodeString(out.Value)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return raw, nil
}

func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var out struct {
		Value DeviceInfo `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/wda/device/info", nil, &out); err != nil {
		return DeviceInfo{}, err
	}
	info := out.Value
	if st, err := c.Status(ctx); err == nil {
		info.OSVersion = st.OSVersion
	}
	return info, nil
}

func (c *Client) PressHome(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/wda/homescreen", map[string]any{}, nil)
}

func (c *Client) Tap(ctx context.Context, x, y float64) error {
	return c.withSession(ctx, func(sid string) error {
		return c.do(ctx, http.MethodPost, "/session/"+sid+"/wda/tap/0", map[string]any{"x": x, "y": y}, nil)
	})
}

func (c *Client) Swipe(ctx context.Context, fromX, fromY, toX, toY float64, duration time.Duration) error {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	body := map[string]any{
		"fromX":    fromX,
		"fromY":    fromY,
		"toX":      toX,
		"toY":      toY,
		"duration": duration.Seconds(),
	}
	return c.withSession(ctx, func(sid string) error {
		return c.do(ctx, http.MethodPost, "/session/"+sid+"/wda/dragfromtoforduration", body, nil)
	})
}

func (c *Client) TypeText(ctx context.Context, text string) error {
	keys := make([]string, 0, len(text))
	for _, r := range text {
		keys = append(keys, string(r))
	}
	return c.withSession(ctx, func(sid string) error {
		return c.do(ctx, http.MethodPost, "/session/"+sid+"/wda/keys", map[string]any{"value": keys}, nil)
	})
}

func (c *Client) LaunchApp(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return errors.New("bundle id is required")
	}
	return c.withSession(ctx, func(sid string) error {
		return c.do(ctx, http.MethodPost, "/session/"+sid+"/wda/apps/launch", map[string]any{"bundleId": bundleID}, nil)
	})
}

// withSession runs fn with a live session id, recreating the session once if
// the driver reports it as gone.
func (c *Client) withSession(ctx context.Context, fn func(sid string) error) error {
	sid, err := c.session(ctx)
	if err != nil {
		return err
	}
	err = fn(sid)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		c.resetSession(sid)
		if sid, err = c.session(ctx); err != nil {
			return err
		}
		return fn(sid)
	}
	return err
}

func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}
	var out struct {
		SessionID string `json:"sessionId"`
		Value     struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	body := map[string]any{"capabilities": map[string]any{}}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	sid := strings.TrimSpace(out.Value.SessionID)
	if sid == "" {
		sid = strings.TrimSpace(out.SessionID)
	}
	if sid == "" {
		return "", errors.New("device driver returned no session id")
	}
	c.sessionID = sid
	return sid, nil
}

func (c *Client) resetSession(sid string) {
	c.mu.Lock()
	if c.sessionID == sid {
		c.sessionID = ""
	}
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c == nil || c.baseURL == "" {
		return errors.New("device driver url is not configured")
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("device driver unreachable: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{Method: method, Path: path, Code: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
