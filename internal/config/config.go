package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const configTOMLFileName = "config.toml"

type Config struct {
	ConfigDir string `toml:"-"`

	ModelBaseURL string `toml:"model_base_url"`
	ModelAPIKey  string `toml:"model_api_key,omitempty"`
	ModelName    string `toml:"model_name"`
	WDAURL       string `toml:"wda_url"`
	Lang         string `toml:"lang"`
	AgentMaxStep int    `toml:"agent_max_steps"`

	LocalHost string `toml:"host"`
	LocalPort int    `toml:"port"`
	DBPath    string `toml:"db_path,omitempty"`
	LogLevel  string `toml:"log_level"`

	WebUIMode        string `toml:"webui_mode"`
	WebUIDevProxyURL string `toml:"webui_dev_proxy_url"`
	WebUIDistDir     string `toml:"webui_dist_dir,omitempty"`

	LogStreamWaitSeconds int `toml:"log_stream_wait_seconds"`
	PreviewLimit         int `toml:"preview_limit"`
	ErrorDetailLimit     int `toml:"error_detail_limit"`
	ScreenshotMaxWidth   int `toml:"screenshot_max_width"`
}

func (c Config) LogStreamWait() time.Duration {
	return time.Duration(c.LogStreamWaitSeconds) * time.Second
}

func Defaults() Config {
	return Config{
		ModelBaseURL:         "https://open.bigmodel.cn/api/paas/v4",
		ModelName:            "autoglm-phone",
		WDAURL:               "http://localhost:8100",
		Lang:                 "cn",
		AgentMaxStep:         30,
		LocalHost:            "0.0.0.0",
		LocalPort:            5001,
		LogLevel:             "info",
		WebUIMode:            "prod",
		WebUIDevProxyURL:     "http://127.0.0.1:5173",
		LogStreamWaitSeconds: 60,
		PreviewLimit:         300,
		ErrorDetailLimit:     500,
		ScreenshotMaxWidth:   400,
	}
}

// LoadConfig resolves defaults, then config.toml in the config dir, then
// environment variables. A missing config.toml is created with the defaults;
// values that depend on the machine or the binary location are left out of it
// and resolved on every load.
func LoadConfig() (Config, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return Config{}, err
	}
	return LoadConfigFrom(dir)
}

func LoadConfigFrom(dir string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(dir) != "" {
		if err := loadOrInitFile(dir, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigDir = dir
	}
	applyEnv(&cfg)
	return normalize(cfg), nil
}

// DefaultConfigDir returns ~/.config/phonepanel.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PHONEPANEL_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "phonepanel"), nil
}

func loadOrInitFile(dir string, cfg *Config) error {
	path := filepath.Join(dir, configTOMLFileName)
	b, err := os.ReadFile(path)
	if err == nil {
		return toml.Unmarshal(b, cfg)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(path, cfg)
}

func applyEnv(cfg *Config) {
	setString(&cfg.ModelBaseURL, "OPENAI_ENDPOINT")
	setString(&cfg.ModelAPIKey, "OPENAI_API_KEY")
	setString(&cfg.ModelName, "OPENAI_MODEL")
	setString(&cfg.WDAURL, "WDA_URL")
	setString(&cfg.Lang, "PHONEPANEL_LANG")
	setInt(&cfg.AgentMaxStep, "PHONEPANEL_AGENT_MAX_STEPS")
	setString(&cfg.LocalHost, "PHONEPANEL_HOST")
	setInt(&cfg.LocalPort, "PHONEPANEL_PORT")
	setString(&cfg.DBPath, "PHONEPANEL_DB_PATH")
	setString(&cfg.LogLevel, "PHONEPANEL_LOG_LEVEL")
	setString(&cfg.WebUIMode, "PHONEPANEL_WEBUI_MODE")
	setString(&cfg.WebUIDevProxyURL, "PHONEPANEL_WEBUI_DEV_PROXY_URL")
	setString(&cfg.WebUIDistDir, "PHONEPANEL_WEBUI_DIST_DIR")
	setInt(&cfg.LogStreamWaitSeconds, "PHONEPANEL_LOG_STREAM_WAIT_SECONDS")
	setInt(&cfg.PreviewLimit, "PHONEPANEL_PREVIEW_LIMIT")
	setInt(&cfg.ErrorDetailLimit, "PHONEPANEL_ERROR_DETAIL_LIMIT")
}

func normalize(cfg Config) Config {
	d := Defaults()
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = d.LocalPort
	}
	if cfg.AgentMaxStep <= 0 {
		cfg.AgentMaxStep = d.AgentMaxStep
	}
	if cfg.LogStreamWaitSeconds <= 0 {
		cfg.LogStreamWaitSeconds = d.LogStreamWaitSeconds
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = d.PreviewLimit
	}
	if cfg.ErrorDetailLimit <= 0 {
		cfg.ErrorDetailLimit = d.ErrorDetailLimit
	}
	if cfg.ScreenshotMaxWidth <= 0 {
		cfg.ScreenshotMaxWidth = d.ScreenshotMaxWidth
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Lang)) {
	case "en":
		cfg.Lang = "en"
	default:
		cfg.Lang = "cn"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.WebUIMode)) {
	case "dev":
		cfg.WebUIMode = "dev"
	default:
		cfg.WebUIMode = "prod"
	}
	if strings.TrimSpace(cfg.WebUIDistDir) == "" {
		cfg.WebUIDistDir = defaultWebUIDistDir()
	}
	if strings.TrimSpace(cfg.DBPath) == "" && cfg.ConfigDir != "" {
		cfg.DBPath = filepath.Join(cfg.ConfigDir, "phone_agent.db")
	}
	return cfg
}

func defaultWebUIDistDir() string {
	execPath, err := os.Executable()
	if err != nil || execPath == "" {
		return filepath.Clean("../frontend-vue/dist")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(execPath), "..", "frontend-vue", "dist"))
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if n := atoiOrDefault(strings.TrimSpace(os.Getenv(key)), 0); n > 0 {
		*dst = n
	}
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func atoiOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
