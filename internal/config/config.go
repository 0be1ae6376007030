package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/zenflow/internal/calendar"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Gemini   GeminiConfig
	Pipeline PipelineConfig
	Calendar CalendarConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Timeout    string
}

type PipelineConfig struct {
	MaxVideos        int
	ConcurrentStages bool
	VerifyVideos     bool
}

type CalendarConfig struct {
	APIKey      string
	ClientID    string
	AccessToken string
	BaseURL     string
	CalendarID  string
	// File is an exported calendar used for sync when Google credentials
	// are not configured.
	File string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4040,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Gemini: GeminiConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			TextModel:  "gemini-2.5-flash",
			ImageModel: "imagen-4.0-generate-001",
			Timeout:    "60s",
		},
		Pipeline: PipelineConfig{
			MaxVideos:        3,
			ConcurrentStages: true,
			VerifyVideos:     true,
		},
		Calendar: CalendarConfig{
			BaseURL:    "https://www.googleapis.com/calendar/v3",
			CalendarID: "primary",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.zenflow.app) and secrets
// fall back to macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/zenflow/config.yaml
// and secrets fall back to $XDG_DATA_HOME/zenflow/secrets.json.
//
// Environment variables (ZENFLOW_*) override backend values on all platforms.
// Missing secrets are not an error here; see RequireGemini and
// CalendarConfigured.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	return cfg, nil
}

// RequireGemini returns an error naming where to put the Gemini API key when
// it is missing.
func (c Config) RequireGemini() error {
	if strings.TrimSpace(c.Gemini.APIKey) != "" {
		return nil
	}
	return fmt.Errorf("missing required config: Gemini API key. "+
		"Set it via environment variable ZENFLOW_GEMINI_API_KEY or `zenflow config set-secret gemini.api_key <key>`%s", apiKeyHint())
}

// CalendarConfigured reports whether Google Calendar credentials are set.
// Placeholder values count as unset.
func (c Config) CalendarConfigured() bool {
	return calendar.CheckCredentials(c.Calendar.APIKey, c.Calendar.ClientID) == nil
}

// GeminiTimeout parses Gemini.Timeout, falling back to 60s.
func (c Config) GeminiTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gemini.Timeout)
	if err != nil || d <= 0 {
		slog.Warn("config: invalid gemini.timeout, using default 60s", "value", c.Gemini.Timeout)
		return 60 * time.Second
	}
	return d
}

// SlogLevel maps Log.Level to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
