package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

// keychainService is the service name secrets are stored under.
const keychainService = "zenflow"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ZENFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ZENFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ZENFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "gemini.base_url", typ: kString, env: "ZENFLOW_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.text_model", typ: kString, env: "ZENFLOW_GEMINI_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.TextModel },
	},
	{
		key: "gemini.image_model", typ: kString, env: "ZENFLOW_GEMINI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.ImageModel },
	},
	{
		key: "gemini.timeout", typ: kString, env: "ZENFLOW_GEMINI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Timeout },
	},
	{
		key: "gemini.api_key", typ: kString, env: "ZENFLOW_GEMINI_API_KEY",
		secret: true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "pipeline.max_videos", typ: kInt, env: "ZENFLOW_PIPELINE_MAX_VIDEOS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxVideos = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxVideos },
	},
	{
		key: "pipeline.concurrent_stages", typ: kBool, env: "ZENFLOW_PIPELINE_CONCURRENT_STAGES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ConcurrentStages = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.ConcurrentStages },
	},
	{
		key: "pipeline.verify_videos", typ: kBool, env: "ZENFLOW_PIPELINE_VERIFY_VIDEOS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.VerifyVideos = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.VerifyVideos },
	},
	{
		key: "calendar.base_url", typ: kString, env: "ZENFLOW_CALENDAR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Calendar.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.BaseURL },
	},
	{
		key: "calendar.calendar_id", typ: kString, env: "ZENFLOW_CALENDAR_ID",
		apply:   func(cfg *Config, v any) { cfg.Calendar.CalendarID = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.CalendarID },
	},
	{
		key: "calendar.file", typ: kString, env: "ZENFLOW_CALENDAR_FILE",
		apply:   func(cfg *Config, v any) { cfg.Calendar.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.File },
	},
	{
		key: "calendar.api_key", typ: kString, env: "ZENFLOW_CALENDAR_API_KEY",
		secret: true, account: "calendar_api_key",
		apply:   func(cfg *Config, v any) { cfg.Calendar.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.APIKey },
	},
	{
		key: "calendar.client_id", typ: kString, env: "ZENFLOW_CALENDAR_CLIENT_ID",
		secret: true, account: "calendar_client_id",
		apply:   func(cfg *Config, v any) { cfg.Calendar.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.ClientID },
	},
	{
		key: "calendar.access_token", typ: kString, env: "ZENFLOW_CALENDAR_ACCESS_TOKEN",
		secret: true, account: "calendar_access_token",
		apply:   func(cfg *Config, v any) { cfg.Calendar.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.AccessToken },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "boolean"
	default:
		return "string"
	}
}

// parse converts raw text to the Go value apply expects for t.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	default:
		return raw, nil
	}
}

func warnUnparsable(source, name, raw string, t keyType, err error) {
	fmt.Fprintf(os.Stderr, "[WARN] %s %s=%q is not a valid %s (%v). Using default value.\n", source, name, raw, t, err)
}

// applyBackend copies stored non-secret values into cfg. Read failures
// abort; values that do not parse are skipped with a warning.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ == kBool && raw == "") {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			warnUnparsable("config key", s.key, raw, s.typ, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			warnUnparsable("env var", s.env, raw, s.typ, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after env overrides from the
// platform keychain.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
