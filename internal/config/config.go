package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for msgwatch.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Capture  CaptureConfig  `json:"capture"`
	Browser  BrowserConfig  `json:"browser"`
	Schedule ScheduleConfig `json:"schedule"`
	Extract  ExtractConfig  `json:"extract"`
	Store    StoreConfig    `json:"store"`
	Targets  TargetsConfig  `json:"targets"`
	Notify   NotifyConfig   `json:"notify"`
	Status   StatusConfig   `json:"status"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug, info, warn, error
	LogFile  string `json:"logFile,omitempty"`
}

// CaptureConfig controls how long each target is watched.
type CaptureConfig struct {
	ListenPath         string `json:"listenPath"`
	PageWaitSeconds    int    `json:"pageWaitSeconds"`
	WaitTimeoutSeconds int    `json:"waitTimeoutSeconds"`
	Retries            int    `json:"retries"`
	RetryDelayMillis   int    `json:"retryDelayMillis"`
}

func (c CaptureConfig) PageWait() time.Duration {
	return time.Duration(c.PageWaitSeconds) * time.Second
}

func (c CaptureConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

func (c CaptureConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

type BrowserConfig struct {
	ProfileDir             string `json:"profileDir"`
	Headless               bool   `json:"headless"`
	ExecPath               string `json:"execPath,omitempty"`
	NavigateTimeoutSeconds int    `json:"navigateTimeoutSeconds"`
}

type ScheduleConfig struct {
	PollMinutes      int  `json:"pollMinutes"`
	RunOnStart       bool `json:"runOnStart"`
	HeartbeatSeconds int  `json:"heartbeatSeconds"` // 0 disables
}

func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.PollMinutes) * time.Minute
}

func (s ScheduleConfig) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

type ExtractConfig struct {
	// SuffixSingleEmbed appends "_0" to the id of a message with exactly
	// one embed.
	SuffixSingleEmbed bool `json:"suffixSingleEmbed"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver     string            `json:"driver"` // postgrest, postgres, sqlite
	Table      string            `json:"table"`
	Policy     string            `json:"policy"` // insert, upsert
	URL        string            `json:"url,omitempty"`
	Key        string            `json:"key,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	DSN        string            `json:"dsn,omitempty"`
	SQLitePath string            `json:"sqlitePath"`
}

type TargetsConfig struct {
	Path  string `json:"path,omitempty"` // empty: list.xlsx or 监控列表.xlsx next to .env
	Sheet string `json:"sheet"`
	Limit int    `json:"limit"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.msgwatch).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgwatch"
	}
	return filepath.Join(home, ".msgwatch")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, overlays the process environment and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read parses the config file at path over the defaults, without the
// environment overlay or validation.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.General.LogLevel = strings.ToLower(strings.TrimSpace(cfg.General.LogLevel))
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Store.Policy = strings.ToLower(strings.TrimSpace(cfg.Store.Policy))
	cfg.Store.URL = strings.TrimRight(strings.TrimSpace(cfg.Store.URL), "/")
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Targets.Path = ExpandPath(cfg.Targets.Path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if strings.TrimSpace(cfg.Capture.ListenPath) == "" {
		errs = append(errs, "capture.listenPath must not be empty")
	}
	if cfg.Capture.PageWaitSeconds < 0 {
		errs = append(errs, "capture.pageWaitSeconds must be >= 0")
	}
	if cfg.Capture.WaitTimeoutSeconds < 1 {
		errs = append(errs, "capture.waitTimeoutSeconds must be >= 1")
	}
	if cfg.Capture.Retries < 0 {
		errs = append(errs, "capture.retries must be >= 0")
	}
	if cfg.Capture.RetryDelayMillis < 0 {
		errs = append(errs, "capture.retryDelayMillis must be >= 0")
	}
	if cfg.Browser.NavigateTimeoutSeconds < 1 {
		errs = append(errs, "browser.navigateTimeoutSeconds must be >= 1")
	}
	if cfg.Schedule.PollMinutes < 1 {
		errs = append(errs, "schedule.pollMinutes must be >= 1")
	}
	if cfg.Schedule.HeartbeatSeconds < 0 {
		errs = append(errs, "schedule.heartbeatSeconds must be >= 0")
	}
	if cfg.Targets.Limit < 0 {
		errs = append(errs, "targets.limit must be >= 0")
	}

	errs = append(errs, validateStore(cfg.Store)...)

	if t := cfg.Notify.Telegram; t.Enabled && (t.Token == "" || t.ChatID == "") {
		errs = append(errs, "notify.telegram: token and chatId are required when enabled")
	}
	if cfg.Status.Enabled && cfg.Status.Addr == "" {
		errs = append(errs, "status.addr is required when the status server is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateStore(s StoreConfig) []string {
	var errs []string
	if strings.TrimSpace(s.Table) == "" {
		errs = append(errs, "store.table must not be empty")
	}
	switch s.Policy {
	case "insert", "upsert":
	default:
		errs = append(errs, "store.policy must be one of: insert, upsert")
	}

	switch s.Driver {
	case "postgrest":
		if s.URL == "" {
			errs = append(errs, "store.url (SUPABASE_URL) is required for the postgrest driver")
		} else if u, err := url.Parse(s.URL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("store.url is not a valid URL: %q", s.URL))
		}
		if s.Key == "" {
			errs = append(errs, "store.key (SUPABASE_SERVICE_ROLE_KEY or SUPABASE_ANON_KEY) is required for the postgrest driver")
		}
		if err := CheckProjectRef(s.URL, s.Key); err != nil {
			errs = append(errs, err.Error())
		}
	case "postgres":
		if s.DSN == "" {
			errs = append(errs, "store.dsn (DATABASE_URL) is required for the postgres driver")
		}
	case "sqlite":
		if s.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: postgrest, postgres, sqlite")
	}
	return errs
}

// CheckProjectRef reports a key issued for a different Supabase project
// than the one the URL points at. Keys that are not JWTs, and URLs that
// are not *.supabase.co, are not checked.
func CheckProjectRef(rawURL, key string) error {
	keyRef := jwtClaim(key, "ref")
	if keyRef == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	urlRef, ok := strings.CutSuffix(host, ".supabase.co")
	if !ok || urlRef == "" {
		return nil
	}
	if urlRef != keyRef {
		return fmt.Errorf("store.key belongs to project %q but store.url points at %q; copy both from the same project settings", keyRef, urlRef)
	}
	return nil
}

// jwtClaim returns a string claim from an unverified JWT payload.
func jwtClaim(token, claim string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	s, _ := claims[claim].(string)
	return s
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// ResolvePath makes a relative path relative to base.
func ResolvePath(base, path string) string {
	path = ExpandPath(path)
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
