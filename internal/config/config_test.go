package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Store.URL = "https://abcd.supabase.co"
	cfg.Store.Key = "anon-key"
	return cfg
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func fakeJWT(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsNeedCredentials(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("defaults without a store url/key must not validate")
	}
	if !strings.Contains(err.Error(), "SUPABASE_URL") {
		t.Fatalf("error should name the missing variable: %v", err)
	}
}

func TestValidate_Timings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero wait timeout", func(c *Config) { c.Capture.WaitTimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.Capture.Retries = -1 }},
		{"negative page wait", func(c *Config) { c.Capture.PageWaitSeconds = -1 }},
		{"zero poll", func(c *Config) { c.Schedule.PollMinutes = 0 }},
		{"empty listen path", func(c *Config) { c.Capture.ListenPath = " " }},
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidate_ZeroRetriesAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Capture.Retries = 0
	cfg.Capture.PageWaitSeconds = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("retries=0 should be valid: %v", err)
	}
}

func TestValidate_Drivers(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatal("postgres driver without dsn must fail")
	}
	cfg.Store.DSN = "postgres://u:p@localhost/db"
	if err := Validate(cfg); err != nil {
		t.Fatalf("postgres with dsn should be valid: %v", err)
	}

	cfg = Defaults()
	cfg.Store.Driver = "sqlite"
	if err := Validate(cfg); err != nil {
		t.Fatalf("sqlite needs no credentials: %v", err)
	}

	cfg.Store.Driver = "mongo"
	if err := Validate(cfg); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestValidate_Policy(t *testing.T) {
	for _, p := range []string{"insert", "upsert"} {
		cfg := validConfig()
		cfg.Store.Policy = p
		if err := Validate(cfg); err != nil {
			t.Fatalf("policy %q should be valid: %v", p, err)
		}
	}
	cfg := validConfig()
	cfg.Store.Policy = "replace"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestValidate_TelegramNeedsChat(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Telegram = TelegramConfig{Enabled: true, Token: "t"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without chat id")
	}
}

// --- Project ref check ---

func TestCheckProjectRef(t *testing.T) {
	key := fakeJWT(`{"ref":"abcd","role":"anon"}`)
	if err := CheckProjectRef("https://abcd.supabase.co", key); err != nil {
		t.Fatalf("matching ref should pass: %v", err)
	}
	if err := CheckProjectRef("https://wxyz.supabase.co", key); err == nil {
		t.Fatal("mismatched ref should fail")
	}
	if err := CheckProjectRef("https://db.example.com", key); err != nil {
		t.Fatalf("non-supabase host is not checked: %v", err)
	}
	if err := CheckProjectRef("https://wxyz.supabase.co", "not-a-jwt"); err != nil {
		t.Fatalf("opaque keys are not checked: %v", err)
	}
}

func TestValidate_RefMismatchIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Key = fakeJWT(`{"ref":"other"}`)
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), `"other"`) {
		t.Fatalf("expected ref mismatch error, got %v", err)
	}
}

// --- Env overlay ---

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{
		"LISTEN_PATH":       "/api/v9/messages",
		"LISTEN_TIMEOUT":    "20",
		"RETRIES":           "0",
		"POLL_MINUTES":      "five",
		"RUN_ON_START":      "no",
		"SUPABASE_URL":      "https://abcd.supabase.co",
		"SUPABASE_ANON_KEY": "anon",
		"BUBBLE_API_KEY":    "bubble",
		"TELEGRAM_TOKEN":    "tok",
		"TELEGRAM_CHAT_ID":  "42",
		"STATUS_ADDR":       ":9000",
		"SHEET_NAME":        "  ",
	}))

	if cfg.Capture.ListenPath != "/api/v9/messages" || cfg.Capture.WaitTimeoutSeconds != 20 || cfg.Capture.Retries != 0 {
		t.Fatalf("capture overlay not applied: %+v", cfg.Capture)
	}
	if cfg.Schedule.PollMinutes != 10 {
		t.Fatalf("unparsable int must keep default, got %d", cfg.Schedule.PollMinutes)
	}
	if cfg.Schedule.RunOnStart {
		t.Fatal("RUN_ON_START=no must disable the start run")
	}
	if cfg.Store.Key != "anon" || cfg.Store.Headers["x-bubble-key"] != "bubble" {
		t.Fatalf("store overlay not applied: %+v", cfg.Store)
	}
	if !cfg.Notify.Telegram.Enabled || !cfg.Status.Enabled || cfg.Status.Addr != ":9000" {
		t.Fatal("telegram and status should be enabled by their env vars")
	}
	if cfg.Targets.Sheet != "Sheet1" {
		t.Fatalf("blank env must not override, got %q", cfg.Targets.Sheet)
	}
}

func TestApplyEnv_ServiceRoleKeyWins(t *testing.T) {
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{
		"SUPABASE_SERVICE_ROLE_KEY": "service",
		"SUPABASE_ANON_KEY":         "anon",
	}))
	if cfg.Store.Key != "service" {
		t.Fatalf("expected service role key, got %q", cfg.Store.Key)
	}
}

// --- Load ---

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Capture.WaitTimeoutSeconds != 15 || cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("MSGWATCH_TEST_TABLE", "messages")
	p := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "store": {"driver": "sqlite", "table": "${MSGWATCH_TEST_TABLE}", "sqlitePath": "${MSGWATCH_TEST_DB:-/tmp/x.db}"},
  "capture": {"retries": 5}
}`
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Table != "messages" || cfg.Store.SQLitePath != "/tmp/x.db" {
		t.Fatalf("expansion not applied: %+v", cfg.Store)
	}
	if cfg.Capture.Retries != 5 || cfg.Capture.ListenPath != "/messages" {
		t.Fatalf("file values must merge over defaults: %+v", cfg.Capture)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndRead(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := validConfig()
	cfg.Capture.Retries = 7
	if err := Save(p, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Capture.Retries != 7 {
		t.Fatalf("round trip lost retries: %d", got.Capture.Retries)
	}
}

// --- .env ---

func TestLoadDotEnv_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("MSGWATCH_DOTENV_PROBE=found\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MSGWATCH_DOTENV_PROBE") })

	got, err := LoadDotEnv(nested)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, ".env") {
		t.Fatalf("expected root .env, got %q", got)
	}
	if os.Getenv("MSGWATCH_DOTENV_PROBE") != "found" {
		t.Fatal(".env variables were not loaded")
	}
}

func TestLoadDotEnv_ExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MSGWATCH_DOTENV_KEEP=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MSGWATCH_DOTENV_KEEP", "process")
	if _, err := LoadDotEnv(dir); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("MSGWATCH_DOTENV_KEEP") != "process" {
		t.Fatal("process environment must win over .env")
	}
}

// --- Accessors ---

func TestSanitize(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Key = "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	cfg.Store.DSN = "postgres://user:secret@db:5432/app"
	cfg.Store.Headers = map[string]string{"x-bubble-key": "bubble-secret-key"}
	cfg.Notify.Telegram.Token = "123456:ABCDEF"

	s := Sanitize(cfg)
	if strings.Contains(s.Store.Key, "payload") || strings.Contains(s.Store.DSN, "secret") {
		t.Fatalf("secrets leaked: key=%q dsn=%q", s.Store.Key, s.Store.DSN)
	}
	if s.Store.Headers["x-bubble-key"] == "bubble-secret-key" || s.Notify.Telegram.Token == "123456:ABCDEF" {
		t.Fatal("header or token not masked")
	}
	if cfg.Store.DSN != "postgres://user:secret@db:5432/app" {
		t.Fatal("Sanitize must not modify the original")
	}
}

func TestGetByPath(t *testing.T) {
	cfg := validConfig()
	v, err := GetByPath(cfg, "capture.listenPath")
	if err != nil || v != "/messages" {
		t.Fatalf("GetByPath = %v, %v", v, err)
	}
	if _, err := GetByPath(cfg, "capture.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "schedule.pollMinutes", "3"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "browser.headless", "false"); err != nil {
		t.Fatal(err)
	}
	if cfg.Schedule.PollMinutes != 3 || cfg.Browser.Headless {
		t.Fatalf("SetByPath not applied: %+v %+v", cfg.Schedule, cfg.Browser)
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/base", "list.xlsx"); got != filepath.Join("/base", "list.xlsx") {
		t.Fatalf("relative path not joined: %s", got)
	}
	if got := ResolvePath("/base", "/abs/list.xlsx"); got != "/abs/list.xlsx" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
