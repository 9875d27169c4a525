package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads the first .env found walking up from dir. Variables
// already set in the environment win. It returns the file used, or "".
func LoadDotEnv(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(dir, ".env")
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			if err := godotenv.Load(p); err != nil {
				return "", fmt.Errorf("load %s: %w", p, err)
			}
			return p, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ApplyEnv overlays environment variables onto cfg. Unset or empty
// variables leave the current value; integers that do not parse are
// ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	e := envReader{lookup: lookup}

	e.setString("LOG_LEVEL", &cfg.General.LogLevel)
	e.setString("LOG_FILE", &cfg.General.LogFile)

	e.setString("LISTEN_PATH", &cfg.Capture.ListenPath)
	e.setInt("PAGE_WAIT_SECONDS", &cfg.Capture.PageWaitSeconds)
	e.setInt("LISTEN_TIMEOUT", &cfg.Capture.WaitTimeoutSeconds)
	e.setInt("RETRIES", &cfg.Capture.Retries)
	e.setInt("RETRY_DELAY_MS", &cfg.Capture.RetryDelayMillis)

	e.setString("BROWSER_PROFILE_DIR", &cfg.Browser.ProfileDir)
	e.setBool("BROWSER_HEADLESS", &cfg.Browser.Headless)
	e.setString("BROWSER_EXEC_PATH", &cfg.Browser.ExecPath)

	e.setInt("POLL_MINUTES", &cfg.Schedule.PollMinutes)
	e.setBool("RUN_ON_START", &cfg.Schedule.RunOnStart)
	e.setInt("HEARTBEAT_SECONDS", &cfg.Schedule.HeartbeatSeconds)

	e.setBool("SUFFIX_SINGLE_EMBED", &cfg.Extract.SuffixSingleEmbed)

	e.setString("STORE_DRIVER", &cfg.Store.Driver)
	e.setString("SUPABASE_TABLE", &cfg.Store.Table)
	e.setString("STORE_POLICY", &cfg.Store.Policy)
	e.setString("SUPABASE_URL", &cfg.Store.URL)
	if !e.setString("SUPABASE_SERVICE_ROLE_KEY", &cfg.Store.Key) {
		e.setString("SUPABASE_ANON_KEY", &cfg.Store.Key)
	}
	var bubbleKey string
	if e.setString("BUBBLE_API_KEY", &bubbleKey) {
		if cfg.Store.Headers == nil {
			cfg.Store.Headers = make(map[string]string)
		}
		cfg.Store.Headers["x-bubble-key"] = bubbleKey
	}
	e.setString("DATABASE_URL", &cfg.Store.DSN)
	e.setString("SQLITE_PATH", &cfg.Store.SQLitePath)

	e.setString("EXCEL_PATH", &cfg.Targets.Path)
	e.setString("SHEET_NAME", &cfg.Targets.Sheet)
	e.setInt("TARGET_LIMIT", &cfg.Targets.Limit)

	token := e.setString("TELEGRAM_TOKEN", &cfg.Notify.Telegram.Token)
	chat := e.setString("TELEGRAM_CHAT_ID", &cfg.Notify.Telegram.ChatID)
	if token && chat {
		cfg.Notify.Telegram.Enabled = true
	}

	if e.setString("STATUS_ADDR", &cfg.Status.Addr) {
		cfg.Status.Enabled = true
	}
}

type envReader struct {
	lookup LookupFunc
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e envReader) setString(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func (e envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "off":
		*dst = false
	default:
		*dst = true
	}
}
