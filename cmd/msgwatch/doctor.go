package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"msgwatch/internal/targets"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the msgwatch setup",
		Long: `Verifies that the configuration, target list, store connection and
local directories are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("msgwatch doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if ts, err := targets.Load(cfg.Targets.Path, cfg.Targets.Sheet); err != nil {
				r.fail("Targets", err.Error())
			} else {
				missing := 0
				for _, t := range ts {
					if !t.Valid() {
						missing++
					}
				}
				detail := fmt.Sprintf("%d from %s", len(ts), cfg.Targets.Path)
				if missing > 0 {
					r.warn("Targets", fmt.Sprintf("%s, %d without url will be skipped", detail, missing))
				} else {
					r.pass("Targets", detail)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if adapter, err := openStore(ctx, cfg.Store); err != nil {
				r.fail("Store", err.Error())
			} else {
				adapter.Close()
				detail := cfg.Store.Driver + " table " + cfg.Store.Table
				if cfg.Store.Driver == "postgrest" {
					detail += " (run 'msgwatch selftest' to check grants)"
				}
				r.pass("Store", detail)
			}

			if err := os.MkdirAll(cfg.Browser.ProfileDir, 0o755); err != nil {
				r.fail("Browser profile", err.Error())
			} else {
				r.pass("Browser profile", cfg.Browser.ProfileDir)
			}

			if cfg.Status.Enabled {
				if err := checkAddr(cfg.Status.Addr); err != nil {
					r.warn("Status address", fmt.Sprintf("%s may be in use: %v", cfg.Status.Addr, err))
				} else {
					r.pass("Status address", cfg.Status.Addr+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			if cfg.Notify.Telegram.Enabled {
				r.pass("Telegram alerts", "chat "+cfg.Notify.Telegram.ChatID)
			} else {
				r.warn("Telegram alerts", "disabled; store rejections are only logged")
			}

			return r.summary()
		},
	}
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running msgwatch.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nmsgwatch should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! msgwatch is ready to run.\n")
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
