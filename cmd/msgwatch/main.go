package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"msgwatch/internal/browser"
	"msgwatch/internal/config"
	"msgwatch/internal/targets"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "msgwatch",
		Short: "Watch pages for message traffic and store every new message once",
		Long: `msgwatch visits a list of pages in a persistent Chrome profile, captures the
message list each page loads in the background, and writes every message to
Supabase/PostgREST, Postgres or SQLite exactly once.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.msgwatch/config.json)")

	root.AddCommand(watchCmd())
	root.AddCommand(onceCmd())
	root.AddCommand(selftestCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the background service"}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads .env, the config file and the environment, validates
// the result and switches the global logger to the configured level.
// Relative target paths are resolved against the directory of the .env
// file, or the working directory when there is none.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	envFile, err := config.LoadDotEnv(cwd)
	if err != nil {
		return nil, err
	}
	baseDir := cwd
	if envFile != "" {
		baseDir = filepath.Dir(envFile)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Targets.Path == "" {
		cfg.Targets.Path = targets.DefaultPath(baseDir)
	} else {
		cfg.Targets.Path = config.ResolvePath(baseDir, cfg.Targets.Path)
	}

	if err := setupLogger(cfg.General); err != nil {
		return nil, err
	}
	if envFile != "" {
		logger.Debug("loaded .env", "path", envFile)
	}
	return cfg, nil
}

// readConfigLoose returns the config without validation, for commands that
// only inspect it.
func readConfigLoose() (*config.Config, error) {
	if cwd, err := os.Getwd(); err == nil {
		_, _ = config.LoadDotEnv(cwd)
	}
	cfg, err := config.Read(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

func setupLogger(gc config.GeneralConfig) error {
	level := slog.LevelInfo
	switch gc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func watchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the monitor on its schedule until interrupted",
		Long:  "Visits every target each poll interval. Ctrl+C (or SIGTERM) stops after the run in progress completes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runPipeline(ctx, cfg, pipelineOptions{limit: limit, schedule: true})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "only visit the first N targets (0 = all)")
	return cmd
}

func onceCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single pass over the targets and exit",
		Long:  "Useful to verify the setup end to end. Exits non-zero when every visited target failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runPipeline(ctx, cfg, pipelineOptions{limit: limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "only visit the first N targets (0 = all)")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [url]",
		Short: "Open a visible browser on the monitoring profile to sign in",
		Long: `Opens Chrome with the same profile directory the monitor uses, so cookies from
a manual login are reused by later headless runs. Defaults to the first
target URL. Press Ctrl+C when done.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := ""
			if len(args) == 1 {
				url = args[0]
			} else {
				ts, err := targets.Load(cfg.Targets.Path, cfg.Targets.Sheet)
				if err != nil {
					return fmt.Errorf("no url given and targets unavailable: %w", err)
				}
				for _, t := range ts {
					if t.Valid() {
						url = t.URL
						break
					}
				}
				if url == "" {
					return fmt.Errorf("no url given and no target has one")
				}
			}

			ctx, stop := signalContext()
			defer stop()

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				ExecPath:   cfg.Browser.ExecPath,
				Logger:     logger,
			})
			return bridge.Login(ctx, url)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and show configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. capture.listenPath)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigLoose()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. schedule.pollMinutes 5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			// The file is rewritten from its own contents only, so values
			// that came from the environment are not persisted.
			cfg, err := config.Read(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "show",
		Aliases: []string{"list"},
		Short:   "Show the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigLoose()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			if err := config.Validate(cfg); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("msgwatch %s\n", version)
		},
	}
}
