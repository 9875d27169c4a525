package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.msgwatch.watch"
	serviceName  = "msgwatch"
)

// serviceUnit holds what a service file needs to start `msgwatch watch`.
type serviceUnit struct {
	Exec    string
	Config  string
	WorkDir string // .env and the default target list are looked up here
	Log     string
	ErrLog  string
}

func (u serviceUnit) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{EXEC}}", u.Exec,
		"{{CONFIG}}", u.Config,
		"{{WORKDIR}}", u.WorkDir,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", u.Log,
		"{{ERR_LOG}}", u.ErrLog,
	)
}

func (u serviceUnit) launchd() string { return u.replacer().Replace(launchdTemplate) }
func (u serviceUnit) systemd() string { return u.replacer().Replace(systemdTemplate) }

func newServiceUnit() (serviceUnit, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceUnit{}, fmt.Errorf("cannot determine executable path: %w", err)
	}
	cfgPath, err := filepath.Abs(resolveConfigPath())
	if err != nil {
		return serviceUnit{}, err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return serviceUnit{}, err
	}
	home, _ := os.UserHomeDir()
	logDir := filepath.Join(home, ".msgwatch", "logs")
	return serviceUnit{
		Exec:    execPath,
		Config:  cfgPath,
		WorkDir: workDir,
		Log:     filepath.Join(logDir, "msgwatch.log"),
		ErrLog:  filepath.Join(logDir, "msgwatch-error.log"),
	}, nil
}

// servicePath returns where the service file for this OS lives.
func servicePath() (string, error) {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", serviceName+".service"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func installDaemonCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install msgwatch as a user service (launchd/systemd)",
		Long: `Writes a service file that runs "msgwatch watch" in the background and
restarts it on failure. The current directory becomes the service's working
directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := newServiceUnit()
			if err != nil {
				return err
			}
			path, err := servicePath()
			if err != nil {
				return err
			}

			content := unit.systemd()
			if runtime.GOOS == "darwin" {
				content = unit.launchd()
			}
			if dryRun {
				fmt.Println(content)
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(unit.Log), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}

			fmt.Printf("Daemon installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				fmt.Printf("To start: launchctl load %s\n", path)
				fmt.Printf("To stop:  launchctl unload %s\n", path)
			} else {
				fmt.Printf("To start:  systemctl --user start %s\n", serviceName)
				fmt.Printf("To enable: systemctl --user enable %s\n", serviceName)
				fmt.Printf("To stop:   systemctl --user stop %s\n", serviceName)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the service file instead of writing it")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the msgwatch user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>watch</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{WORKDIR}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=msgwatch message monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}} watch --config {{CONFIG}}
Restart=on-failure
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=300

[Install]
WantedBy=default.target`
