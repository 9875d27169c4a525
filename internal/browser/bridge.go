package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Bridge starts Chrome instances on a persistent profile directory, so a
// login performed once survives later headless runs.
type Bridge struct {
	profileDir string
	headless   bool
	execPath   string
	userAgent  string
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool   // Run headless (true) or with visible UI (false)
	ExecPath   string // Chrome binary; empty lets chromedp find one
	UserAgent  string
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".msgwatch", "chrome-profile")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		execPath:   cfg.ExecPath,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
}

func (b *Bridge) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(b.userAgent),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewContext creates a new chromedp context with the bridge's Chrome profile.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, b.allocatorOptions(b.headless)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	return taskCtx, cancelAll
}

// Login opens a visible browser on the profile so the operator can sign in
// to the monitored site. It blocks until ctx is cancelled.
func (b *Bridge) Login(ctx context.Context, url string) error {
	b.logger.Info("opening browser for login", "url", url, "profile", b.profileDir)

	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(false)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened. Please log in manually. Press Ctrl+C when done.")

	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
