// Package browser owns the single Chrome session used to visit targets and
// observe their network traffic.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config configures a Session.
type Config struct {
	ProfileDir      string
	Headless        bool
	ExecPath        string
	NavigateTimeout time.Duration // bound on waiting for the load event
	QueueSize       int           // captured bodies buffered between waits
	Logger          *slog.Logger
}

type capturedBody struct {
	gen  uint64
	body []byte
}

// Session is one Chrome tab with network capture. It is opened once at
// startup, reused for every target and closed on shutdown.
type Session struct {
	ctx             context.Context
	cancel          context.CancelFunc
	navigateTimeout time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	pattern string
	gen     uint64
	pending map[network.RequestID]uint64
	bodies  chan capturedBody
}

// Open starts Chrome and enables the Network domain. ctx bounds the
// lifetime of the browser process, so it should outlive every run.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	bridge := NewBridge(BridgeConfig{
		ProfileDir: cfg.ProfileDir,
		Headless:   cfg.Headless,
		ExecPath:   cfg.ExecPath,
		Logger:     cfg.Logger,
	})
	taskCtx, cancel := bridge.NewContext(ctx)

	s := &Session{
		ctx:             taskCtx,
		cancel:          cancel,
		navigateTimeout: cfg.NavigateTimeout,
		logger:          cfg.Logger,
		pending:         make(map[network.RequestID]uint64),
		bodies:          make(chan capturedBody, cfg.QueueSize),
	}

	chromedp.ListenTarget(taskCtx, s.onEvent)

	if err := chromedp.Run(taskCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	cfg.Logger.Info("browser session opened", "profile", bridge.profileDir, "headless", cfg.Headless)
	return s, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.cancel()
	s.logger.Info("browser session closed")
	return nil
}

// Arm starts capturing responses whose URL contains pattern. Responses
// tracked under an earlier arm are discarded.
func (s *Session) Arm(pattern string) error {
	if pattern == "" {
		return errors.New("empty capture pattern")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern = pattern
	s.gen++
	s.pending = make(map[network.RequestID]uint64)
	return nil
}

// Clear disarms capture and drops any queued bodies.
func (s *Session) Clear() {
	s.mu.Lock()
	s.pattern = ""
	s.gen++
	s.pending = make(map[network.RequestID]uint64)
	s.mu.Unlock()

	for {
		select {
		case <-s.bodies:
		default:
			return
		}
	}
}

// Navigate loads url in the session tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.navigateTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

// CurrentURL returns the tab's location after any redirects.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Next waits up to timeout for a body captured under the current arm.
func (s *Session) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-s.ctx.Done():
			return nil, false, fmt.Errorf("browser session closed: %w", s.ctx.Err())
		case <-timer.C:
			return nil, false, nil
		case c := <-s.bodies:
			s.mu.Lock()
			current := s.gen
			s.mu.Unlock()
			if c.gen != current {
				continue
			}
			return c.body, true, nil
		}
	}
}

// onEvent runs on chromedp's event goroutine and must not block.
func (s *Session) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		s.mu.Lock()
		if s.pattern != "" && strings.Contains(e.Response.URL, s.pattern) {
			s.pending[e.RequestID] = s.gen
			s.logger.Debug("matched response", "url", e.Response.URL, "status", e.Response.Status)
		}
		s.mu.Unlock()
	case *network.EventLoadingFinished:
		s.mu.Lock()
		gen, ok := s.pending[e.RequestID]
		delete(s.pending, e.RequestID)
		s.mu.Unlock()
		if ok {
			go s.fetchBody(e.RequestID, gen)
		}
	case *network.EventLoadingFailed:
		s.mu.Lock()
		delete(s.pending, e.RequestID)
		s.mu.Unlock()
	}
}

func (s *Session) fetchBody(id network.RequestID, gen uint64) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(s.ctx, c.Target))
	if err != nil {
		s.logger.Debug("cannot read response body", "request", id, "err", err)
		return
	}
	select {
	case s.bodies <- capturedBody{gen: gen, body: body}:
	default:
		s.logger.Warn("capture queue full, dropping response", "request", id)
	}
}
