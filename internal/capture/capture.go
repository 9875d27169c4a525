// Package capture visits a target page and waits for the background
// response it issues on a known path.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"msgwatch/internal/domain"
	"msgwatch/internal/metrics"
)

var (
	// ErrTimeout means no matching response arrived after all retries.
	ErrTimeout = errors.New("no matching response captured")
	// ErrEmptyOrMalformed means a response arrived but its body is not a
	// non-empty JSON list.
	ErrEmptyOrMalformed = errors.New("response body is not a non-empty list")
	// ErrNoURL means the target cannot be visited.
	ErrNoURL = errors.New("target has no url")
)

// Browser is the session the interceptor drives. Implementations are not
// required to be safe for concurrent use.
type Browser interface {
	// Arm starts capturing responses whose URL contains pattern.
	Arm(pattern string) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Next waits up to timeout for the next captured body. ok is false
	// when nothing matched in time.
	Next(ctx context.Context, timeout time.Duration) (body []byte, ok bool, err error)
}

// clearer is implemented by sessions that can drop previously captured
// responses before re-arming.
type clearer interface {
	Clear()
}

// Error describes a failed capture for one target.
type Error struct {
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s (attempts=%d): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the raw captured body split into its list items.
type Response struct {
	Items    []json.RawMessage
	Attempts int
	Elapsed  time.Duration
}

// Latest returns the last item of the list.
func (r *Response) Latest() json.RawMessage {
	return r.Items[len(r.Items)-1]
}

// Config configures an Interceptor.
type Config struct {
	ListenPath  string        // default "/messages"
	PageWait    time.Duration // settle delay after navigation
	WaitTimeout time.Duration // per-attempt wait for a matching response
	Retries     int           // additional waits after the first
	RetryDelay  time.Duration // pause between waits
	Logger      *slog.Logger
}

// Interceptor captures one response per target visit.
type Interceptor struct {
	browser     Browser
	listenPath  string
	pageWait    time.Duration
	waitTimeout time.Duration
	retries     int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewInterceptor(b Browser, cfg Config) *Interceptor {
	if cfg.ListenPath == "" {
		cfg.ListenPath = "/messages"
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 15 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Interceptor{
		browser:     b,
		listenPath:  cfg.ListenPath,
		pageWait:    cfg.PageWait,
		waitTimeout: cfg.WaitTimeout,
		retries:     cfg.Retries,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger,
	}
}

// Intercept arms capture, navigates to the target and waits for a matching
// response. Only timeouts are retried; a malformed body is returned at once.
func (ic *Interceptor) Intercept(ctx context.Context, target domain.MonitorTarget) (*Response, error) {
	if !target.Valid() {
		return nil, ErrNoURL
	}
	url := strings.TrimSpace(target.URL)
	logger := ic.logger.With("url", url)

	if c, ok := ic.browser.(clearer); ok {
		c.Clear()
	}
	if err := ic.browser.Arm(ic.listenPath); err != nil {
		return nil, &Error{URL: url, Err: fmt.Errorf("arm %s: %w", ic.listenPath, err)}
	}
	if err := ic.browser.Navigate(ctx, url); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{URL: url, Err: fmt.Errorf("navigate: %w", err)}
		}
		// The page may still have issued its call before the load event.
		logger.Warn("navigation did not finish in time, waiting for capture anyway", "err", err)
	}
	if err := sleep(ctx, ic.pageWait); err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	if current, err := ic.browser.CurrentURL(ctx); err == nil && strings.Contains(current, "login") {
		logger.Warn("page redirected to login, session is probably not authenticated", "current", current)
	}

	start := time.Now()
	attempts := ic.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		body, ok, err := ic.browser.Next(ctx, ic.waitTimeout)
		if err != nil {
			return nil, &Error{URL: url, Attempts: attempt, Err: err}
		}
		if ok {
			items, perr := splitList(body)
			if perr != nil {
				return nil, &Error{URL: url, Attempts: attempt, Err: perr}
			}
			elapsed := time.Since(start)
			metrics.CaptureLatency.Observe(elapsed.Seconds())
			logger.Info("captured response", "items", len(items), "attempt", attempt, "wait", elapsed.Round(time.Millisecond))
			return &Response{Items: items, Attempts: attempt, Elapsed: elapsed}, nil
		}

		logger.Warn("no matching response",
			"path", ic.listenPath,
			"attempt", attempt,
			"of", attempts,
			"timeout", ic.waitTimeout,
		)
		if attempt < attempts {
			if err := sleep(ctx, ic.retryDelay); err != nil {
				return nil, &Error{URL: url, Attempts: attempt, Err: err}
			}
		}
	}
	return nil, &Error{URL: url, Attempts: attempts, Err: ErrTimeout}
}

// splitList decodes body as a non-empty JSON list.
func splitList(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyOrMalformed, err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrMalformed
	}
	return items, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
