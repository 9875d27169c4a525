package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"msgwatch/internal/domain"
)

// fakeBrowser replays a fixed sequence of Next results.
type fakeBrowser struct {
	bodies     [][]byte // nil entry means "timed out"
	current    string
	navErr     error
	nextErr    error
	armed      []string
	navigated  []string
	nextCalls  int
	clearCalls int
}

func (f *fakeBrowser) Arm(pattern string) error {
	f.armed = append(f.armed, pattern)
	return nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	return f.current, nil
}

func (f *fakeBrowser) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	f.nextCalls++
	if f.nextErr != nil {
		return nil, false, f.nextErr
	}
	if len(f.bodies) == 0 {
		return nil, false, nil
	}
	b := f.bodies[0]
	f.bodies = f.bodies[1:]
	return b, b != nil, nil
}

// clearingBrowser additionally supports Clear.
type clearingBrowser struct{ fakeBrowser }

func (c *clearingBrowser) Clear() { c.clearCalls++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInterceptor(b Browser, retries int) *Interceptor {
	return NewInterceptor(b, Config{
		ListenPath:  "/messages",
		WaitTimeout: time.Millisecond,
		Retries:     retries,
		Logger:      testLogger(),
	})
}

var target = domain.MonitorTarget{TypeName: "news", URL: "https://example.test/channels/1"}

func TestIntercept_ReturnsItems(t *testing.T) {
	b := &fakeBrowser{bodies: [][]byte{[]byte(`[{"id":"a"},{"id":"b"}]`)}}
	resp, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Items) != 2 || string(resp.Latest()) != `{"id":"b"}` {
		t.Fatalf("unexpected items: %s", resp.Items)
	}
	if len(b.armed) != 1 || b.armed[0] != "/messages" {
		t.Fatalf("expected capture armed for /messages, got %v", b.armed)
	}
	if len(b.navigated) != 1 || b.navigated[0] != target.URL {
		t.Fatalf("expected navigation to target, got %v", b.navigated)
	}
}

func TestIntercept_RetryBound(t *testing.T) {
	b := &fakeBrowser{}
	_, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.nextCalls != 3 {
		t.Fatalf("expected 3 waits (initial + 2 retries), got %d", b.nextCalls)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Attempts != 3 {
		t.Fatalf("expected *Error with 3 attempts, got %#v", err)
	}
}

func TestIntercept_ZeroRetries(t *testing.T) {
	b := &fakeBrowser{}
	_, err := newTestInterceptor(b, 0).Intercept(context.Background(), target)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.nextCalls != 1 {
		t.Fatalf("expected a single wait, got %d", b.nextCalls)
	}
}

func TestIntercept_SucceedsOnRetry(t *testing.T) {
	b := &fakeBrowser{bodies: [][]byte{nil, []byte(`[{"id":"x"}]`)}}
	resp, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 2 || b.nextCalls != 2 {
		t.Fatalf("expected success on attempt 2, got attempts=%d calls=%d", resp.Attempts, b.nextCalls)
	}
}

func TestIntercept_EmptyListNotRetried(t *testing.T) {
	b := &fakeBrowser{bodies: [][]byte{[]byte(`[]`), []byte(`[{"id":"x"}]`)}}
	_, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if !errors.Is(err, ErrEmptyOrMalformed) {
		t.Fatalf("expected ErrEmptyOrMalformed, got %v", err)
	}
	if b.nextCalls != 1 {
		t.Fatalf("expected no retries after malformed body, got %d waits", b.nextCalls)
	}
}

func TestIntercept_MalformedBodies(t *testing.T) {
	for _, body := range []string{`{"id":"x"}`, `null`, `not json`, `"text"`} {
		b := &fakeBrowser{bodies: [][]byte{[]byte(body)}}
		_, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
		if !errors.Is(err, ErrEmptyOrMalformed) {
			t.Fatalf("body %s: expected ErrEmptyOrMalformed, got %v", body, err)
		}
	}
}

func TestIntercept_NoURL(t *testing.T) {
	b := &fakeBrowser{}
	_, err := newTestInterceptor(b, 2).Intercept(context.Background(), domain.MonitorTarget{TypeName: "x", URL: "  "})
	if !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
	if len(b.navigated) != 0 {
		t.Fatal("target without url must not be visited")
	}
}

func TestIntercept_ClearsWhenSupported(t *testing.T) {
	b := &clearingBrowser{fakeBrowser{bodies: [][]byte{[]byte(`[{"id":"x"}]`)}}}
	if _, err := newTestInterceptor(b, 0).Intercept(context.Background(), target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.clearCalls != 1 {
		t.Fatalf("expected Clear to be called once, got %d", b.clearCalls)
	}
}

func TestIntercept_LoginRedirectIsNotFatal(t *testing.T) {
	b := &fakeBrowser{current: "https://example.test/login", bodies: [][]byte{[]byte(`[{"id":"x"}]`)}}
	if _, err := newTestInterceptor(b, 0).Intercept(context.Background(), target); err != nil {
		t.Fatalf("login redirect must only warn, got %v", err)
	}
}

func TestIntercept_NavigationTimeoutKeepsWaiting(t *testing.T) {
	b := &fakeBrowser{navErr: context.DeadlineExceeded, bodies: [][]byte{[]byte(`[{"id":"x"}]`)}}
	if _, err := newTestInterceptor(b, 0).Intercept(context.Background(), target); err != nil {
		t.Fatalf("expected capture after slow navigation, got %v", err)
	}
}

func TestIntercept_NavigationError(t *testing.T) {
	b := &fakeBrowser{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	_, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if b.nextCalls != 0 {
		t.Fatalf("expected no waits after failed navigation, got %d", b.nextCalls)
	}
}

func TestIntercept_SessionErrorStops(t *testing.T) {
	b := &fakeBrowser{nextErr: errors.New("target closed")}
	_, err := newTestInterceptor(b, 2).Intercept(context.Background(), target)
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected session error, got %v", err)
	}
	if b.nextCalls != 1 {
		t.Fatalf("expected one wait, got %d", b.nextCalls)
	}
}
