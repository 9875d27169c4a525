package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Watch","username":"watch_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		f.texts = append(f.texts, r.PostForm.Get("text"))
		f.chats = append(f.chats, r.PostForm.Get("chat_id"))
		f.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func newTestTelegram(t *testing.T, api http.Handler) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(TelegramConfig{
		Token:    "TOKEN",
		ChatID:   "42",
		Endpoint: srv.URL + "/bot%s/%s",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tg
}

func TestTelegram_Alert(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	if err := tg.Alert(context.Background(), "store rejected writes"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if len(api.texts) != 1 || api.texts[0] != "store rejected writes" || api.chats[0] != "42" {
		t.Fatalf("unexpected sends: texts=%v chats=%v", api.texts, api.chats)
	}
}

func TestTelegram_AlertFailsOnAPIError(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Watch","username":"watch_bot"}}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	})
	tg := newTestTelegram(t, api)

	if err := tg.Alert(context.Background(), "x"); err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestNewTelegram_Validation(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{ChatID: "1"}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "t", ChatID: "abc"}); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(text, 40)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 30) {
		t.Fatalf("unexpected chunks %q", chunks)
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble to the input")
	}

	hard := splitMessage(strings.Repeat("x", 90), 40)
	if len(hard) != 3 || len(hard[0]) != 40 {
		t.Fatalf("unexpected hard split %d chunks", len(hard))
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 30) + strings.Repeat("监", 10)
	chunks := splitMessage(text, 7)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d splits a rune: %q", i, c)
		}
		if len(c) > 7 {
			t.Fatalf("chunk %d exceeds the limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble to the input")
	}
}
