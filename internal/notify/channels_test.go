package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func TestTelegramSendAndCheck(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botTOKEN/sendMessage":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode: %v", err)
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/botTOKEN/getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"username":"sentinel_bot"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegramNotifier(srv.URL, "TOKEN", "42", time.Second)
	if err != nil {
		t.Fatalf("new telegram: %v", err)
	}
	if err := tg.Send(context.Background(), Message{Type: TypeAlert, Text: "[HIGH] Severity Shift on auth\nerror_ratio rose"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "Markdown" {
		t.Fatalf("unexpected payload %v", got)
	}
	text, _ := got["text"].(string)
	if !strings.HasPrefix(text, "*\\[HIGH] Severity Shift on auth*") || !strings.Contains(text, "error\\_ratio") {
		t.Fatalf("expected escaped markdown, got %q", text)
	}

	name, err := tg.Check(context.Background())
	if err != nil || name != "sentinel_bot" {
		t.Fatalf("expected bot username, got %q %v", name, err)
	}
}

func TestTelegramServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tg, _ := NewTelegramNotifier(srv.URL, "TOKEN", "42", time.Second)
	err := tg.Send(context.Background(), Message{Text: "x"})
	if !errors.Is(err, utils.ErrTransientIO) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestTelegramRequiresCredentials(t *testing.T) {
	if _, err := NewTelegramNotifier("", "", "", 0); !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWebhookSendsHeadersAndPayload(t *testing.T) {
	var (
		auth string
		msg  Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&msg)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhookNotifier(srv.URL, map[string]string{"Authorization": "Bearer t"}, time.Second)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	alert := testAlert("a-9")
	if err := wh.Send(context.Background(), Message{Type: TypeAlert, Text: "hello", Alert: &alert}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer t" {
		t.Fatalf("expected auth header, got %q", auth)
	}
	if msg.Type != TypeAlert || msg.Alert == nil || msg.Alert.Service != "auth" {
		t.Fatalf("unexpected payload %+v", msg)
	}
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh, _ := NewWebhookNotifier(srv.URL, nil, time.Second)
	err := wh.Send(context.Background(), Message{Text: "x"})
	if err == nil || errors.Is(err, utils.ErrTransientIO) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestNATSUnreachable(t *testing.T) {
	if _, err := NewNATSNotifier("nats://127.0.0.1:1", ""); !errors.Is(err, utils.ErrTransientIO) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
