package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Rooms = []string{"42:messaging:Front desk", "43"}
	cfg.CacheCapacity = 2
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Session().Close() })
	return a
}

func get(t *testing.T, srv *httptest.Server, method, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestApp_LoopbackEndToEnd(t *testing.T) {
	a := testApp(t, nil)
	if a.Session().Loopback == nil {
		t.Fatalf("empty realtime url must select the loopback transport")
	}
	if _, err := a.Session().Loopback.Publish("42", "coach-1", "Coach Ana", "hi"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, body := get(t, srv, http.MethodGet, "/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	if code, _ := get(t, srv, http.MethodGet, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz=%d", code)
	}

	code, body := get(t, srv, http.MethodPost, "/api/rooms/42/activate")
	if code != http.StatusOK {
		t.Fatalf("activate=%d %s", code, body)
	}
	var act struct {
		Messages []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(body), &act); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(act.Messages) != 1 || act.Messages[0].Text != "hi" {
		t.Fatalf("messages=%+v", act.Messages)
	}

	code, body = get(t, srv, http.MethodGet, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics=%d", code)
	}
	for _, want := range []string{"gymchat_cache_conversations 1", "gymchat_cache_loaded_conversations 1", "gymchat_listeners_active 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := testApp(t, func(c *Config) { c.ReadinessRequireDB = true })

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, _ := get(t, srv, http.MethodGet, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want=503", code)
	}
}

func TestApp_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheCapacity = 0

	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestApp_SecurityHeadersOnAPI(t *testing.T) {
	a := testApp(t, nil)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stats=%d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing: %v", rr.Header())
	}
}
