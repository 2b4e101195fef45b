package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/provider"
)

func settingsFor(mode string, retries int) *config.SettingsStore {
	cfg := config.NewDefaultSettings()
	cfg.OperationMode = mode
	cfg.ProxyRetryCount = retries
	return config.NewSettingsStore("", cfg)
}

func TestControllerStartIsNoopInDirectMode(t *testing.T) {
	c := NewController("127.0.0.1:0", settingsFor(config.ModeDirect, 1), provider.NewManager())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateStopped || c.Addr() != "" {
		t.Fatalf("expected stopped controller in direct mode, got %s addr=%q", c.State(), c.Addr())
	}
}

func TestControllerStartStopIdempotent(t *testing.T) {
	up := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	})
	m := newManager(t, provider.AppClaude, claudeProvider("p", 0, up.srv.URL, "k"))
	c := NewController("127.0.0.1:0", settingsFor(config.ModeProxy, 0), m)

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := c.Addr()
	if err := c.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if c.State() != StateRunning || c.Addr() != addr {
		t.Fatalf("expected running on %s, got %s on %s", addr, c.State(), c.Addr())
	}

	req, _ := http.NewRequest(http.MethodPost, config.ProxyURL(addr)+"/v1/messages", strings.NewReader("{}"))
	req.Header.Set("User-Agent", "claude-cli/1.0.0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"path":"/v1/messages"}` {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected upstream content type relayed, got %q", resp.Header.Get("Content-Type"))
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if c.State() != StateStopped || c.Addr() != "" {
		t.Fatalf("expected stopped, got %s addr=%q", c.State(), c.Addr())
	}
	if _, err := http.Get(config.ProxyURL(addr) + "/"); err == nil {
		t.Fatal("expected listener to be closed")
	}

	// A stopped controller can be started again.
	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	if c.State() != StateRunning {
		t.Fatalf("expected running after restart, got %s", c.State())
	}
}

func TestControllerStartReportsBindFailure(t *testing.T) {
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()
	addr := strings.TrimPrefix(occupied.URL, "http://")

	c := NewController(addr, settingsFor(config.ModeProxy, 0), provider.NewManager())
	if err := c.Start(); err == nil {
		_ = c.Stop()
		t.Fatal("expected bind error")
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped after bind failure, got %s", c.State())
	}
}

func TestHandlerStatusMapping(t *testing.T) {
	failing := newCountingUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	m := newManager(t, provider.AppCodex, codexProvider("p", 0, failing.srv.URL, "k"))
	c := NewController("", settingsFor(config.ModeProxy, 0), m)
	c.router.backoff = 0

	tests := []struct {
		name string
		ua   string
		want int
	}{
		{name: "no claude providers", ua: "claude-cli/2.0", want: http.StatusServiceUnavailable},
		{name: "codex exhausted", ua: "codex_cli_rs/0.40", want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader("{}"))
			req.Header.Set("User-Agent", tc.ua)
			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestProxyServesOpenAIClient(t *testing.T) {
	var gotAuth, gotPath string
	up := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],`+
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	m := newManager(t, provider.AppCodex, codexProvider("codex", 0, up.srv.URL, "sk-upstream"))
	c := NewController("127.0.0.1:0", settingsFor(config.ModeProxy, 1), m)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })

	cfg := openai.DefaultConfig("ccswitch-proxymode-token")
	cfg.BaseURL = config.ProxyURL(c.Addr()) + "/v1"
	client := openai.NewClientWithConfig(cfg)
	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		t.Fatalf("chat completion through proxy: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "pong" {
		t.Fatalf("unexpected completion: %+v", resp.Choices)
	}
	if gotAuth != "Bearer sk-upstream" || gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected upstream request auth=%q path=%q", gotAuth, gotPath)
	}
	if snap, ok := c.Health().Snapshot(provider.AppCodex, "codex"); !ok || snap.Status != healthOnline {
		t.Fatalf("expected codex provider online, got %+v", snap)
	}
}
