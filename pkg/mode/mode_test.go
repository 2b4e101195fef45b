package mode

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/liveconfig"
	"github.com/lkarlslund/ccswitch/pkg/provider"
	"github.com/lkarlslund/ccswitch/pkg/store"
)

const testProxyURL = "http://127.0.0.1:12857"

type fakeProxy struct {
	starts, stops int
}

func (f *fakeProxy) Start() error {
	f.starts++
	return nil
}

func (f *fakeProxy) Stop() error {
	f.stops++
	return nil
}

type fixture struct {
	manager  *provider.Manager
	store    *store.FileStore
	files    *liveconfig.Files
	settings *config.SettingsStore
	proxy    *fakeProxy
	switcher *Switcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		manager: provider.NewManager(),
		store:   store.NewMemory(),
		files:   liveconfig.NewFiles(t.TempDir(), t.TempDir()),
		proxy:   &fakeProxy{},
	}
	f.settings = config.NewSettingsStore("", config.NewDefaultSettings())
	f.switcher = NewSwitcher(f.manager, f.store, f.files, f.settings, f.proxy, testProxyURL)
	return f
}

func (f *fixture) add(t *testing.T, kind provider.AppKind, id string, settings string) {
	t.Helper()
	if _, err := f.manager.Add(kind, provider.Provider{ID: id, Name: id, SettingsConfig: json.RawMessage(settings)}); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return b
}

const (
	claudeSettings = `{"env":{"ANTHROPIC_AUTH_TOKEN":"sk-ant-real","ANTHROPIC_BASE_URL":"https://api.anthropic.example"},"model":"opus"}`
	codexSettings  = `{"auth":{"OPENAI_API_KEY":"sk-real"},"config":"model = \"gpt-5\"\nbase_url = \"https://api.openai.example/v1\"\n"}`
)

func TestProxyThenDirectRestoresLiveConfig(t *testing.T) {
	f := newFixture(t)
	f.add(t, provider.AppClaude, "claude-a", claudeSettings)
	f.add(t, provider.AppCodex, "codex-a", codexSettings)
	if err := f.manager.SetCurrent(provider.AppClaude, "claude-a"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.SetCurrent(provider.AppCodex, "codex-a"); err != nil {
		t.Fatal(err)
	}

	if err := f.switcher.SwitchToDirect(); err != nil {
		t.Fatalf("switch to direct: %v", err)
	}
	claudeBefore := readFile(t, f.files.ClaudeSettingsPath())
	authBefore := readFile(t, f.files.CodexAuthPath())
	configBefore := readFile(t, f.files.CodexConfigPath())

	if err := f.switcher.SwitchToProxy(CommonConfig{}); err != nil {
		t.Fatalf("switch to proxy: %v", err)
	}
	if bytes.Contains(readFile(t, f.files.ClaudeSettingsPath()), []byte("sk-ant-real")) {
		t.Fatal("real claude key leaked into proxy config")
	}
	if err := f.switcher.SwitchToDirect(); err != nil {
		t.Fatalf("switch back to direct: %v", err)
	}

	if got := readFile(t, f.files.ClaudeSettingsPath()); !bytes.Equal(got, claudeBefore) {
		t.Fatalf("claude settings changed:\nbefore %s\nafter  %s", claudeBefore, got)
	}
	if got := readFile(t, f.files.CodexAuthPath()); !bytes.Equal(got, authBefore) {
		t.Fatalf("codex auth changed:\nbefore %s\nafter  %s", authBefore, got)
	}
	if got := readFile(t, f.files.CodexConfigPath()); !bytes.Equal(got, configBefore) {
		t.Fatalf("codex config changed:\nbefore %s\nafter  %s", configBefore, got)
	}
	if string(configBefore) != "model = \"gpt-5\"\nbase_url = \"https://api.openai.example/v1\"\n" {
		t.Fatalf("unexpected codex config text %q", configBefore)
	}
}

func TestSwitchToDirectPicksAndPersistsFirstProvider(t *testing.T) {
	f := newFixture(t)
	late := provider.Provider{ID: "late", Name: "late", SettingsConfig: json.RawMessage(claudeSettings), SortIndex: intPtr(5)}
	early := provider.Provider{ID: "early", Name: "early", SettingsConfig: json.RawMessage(`{"env":{"ANTHROPIC_AUTH_TOKEN":"k-early","ANTHROPIC_BASE_URL":"https://early.example"}}`), SortIndex: intPtr(1)}
	for _, p := range []provider.Provider{late, early} {
		if _, err := f.manager.Add(provider.AppClaude, p); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.switcher.SwitchToDirect(); err != nil {
		t.Fatalf("switch to direct: %v", err)
	}
	if got := f.manager.Current(provider.AppClaude); got != "early" {
		t.Fatalf("expected early to become current, got %q", got)
	}
	if _, ok := f.store.Get("providers.claude"); !ok {
		t.Fatal("expected selection to be persisted")
	}
	if !bytes.Contains(readFile(t, f.files.ClaudeSettingsPath()), []byte("k-early")) {
		t.Fatal("expected early provider credentials in claude settings")
	}
	if _, err := os.Stat(f.files.CodexAuthPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("codex has no providers and should be untouched, stat err=%v", err)
	}
}

func TestSwitchToDirectMissingCodexAuthIsError(t *testing.T) {
	f := newFixture(t)
	f.add(t, provider.AppClaude, "claude-a", claudeSettings)
	f.add(t, provider.AppCodex, "codex-bad", `{"config":"base_url = \"https://x.example\"\n"}`)

	err := f.switcher.SwitchToDirect()
	var extractErr *provider.ExtractionError
	if !errors.As(err, &extractErr) || extractErr.Field != "auth" {
		t.Fatalf("expected missing auth error, got %v", err)
	}
	// The claude half still succeeds.
	if !bytes.Contains(readFile(t, f.files.ClaudeSettingsPath()), []byte("sk-ant-real")) {
		t.Fatal("expected claude settings to be written despite codex failure")
	}
	if f.manager.Current(provider.AppCodex) != "" {
		t.Fatal("failed provider must not become current")
	}
}

func TestClaudeProxySettingsMergesCommonConfig(t *testing.T) {
	common := `{
		// comments are allowed
		"model": "sonnet",
		"permissions": {"allow": ["Bash"]},
		"env": {
			"ANTHROPIC_AUTH_TOKEN": "should-not-win",
			"ANTHROPIC_BASE_URL": "https://ignored.example",
			"DISABLE_TELEMETRY": "1",
		},
	}`
	out, err := ClaudeProxySettings(testProxyURL, common)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	checks := map[string]string{
		"env.ANTHROPIC_AUTH_TOKEN": ProxyToken,
		"env.ANTHROPIC_BASE_URL":   testProxyURL,
		"env.DISABLE_TELEMETRY":    "1",
		"model":                    "sonnet",
		"permissions.allow.0":      "Bash",
	}
	for path, want := range checks {
		if got := gjson.GetBytes(out, path).String(); got != want {
			t.Fatalf("%s: expected %q, got %q in %s", path, want, got, out)
		}
	}
}

func TestClaudeProxySettingsRejectsNonObject(t *testing.T) {
	for _, common := range []string{`["not", "an", "object"]`, `{"model": `, `"text"`} {
		out, err := ClaudeProxySettings(testProxyURL, common)
		if !errors.Is(err, ErrInvalidCommonConfig) {
			t.Fatalf("common %q: expected invalid common config error, got %v", common, err)
		}
		if out != nil {
			t.Fatalf("common %q: expected no settings to be produced, got %s", common, out)
		}
	}
}

func TestCodexProxyDataIsValidTOML(t *testing.T) {
	data := CodexProxyData(testProxyURL, "model = \"gpt-5-codex\"\n\n[mcp_servers.docs]\ncommand = \"docs\"\n")
	var doc struct {
		ModelProvider  string `toml:"model_provider"`
		Model          string `toml:"model"`
		ModelProviders map[string]struct {
			BaseURL            string `toml:"base_url"`
			Name               string `toml:"name"`
			RequiresOpenAIAuth bool   `toml:"requires_openai_auth"`
			WireAPI            string `toml:"wire_api"`
		} `toml:"model_providers"`
		MCPServers map[string]map[string]any `toml:"mcp_servers"`
	}
	if err := toml.Unmarshal([]byte(data.Config), &doc); err != nil {
		t.Fatalf("generated config is not valid toml: %v\n%s", err, data.Config)
	}
	p := doc.ModelProviders["ccswitch"]
	if doc.ModelProvider != "ccswitch" || doc.Model != "gpt-5-codex" || p.BaseURL != testProxyURL || !p.RequiresOpenAIAuth || p.WireAPI != "responses" {
		t.Fatalf("unexpected generated config: %+v", doc)
	}
	if _, ok := doc.MCPServers["docs"]; !ok {
		t.Fatalf("expected common tables preserved, got %+v", doc.MCPServers)
	}
	if got := gjson.GetBytes(data.Auth, "OPENAI_API_KEY").String(); got != ProxyToken {
		t.Fatalf("expected proxy token in auth, got %q", got)
	}

	bare := CodexProxyData(testProxyURL, "")
	if strings.Count(bare.Config, "model_provider = ") != 1 {
		t.Fatalf("unexpected bare config:\n%s", bare.Config)
	}
}

func TestSetModeDrivesProxyLifecycle(t *testing.T) {
	f := newFixture(t)
	f.add(t, provider.AppClaude, "claude-a", claudeSettings)

	if err := f.switcher.SetMode(config.ModeProxy); err != nil {
		t.Fatalf("set proxy mode: %v", err)
	}
	if f.proxy.starts != 1 || f.settings.Snapshot().OperationMode != config.ModeProxy {
		t.Fatalf("expected proxy started and mode persisted, starts=%d mode=%s", f.proxy.starts, f.settings.Snapshot().OperationMode)
	}
	if got := gjson.GetBytes(readFile(t, f.files.ClaudeSettingsPath()), "env.ANTHROPIC_BASE_URL").String(); got != testProxyURL {
		t.Fatalf("expected claude pointed at proxy, got %q", got)
	}

	if err := f.switcher.SetMode("write"); err != nil {
		t.Fatalf("set direct mode: %v", err)
	}
	if f.proxy.stops != 1 || f.settings.Snapshot().OperationMode != config.ModeDirect {
		t.Fatalf("expected proxy stopped and direct mode, stops=%d mode=%s", f.proxy.stops, f.settings.Snapshot().OperationMode)
	}
	if err := f.switcher.SetMode("sideways"); err == nil {
		t.Fatal("expected unknown mode to be rejected")
	}
}

func TestSwitchProviderInProxyModeLeavesClientConfig(t *testing.T) {
	f := newFixture(t)
	f.add(t, provider.AppClaude, "a", claudeSettings)
	f.add(t, provider.AppClaude, "b", `{"env":{"ANTHROPIC_AUTH_TOKEN":"k-b","ANTHROPIC_BASE_URL":"https://b.example"}}`)

	if err := f.switcher.SwitchProvider(provider.AppClaude, "b"); err != nil {
		t.Fatalf("switch provider: %v", err)
	}
	if !bytes.Contains(readFile(t, f.files.ClaudeSettingsPath()), []byte("k-b")) {
		t.Fatal("direct mode switch should write the provider")
	}

	if err := f.switcher.SetMode(config.ModeProxy); err != nil {
		t.Fatal(err)
	}
	if err := f.switcher.SwitchProvider(provider.AppClaude, "a"); err != nil {
		t.Fatalf("switch provider: %v", err)
	}
	if f.manager.Current(provider.AppClaude) != "a" {
		t.Fatal("expected selection updated")
	}
	if bytes.Contains(readFile(t, f.files.ClaudeSettingsPath()), []byte("sk-ant-real")) {
		t.Fatal("proxy mode config must not receive real credentials")
	}
	if err := f.switcher.SwitchProvider(provider.AppClaude, "missing"); !errors.Is(err, provider.ErrProviderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func intPtr(v int) *int { return &v }
