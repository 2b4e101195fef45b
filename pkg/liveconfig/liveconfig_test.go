package liveconfig

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/lkarlslund/ccswitch/pkg/provider"
)

func TestWriteAndReadClaude(t *testing.T) {
	dir := t.TempDir()
	f := NewFiles(dir, t.TempDir())
	raw := json.RawMessage(`{"env":{"ANTHROPIC_AUTH_TOKEN":"t"}}`)
	if err := f.WriteLiveConfig(provider.AppClaude, Data{Settings: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadLiveConfig(provider.AppClaude)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]map[string]string
	if err := json.Unmarshal(got.Settings, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v["env"]["ANTHROPIC_AUTH_TOKEN"] != "t" {
		t.Fatalf("unexpected settings %s", got.Settings)
	}
}

func TestWriteClaudeRejectsInvalidJSON(t *testing.T) {
	f := NewFiles(t.TempDir(), t.TempDir())
	if err := f.WriteLiveConfig(provider.AppClaude, Data{Settings: json.RawMessage(`{`)}); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestWriteCodexValidatesTOMLFirst(t *testing.T) {
	f := NewFiles(t.TempDir(), t.TempDir())
	err := f.WriteLiveConfig(provider.AppCodex, Data{
		Auth:   json.RawMessage(`{"OPENAI_API_KEY":"k"}`),
		Config: "base_url = \n[broken",
	})
	if err == nil || !strings.Contains(err.Error(), "config.toml") {
		t.Fatalf("expected toml validation error, got %v", err)
	}
	if _, statErr := os.Stat(f.CodexAuthPath()); !os.IsNotExist(statErr) {
		t.Fatal("auth.json must not be written when config is invalid")
	}
}

func TestWriteAndReadCodex(t *testing.T) {
	f := NewFiles(t.TempDir(), t.TempDir())
	cfg := "model_provider = \"x\"\n\n[model_providers.x]\nbase_url = \"https://x\"\n"
	if err := f.WriteLiveConfig(provider.AppCodex, Data{Auth: json.RawMessage(`{"OPENAI_API_KEY":"k"}`), Config: cfg}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadLiveConfig(provider.AppCodex)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Config != cfg {
		t.Fatalf("config mismatch:\n%s", got.Config)
	}
	if !strings.Contains(string(got.Auth), `"OPENAI_API_KEY": "k"`) {
		t.Fatalf("unexpected auth %s", got.Auth)
	}
	if err := f.WriteLiveConfig(provider.AppCodex, Data{}); err == nil {
		t.Fatal("expected error without auth")
	}
}

func TestReadMissingFilesIsEmpty(t *testing.T) {
	f := NewFiles(t.TempDir(), t.TempDir())
	got, err := f.ReadLiveConfig(provider.AppCodex)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Auth != nil || got.Config != "" {
		t.Fatalf("expected empty data, got %+v", got)
	}
}
