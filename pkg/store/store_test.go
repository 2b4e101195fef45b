package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set("answer", 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("gone", "x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Delete("gone")
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	raw, ok := reopened.Get("answer")
	if !ok {
		t.Fatal("expected answer key after reopen")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n != 42 {
		t.Fatalf("expected 42, got %s (%v)", raw, err)
	}
	if _, ok := reopened.Get("gone"); ok {
		t.Fatal("deleted key should not persist")
	}
}

func TestAppConfigDirOverride(t *testing.T) {
	s := NewMemory()
	if _, ok := AppConfigDirOverride(s); ok {
		t.Fatal("expected no override on empty store")
	}

	dir := t.TempDir()
	if err := SetAppConfigDirOverride(s, dir); err != nil {
		t.Fatalf("set override: %v", err)
	}
	got, ok := AppConfigDirOverride(s)
	if !ok || got != dir {
		t.Fatalf("expected override %q, got %q (%v)", dir, got, ok)
	}

	if err := SetAppConfigDirOverride(s, filepath.Join(dir, "does-not-exist")); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if _, ok := AppConfigDirOverride(s); ok {
		t.Fatal("missing directory should be ignored")
	}

	if err := SetAppConfigDirOverride(s, "  "); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	if _, ok := s.Get(KeyAppConfigDirOverride); ok {
		t.Fatal("blank override should delete the key")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
