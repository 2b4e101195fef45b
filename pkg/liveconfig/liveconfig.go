// Package liveconfig reads and writes the configuration files the
// downstream clients load on start: Claude Code's settings.json and
// Codex's auth.json plus config.toml.
package liveconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/lkarlslund/ccswitch/pkg/cache"
	"github.com/lkarlslund/ccswitch/pkg/provider"
)

// Data is the content of one client's live config. Claude uses Settings;
// Codex uses Auth and Config.
type Data struct {
	Settings json.RawMessage
	Auth     json.RawMessage
	Config   string
}

// Writer is the contract the mode switcher writes through.
type Writer interface {
	WriteLiveConfig(kind provider.AppKind, data Data) error
}

type Files struct {
	ClaudeDir string
	CodexDir  string
}

func NewFiles(claudeDir, codexDir string) *Files {
	return &Files{ClaudeDir: claudeDir, CodexDir: codexDir}
}

func (f *Files) ClaudeSettingsPath() string { return filepath.Join(f.ClaudeDir, "settings.json") }
func (f *Files) CodexAuthPath() string      { return filepath.Join(f.CodexDir, "auth.json") }
func (f *Files) CodexConfigPath() string    { return filepath.Join(f.CodexDir, "config.toml") }

func (f *Files) WriteLiveConfig(kind provider.AppKind, data Data) error {
	switch kind {
	case provider.AppClaude:
		return writeJSON(f.ClaudeSettingsPath(), data.Settings)
	case provider.AppCodex:
		return f.writeCodex(data.Auth, data.Config)
	default:
		return fmt.Errorf("unknown app %q", kind)
	}
}

// writeCodex validates the TOML before touching either file, so a bad
// config never leaves auth.json updated on its own.
func (f *Files) writeCodex(auth json.RawMessage, configText string) error {
	if len(auth) == 0 {
		return errors.New("codex auth is required")
	}
	if configText != "" {
		var probe map[string]any
		if err := toml.Unmarshal([]byte(configText), &probe); err != nil {
			return fmt.Errorf("invalid codex config.toml: %w", err)
		}
	}
	if err := writeJSON(f.CodexAuthPath(), auth); err != nil {
		return err
	}
	if err := cache.WriteFileAtomic(f.CodexConfigPath(), []byte(configText)); err != nil {
		return fmt.Errorf("write codex config.toml: %w", err)
	}
	return nil
}

// ReadLiveConfig returns what the client currently has on disk. Missing
// files read as empty.
func (f *Files) ReadLiveConfig(kind provider.AppKind) (Data, error) {
	switch kind {
	case provider.AppClaude:
		b, err := readOptional(f.ClaudeSettingsPath())
		return Data{Settings: b}, err
	case provider.AppCodex:
		auth, err := readOptional(f.CodexAuthPath())
		if err != nil {
			return Data{}, err
		}
		cfg, err := readOptional(f.CodexConfigPath())
		return Data{Auth: auth, Config: string(cfg)}, err
	default:
		return Data{}, fmt.Errorf("unknown app %q", kind)
	}
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

func writeJSON(path string, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	buf.WriteByte('\n')
	if err := cache.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
