package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/lkarlslund/ccswitch/pkg/cache"
)

const (
	defaultSettingsFileName = "settings.toml"

	ModeDirect = "direct"
	ModeProxy  = "proxy"

	// DefaultProxyListenAddr is the loopback endpoint the failover proxy binds.
	DefaultProxyListenAddr = "127.0.0.1:12857"

	DefaultProxyRetryCount     = 1
	DefaultUsageTimeoutSeconds = 10
)

type Settings struct {
	OperationMode string `toml:"operation_mode"`
	// ProxyListenAddr is both where serve binds and where proxy-mode
	// client configs point.
	ProxyListenAddr     string `toml:"proxy_listen_addr"`
	ProxyRetryCount     int    `toml:"proxy_retry_count"`
	UsageTimeoutSeconds int    `toml:"usage_timeout_seconds"`
	StorePath           string `toml:"store_path"`
	PathsStorePath      string `toml:"paths_store_path"`
	ClaudeConfigDir     string `toml:"claude_config_dir"`
	CodexConfigDir      string `toml:"codex_config_dir"`
	// Merged into the proxy-mode client configs: JSON(C) for Claude,
	// TOML appended verbatim for Codex.
	ClaudeCommonConfig string `toml:"claude_common_config,omitempty"`
	CodexCommonConfig  string `toml:"codex_common_config,omitempty"`
}

func appDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccswitch"
	}
	return filepath.Join(home, ".config", "ccswitch")
}

func homeDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, name)
}

func DefaultSettingsPath() string {
	return filepath.Join(appDir(), defaultSettingsFileName)
}

func DefaultStorePath() string {
	return filepath.Join(appDir(), "store.json")
}

func DefaultPathsStorePath() string {
	return filepath.Join(appDir(), "app_paths.json")
}

func NewDefaultSettings() *Settings {
	return &Settings{
		OperationMode:       ModeDirect,
		ProxyListenAddr:     DefaultProxyListenAddr,
		ProxyRetryCount:     DefaultProxyRetryCount,
		UsageTimeoutSeconds: DefaultUsageTimeoutSeconds,
		StorePath:           DefaultStorePath(),
		PathsStorePath:      DefaultPathsStorePath(),
		ClaudeConfigDir:     homeDir(".claude"),
		CodexConfigDir:      homeDir(".codex"),
	}
}

// ProxyURL is the base URL clients are pointed at in proxy mode.
func ProxyURL(listenAddr string) string {
	return "http://" + listenAddr
}

// LoadSettings reads path over the defaults, so keys missing from the
// file keep their default values.
func LoadSettings(path string) (*Settings, error) {
	cfg := NewDefaultSettings()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefaultSettings is LoadSettings, falling back to defaults when
// the file does not exist.
func LoadOrDefaultSettings(path string) (*Settings, error) {
	cfg, err := LoadSettings(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = NewDefaultSettings()
		cfg.Normalize()
		return cfg, nil
	}
	return cfg, err
}

func Save(path string, v any) error {
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	return cache.WriteFileAtomic(path, b)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetTablesInline(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *Settings) Normalize() {
	c.OperationMode = strings.ToLower(strings.TrimSpace(c.OperationMode))
	if c.OperationMode == "" || c.OperationMode == "write" {
		c.OperationMode = ModeDirect
	}
	c.ProxyListenAddr = strings.TrimSpace(c.ProxyListenAddr)
	if c.ProxyListenAddr == "" {
		c.ProxyListenAddr = DefaultProxyListenAddr
	}
	if c.ProxyRetryCount < 0 {
		c.ProxyRetryCount = 0
	}
	if c.UsageTimeoutSeconds <= 0 {
		c.UsageTimeoutSeconds = DefaultUsageTimeoutSeconds
	}
	c.StorePath = strings.TrimSpace(c.StorePath)
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath()
	}
	c.PathsStorePath = strings.TrimSpace(c.PathsStorePath)
	if c.PathsStorePath == "" {
		c.PathsStorePath = DefaultPathsStorePath()
	}
	c.ClaudeConfigDir = strings.TrimSpace(c.ClaudeConfigDir)
	if c.ClaudeConfigDir == "" {
		c.ClaudeConfigDir = homeDir(".claude")
	}
	c.CodexConfigDir = strings.TrimSpace(c.CodexConfigDir)
	if c.CodexConfigDir == "" {
		c.CodexConfigDir = homeDir(".codex")
	}
}

func (c *Settings) Validate() error {
	if c.OperationMode != ModeDirect && c.OperationMode != ModeProxy {
		return fmt.Errorf("operation_mode must be one of %s, %s", ModeDirect, ModeProxy)
	}
	if _, port, err := net.SplitHostPort(c.ProxyListenAddr); err != nil || port == "" {
		return fmt.Errorf("proxy_listen_addr %q must be host:port", c.ProxyListenAddr)
	}
	if c.ProxyRetryCount > 10 {
		return errors.New("proxy_retry_count must be <= 10")
	}
	if c.UsageTimeoutSeconds > 300 {
		return errors.New("usage_timeout_seconds must be <= 300")
	}
	return nil
}

// SettingsStore serialises reads and writes of the settings file.
type SettingsStore struct {
	mu   sync.RWMutex
	path string
	cfg  *Settings
}

func NewSettingsStore(path string, cfg *Settings) *SettingsStore {
	return &SettingsStore{path: path, cfg: cfg}
}

func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Update applies mutator to a copy, validates it and persists it before
// publishing. A blank path keeps the settings in memory only.
func (s *SettingsStore) Update(mutator func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	if err := mutator(&cp); err != nil {
		return err
	}
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return err
	}
	if s.path != "" {
		if err := Save(s.path, &cp); err != nil {
			return err
		}
	}
	s.cfg = &cp
	return nil
}
