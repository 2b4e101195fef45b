// Package store is the small key-value document that holds provider
// registries and path overrides. Values are raw JSON; callers own their
// encoding.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lkarlslund/ccswitch/pkg/cache"
	"github.com/lkarlslund/ccswitch/pkg/logutil"
)

const KeyAppConfigDirOverride = "app_config_dir_override"

var logger = logutil.For("store")

// Store is the persistence contract the core depends on.
type Store interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value any) error
	Delete(key string)
	Save() error
}

// FileStore keeps every entry in memory and writes the whole map on Save.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries map[string]json.RawMessage
}

// Open loads path, starting empty when the file does not exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: map[string]json.RawMessage{}}
	if err := cache.LoadJSON(path, &s.entries); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if s.entries == nil {
		s.entries = map[string]json.RawMessage{}
	}
	return s, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory() *FileStore {
	return &FileStore{entries: map[string]json.RawMessage{}}
}

func (s *FileStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

func (s *FileStore) Set(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.mu.Lock()
	s.entries[key] = b
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *FileStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := cache.SaveJSON(s.path, s.entries); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

// AppConfigDirOverride returns the user-chosen config directory, expanding
// a leading "~". Paths that do not exist are ignored with a warning.
func AppConfigDirOverride(s Store) (string, bool) {
	raw, ok := s.Get(KeyAppConfigDirOverride)
	if !ok {
		return "", false
	}
	var p string
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Warn("config dir override has wrong type, expected string", "key", KeyAppConfigDirOverride)
		return "", false
	}
	p = strings.TrimSpace(p)
	if p == "" {
		return "", false
	}
	p = ExpandHome(p)
	if _, err := os.Stat(p); err != nil {
		logger.Warn("config dir override does not exist, using default", "path", p)
		return "", false
	}
	return p, true
}

// SetAppConfigDirOverride stores p, or removes the override when p is blank.
func SetAppConfigDirOverride(s Store, p string) error {
	p = strings.TrimSpace(p)
	if p == "" {
		s.Delete(KeyAppConfigDirOverride)
	} else if err := s.Set(KeyAppConfigDirOverride, p); err != nil {
		return err
	}
	return s.Save()
}

func ExpandHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"), strings.HasPrefix(p, `~\`):
		return filepath.Join(home, p[2:])
	}
	return p
}
