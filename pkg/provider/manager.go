package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lkarlslund/ccswitch/pkg/store"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrDuplicateID      = errors.New("duplicate provider id")
	ErrProviderInUse    = errors.New("provider is currently selected")
)

func storeKey(kind AppKind) string {
	return "providers." + string(kind)
}

// Manager owns one Registry per AppKind behind a single lock. Every read
// returns copies; nothing handed out aliases registry state.
type Manager struct {
	mu         sync.Mutex
	registries map[AppKind]*Registry
	now        func() time.Time
}

func NewManager() *Manager {
	m := &Manager{registries: map[AppKind]*Registry{}, now: time.Now}
	for _, kind := range AllAppKinds() {
		m.registries[kind] = &Registry{Providers: map[string]Provider{}}
	}
	return m
}

func (m *Manager) registry(kind AppKind) (*Registry, error) {
	reg, ok := m.registries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown app %q", kind)
	}
	return reg, nil
}

// Load replaces every registry with the one persisted in s. Missing keys
// leave an empty registry.
func (m *Manager) Load(s store.Store) error {
	loaded := map[AppKind]*Registry{}
	for _, kind := range AllAppKinds() {
		reg := &Registry{Providers: map[string]Provider{}}
		if raw, ok := s.Get(storeKey(kind)); ok {
			if err := json.Unmarshal(raw, reg); err != nil {
				return fmt.Errorf("decode %s providers: %w", kind, err)
			}
			if reg.Providers == nil {
				reg.Providers = map[string]Provider{}
			}
		}
		for id, p := range reg.Providers {
			if p.ID == "" {
				p.ID = id
				reg.Providers[id] = p
			}
		}
		loaded[kind] = reg
	}
	m.mu.Lock()
	m.registries = loaded
	m.mu.Unlock()
	return nil
}

// Persist writes every registry to s and saves it.
func (m *Manager) Persist(s store.Store) error {
	m.mu.Lock()
	for kind, reg := range m.registries {
		if err := s.Set(storeKey(kind), reg); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()
	return s.Save()
}

// Add stores p, assigning an ID and creation time when absent.
func (m *Manager) Add(kind AppKind, p Provider) (Provider, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt == nil {
		ts := m.now().UnixMilli()
		p.CreatedAt = &ts
	}
	if len(p.SettingsConfig) == 0 {
		p.SettingsConfig = json.RawMessage("{}")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.registry(kind)
	if err != nil {
		return Provider{}, err
	}
	if _, ok := reg.Providers[p.ID]; ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	reg.Providers[p.ID] = p.Clone()
	return p, nil
}

// Remove deletes a provider. The selected provider cannot be removed.
func (m *Manager) Remove(kind AppKind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.registry(kind)
	if err != nil {
		return err
	}
	if _, ok := reg.Providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if reg.Current == id {
		return fmt.Errorf("%w: %s", ErrProviderInUse, id)
	}
	delete(reg.Providers, id)
	return nil
}

func (m *Manager) Get(kind AppKind, id string) (Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.registry(kind)
	if err != nil {
		return Provider{}, false
	}
	p, ok := reg.Providers[id]
	if !ok {
		return Provider{}, false
	}
	return p.Clone(), true
}

// List returns every provider of kind in failover order.
func (m *Manager) List(kind AppKind) []Provider {
	return m.snapshot(kind, func(Provider) bool { return true })
}

// Eligible returns the proxy-enabled providers of kind in failover order.
func (m *Manager) Eligible(kind AppKind) []Provider {
	return m.snapshot(kind, func(p Provider) bool { return p.ProxyEnabled })
}

func (m *Manager) snapshot(kind AppKind, keep func(Provider) bool) []Provider {
	m.mu.Lock()
	reg, err := m.registry(kind)
	if err != nil {
		m.mu.Unlock()
		return nil
	}
	out := make([]Provider, 0, len(reg.Providers))
	for _, p := range reg.Providers {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	m.mu.Unlock()
	// ID order first so the stable sort is deterministic across runs.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	SortProviders(out)
	return out
}

func (m *Manager) Current(kind AppKind) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.registry(kind)
	if err != nil {
		return ""
	}
	return reg.Current
}

func (m *Manager) SetCurrent(kind AppKind, id string) error {
	return m.mutate(kind, id, func(reg *Registry, _ *Provider) {
		reg.Current = id
	})
}

func (m *Manager) SetProxyEnabled(kind AppKind, id string, enabled bool) error {
	return m.mutate(kind, id, func(_ *Registry, p *Provider) {
		p.ProxyEnabled = enabled
	})
}

// SetSortIndex sets or, with nil, clears the explicit ordering key.
func (m *Manager) SetSortIndex(kind AppKind, id string, idx *int) error {
	return m.mutate(kind, id, func(_ *Registry, p *Provider) {
		if idx == nil {
			p.SortIndex = nil
			return
		}
		v := *idx
		p.SortIndex = &v
	})
}

// SetUsageScript attaches script to the provider's meta; nil detaches it.
func (m *Manager) SetUsageScript(kind AppKind, id string, script *UsageScript) error {
	return m.mutate(kind, id, func(_ *Registry, p *Provider) {
		meta := ProviderMeta{}
		if p.Meta != nil {
			meta.CustomEndpoints = maps.Clone(p.Meta.CustomEndpoints)
		}
		if script != nil {
			us := *script
			meta.UsageScript = &us
		}
		p.Meta = &meta
	})
}

func (m *Manager) mutate(kind AppKind, id string, fn func(*Registry, *Provider)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.registry(kind)
	if err != nil {
		return err
	}
	p, ok := reg.Providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	fn(reg, &p)
	reg.Providers[id] = p
	return nil
}

// CurrentOrFirst returns the selected provider, or when none is selected
// the first provider in failover order. fallback reports the latter case;
// the caller decides whether to persist it as the new selection.
func (m *Manager) CurrentOrFirst(kind AppKind) (p Provider, fallback bool, ok bool) {
	m.mu.Lock()
	reg, err := m.registry(kind)
	if err != nil {
		m.mu.Unlock()
		return Provider{}, false, false
	}
	// A dangling selection is treated as no selection.
	if cur, found := reg.Providers[reg.Current]; reg.Current != "" && found {
		m.mu.Unlock()
		return cur.Clone(), false, true
	}
	m.mu.Unlock()
	all := m.List(kind)
	if len(all) == 0 {
		return Provider{}, false, false
	}
	return all[0], true, true
}
