package provider

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// AppKind names one of the two downstream clients. The set is closed:
// every switch over AppKind handles exactly these values.
type AppKind string

const (
	AppClaude AppKind = "claude"
	AppCodex  AppKind = "codex"
)

func AllAppKinds() []AppKind {
	return []AppKind{AppClaude, AppCodex}
}

func ParseAppKind(s string) (AppKind, error) {
	switch AppKind(strings.ToLower(strings.TrimSpace(s))) {
	case AppClaude:
		return AppClaude, nil
	case AppCodex:
		return AppCodex, nil
	default:
		return "", fmt.Errorf("unknown app %q (want claude or codex)", s)
	}
}

func (k AppKind) String() string { return string(k) }

type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// SettingsConfig is kept as raw bytes so direct mode writes back
	// exactly what the user stored.
	SettingsConfig json.RawMessage `json:"settingsConfig"`
	WebsiteURL     string          `json:"websiteUrl,omitempty"`
	Category       string          `json:"category,omitempty"`
	CreatedAt      *int64          `json:"createdAt,omitempty"`
	SortIndex      *int            `json:"sortIndex,omitempty"`
	ProxyEnabled   bool            `json:"proxyEnabled,omitempty"`
	Meta           *ProviderMeta   `json:"meta,omitempty"`
}

type ProviderMeta struct {
	CustomEndpoints map[string]CustomEndpoint `json:"custom_endpoints,omitempty"`
	UsageScript     *UsageScript              `json:"usage_script,omitempty"`
}

type CustomEndpoint struct {
	URL      string `json:"url"`
	AddedAt  int64  `json:"addedAt"`
	LastUsed *int64 `json:"lastUsed,omitempty"`
}

type UsageScript struct {
	Enabled  bool   `json:"enabled"`
	Language string `json:"language"`
	Code     string `json:"code"`
	// Timeout in seconds; zero means the configured default.
	Timeout *int `json:"timeout,omitempty"`
}

type UsageData struct {
	PlanName       *string  `json:"planName,omitempty"`
	Extra          *string  `json:"extra,omitempty"`
	IsValid        *bool    `json:"isValid,omitempty"`
	InvalidMessage *string  `json:"invalidMessage,omitempty"`
	Total          *float64 `json:"total,omitempty"`
	Used           *float64 `json:"used,omitempty"`
	Remaining      *float64 `json:"remaining,omitempty"`
	Unit           *string  `json:"unit,omitempty"`
}

type UsageResult struct {
	Success bool        `json:"success"`
	Data    []UsageData `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Registry is the per-app set of providers plus the selected one.
// Current may be empty.
type Registry struct {
	Providers map[string]Provider `json:"providers"`
	Current   string              `json:"current"`
}

func (p Provider) UsageScript() (*UsageScript, bool) {
	if p.Meta == nil || p.Meta.UsageScript == nil {
		return nil, false
	}
	return p.Meta.UsageScript, true
}

// Clone copies the provider so callers can keep it after the registry
// lock is released.
func (p Provider) Clone() Provider {
	out := p
	out.SettingsConfig = append(json.RawMessage(nil), p.SettingsConfig...)
	if p.CreatedAt != nil {
		v := *p.CreatedAt
		out.CreatedAt = &v
	}
	if p.SortIndex != nil {
		v := *p.SortIndex
		out.SortIndex = &v
	}
	if p.Meta != nil {
		meta := ProviderMeta{CustomEndpoints: maps.Clone(p.Meta.CustomEndpoints)}
		if p.Meta.UsageScript != nil {
			us := *p.Meta.UsageScript
			meta.UsageScript = &us
		}
		out.Meta = &meta
	}
	return out
}

// SortProviders orders providers in place: explicit sortIndex first and
// ascending, then createdAt (present before absent, ascending). Equal keys
// keep their input order.
func SortProviders(providers []Provider) {
	sort.SliceStable(providers, func(i, j int) bool {
		return lessProvider(providers[i], providers[j])
	})
}

func lessProvider(a, b Provider) bool {
	switch {
	case a.SortIndex != nil && b.SortIndex == nil:
		return true
	case a.SortIndex == nil && b.SortIndex != nil:
		return false
	case a.SortIndex != nil && *a.SortIndex != *b.SortIndex:
		return *a.SortIndex < *b.SortIndex
	}
	switch {
	case a.CreatedAt != nil && b.CreatedAt == nil:
		return true
	case a.CreatedAt == nil && b.CreatedAt != nil:
		return false
	case a.CreatedAt != nil:
		return *a.CreatedAt < *b.CreatedAt
	}
	return false
}
