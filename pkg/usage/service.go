package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lkarlslund/ccswitch/pkg/cache"
	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/provider"
	"github.com/lkarlslund/ccswitch/pkg/store"
)

// refreshWindow debounces repeated queries for the same provider.
const refreshWindow = 5 * time.Second

var ErrNoUsageScript = errors.New("usage script not configured or disabled")

type ProviderLookup interface {
	Get(kind provider.AppKind, id string) (provider.Provider, bool)
}

type SettingsSource interface {
	Snapshot() config.Settings
}

type Service struct {
	providers ProviderLookup
	settings  SettingsSource
	results   *cache.TTLMap[string, provider.UsageResult]
	store     store.Store
	now       func() time.Time
}

// storedResult is the persisted form of a cached success.
type storedResult struct {
	Result    provider.UsageResult `json:"result"`
	FetchedAt int64                `json:"fetchedAt"`
}

func NewService(providers ProviderLookup, settings SettingsSource) *Service {
	return &Service{
		providers: providers,
		settings:  settings,
		results:   cache.NewTTLMap[string, provider.UsageResult](),
		now:       time.Now,
	}
}

// WithStore shares successful results through st, so short-lived
// processes using the same store see each other's recent queries.
func (s *Service) WithStore(st store.Store) *Service {
	s.store = st
	return s
}

func storeKey(key string) string {
	return "usage_cache." + key
}

// Query runs the provider's usage script. Failures are reported in the
// result, not as an error. A successful result is reused for a few seconds
// unless force is set.
func (s *Service) Query(ctx context.Context, kind provider.AppKind, id string, force bool) provider.UsageResult {
	key := string(kind) + "/" + id
	if !force {
		if cached, ok := s.results.GetFresh(key, s.now()); ok {
			return cached
		}
		if cached, ok := s.loadStored(key); ok {
			return cached
		}
	}

	data, err := s.run(ctx, kind, id)
	if err != nil {
		logger.Warn("usage query failed", "app", kind, "provider", id, "err", err)
		return provider.UsageResult{Success: false, Error: err.Error()}
	}
	res := provider.UsageResult{Success: true, Data: data}
	now := s.now()
	s.results.SetWithTTL(key, res, now, refreshWindow)
	s.saveStored(key, res, now)
	return res
}

func (s *Service) loadStored(key string) (provider.UsageResult, bool) {
	if s.store == nil {
		return provider.UsageResult{}, false
	}
	raw, ok := s.store.Get(storeKey(key))
	if !ok {
		return provider.UsageResult{}, false
	}
	var sr storedResult
	if err := json.Unmarshal(raw, &sr); err != nil {
		logger.Warn("discarding unreadable cached usage", "key", key, "err", err)
		return provider.UsageResult{}, false
	}
	now := s.now()
	fetched := time.UnixMilli(sr.FetchedAt)
	if fetched.After(now) || !sr.Result.Success {
		return provider.UsageResult{}, false
	}
	age := now.Sub(fetched)
	if age >= refreshWindow {
		return provider.UsageResult{}, false
	}
	s.results.SetWithTTL(key, sr.Result, now, refreshWindow-age)
	return sr.Result, true
}

func (s *Service) saveStored(key string, res provider.UsageResult, now time.Time) {
	if s.store == nil {
		return
	}
	err := s.store.Set(storeKey(key), storedResult{Result: res, FetchedAt: now.UnixMilli()})
	if err == nil {
		err = s.store.Save()
	}
	if err != nil {
		logger.Warn("persist usage result", "key", key, "err", err)
	}
}

func (s *Service) run(ctx context.Context, kind provider.AppKind, id string) ([]provider.UsageData, error) {
	p, ok := s.providers.Get(kind, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrProviderNotFound, id)
	}
	script, ok := p.UsageScript()
	if !ok || !script.Enabled {
		return nil, ErrNoUsageScript
	}
	creds, err := provider.ExtractCredentials(p, kind)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(s.settings.Snapshot().UsageTimeoutSeconds) * time.Second
	if script.Timeout != nil && *script.Timeout > 0 {
		timeout = time.Duration(*script.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = config.DefaultUsageTimeoutSeconds * time.Second
	}

	result, err := Execute(ctx, script.Code, creds.APIKey, creds.BaseURL, timeout)
	if err != nil {
		return nil, err
	}
	return toUsageData(result)
}

// toUsageData converts a validated result into one or more UsageData.
func toUsageData(result any) ([]provider.UsageData, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if _, isList := result.([]any); isList {
		var out []provider.UsageData
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var single provider.UsageData
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []provider.UsageData{single}, nil
}
