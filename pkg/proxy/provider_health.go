package proxy

import (
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/provider"
)

const (
	healthOnline        = "online"
	healthOffline       = "offline"
	healthAuthProblem   = "auth problem"
	healthUpstreamError = "upstream error"

	// failureWarnThreshold is the consecutive failure count at which a
	// provider is reported as unhealthy.
	failureWarnThreshold = 3
)

type ProviderHealth struct {
	Status     string
	StatusCode int
	ResponseMS int64
	// Failures counts consecutive failed attempts; a success resets it.
	Failures  int
	LastError string
	CheckedAt time.Time
}

// HealthEntry is one provider's health in an Entries listing.
type HealthEntry struct {
	Kind provider.AppKind
	ID   string
	ProviderHealth
}

type healthKey struct {
	kind provider.AppKind
	id   string
}

// ProviderHealthChecker keeps the outcome of the latest proxied attempt
// per provider.
type ProviderHealthChecker struct {
	now func() time.Time
	log *log.Logger

	mu    sync.RWMutex
	byKey map[healthKey]ProviderHealth
}

func NewProviderHealthChecker() *ProviderHealthChecker {
	return &ProviderHealthChecker{
		now:   time.Now,
		log:   logutil.For("health"),
		byKey: map[healthKey]ProviderHealth{},
	}
}

func (c *ProviderHealthChecker) Snapshot(kind provider.AppKind, id string) (ProviderHealth, bool) {
	if c == nil {
		return ProviderHealth{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byKey[healthKey{kind, id}]
	return v, ok
}

// Entries lists every provider seen so far, ordered by app then ID.
func (c *ProviderHealthChecker) Entries() []HealthEntry {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	out := make([]HealthEntry, 0, len(c.byKey))
	for k, v := range c.byKey {
		out = append(out, HealthEntry{Kind: k.kind, ID: k.id, ProviderHealth: v})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LogSummary writes one line per provider seen since start.
func (c *ProviderHealthChecker) LogSummary() {
	entries := c.Entries()
	if len(entries) == 0 {
		c.log.Info("no proxied requests yet")
		return
	}
	for _, e := range entries {
		c.log.Info("provider health", "app", e.Kind, "provider", e.ID, "status", e.Status, "code", e.StatusCode, "latency_ms", e.ResponseMS, "failures", e.Failures, "checked", e.CheckedAt.Format(time.TimeOnly))
	}
}

func (c *ProviderHealthChecker) RecordProxyResult(kind provider.AppKind, id string, latency time.Duration, statusCode int, reqErr error) {
	if c == nil || id == "" {
		return
	}
	snap := ProviderHealth{
		Status:     healthOnline,
		StatusCode: statusCode,
		ResponseMS: latency.Milliseconds(),
		CheckedAt:  c.now().UTC(),
	}
	switch {
	case reqErr != nil:
		snap.Status = healthOffline
		snap.LastError = reqErr.Error()
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		snap.Status = healthAuthProblem
	case statusCode != http.StatusOK:
		snap.Status = healthUpstreamError
	}

	key := healthKey{kind, id}
	c.mu.Lock()
	if snap.Status != healthOnline {
		snap.Failures = c.byKey[key].Failures + 1
	}
	c.byKey[key] = snap
	c.mu.Unlock()

	if snap.Failures == failureWarnThreshold {
		c.log.Warn("provider failing repeatedly", "app", kind, "provider", id, "failures", snap.Failures, "status", snap.Status, "code", snap.StatusCode, "err", snap.LastError)
	}
}
