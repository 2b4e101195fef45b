package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/charmbracelet/log"

	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/provider"
)

const defaultRetryBackoff = 100 * time.Millisecond

var (
	ErrNoEligibleProvider    = errors.New("no proxy-enabled provider")
	ErrAllProvidersExhausted = errors.New("all providers failed")
	ErrUpstreamBody          = errors.New("failed to read upstream response body")
)

// ProviderSource hands out an ordered snapshot of proxy-enabled providers.
type ProviderSource interface {
	Eligible(kind provider.AppKind) []provider.Provider
}

type UpstreamResponse struct {
	Provider   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Router walks the eligible providers in order, retrying each one before
// failing over to the next. Only a 200 counts as success.
type Router struct {
	providers ProviderSource
	retries   func() int
	client    *http.Client
	backoff   time.Duration
	health    *ProviderHealthChecker
	log       *log.Logger
}

func NewRouter(providers ProviderSource, retries func() int, health *ProviderHealthChecker) *Router {
	if retries == nil {
		retries = func() int { return 0 }
	}
	return &Router{
		providers: providers,
		retries:   retries,
		// The default transport picks http or https from each target URL.
		client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		backoff: defaultRetryBackoff,
		health:  health,
		log:     logutil.For("router"),
	}
}

func (r *Router) Forward(ctx context.Context, kind provider.AppKind, in *http.Request, body []byte) (*UpstreamResponse, error) {
	providers := r.providers.Eligible(kind)
	if len(providers) == 0 {
		r.log.Error("no proxy-enabled providers", "app", kind)
		return nil, fmt.Errorf("%w for %s", ErrNoEligibleProvider, kind)
	}
	retries := max(r.retries(), 0)
	requestPath := in.URL.RequestURI()

	for _, p := range providers {
		creds, err := provider.ExtractCredentials(p, kind)
		if err != nil {
			r.log.Warn("skipping provider", "provider", p.Name, "err", err)
			continue
		}
		target := strings.TrimRight(creds.BaseURL, "/") + requestPath

		for attempt := 0; attempt <= retries; attempt++ {
			req, err := http.NewRequestWithContext(ctx, in.Method, target, bytes.NewReader(body))
			if err != nil {
				r.log.Error("build upstream request", "provider", p.Name, "target", target, "err", err)
				break
			}
			copyRequestHeaders(req.Header, in.Header, creds.APIKey)

			start := time.Now()
			resp, err := r.client.Do(req)
			latency := time.Since(start)
			switch {
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				r.health.RecordProxyResult(kind, p.ID, latency, 0, err)
				r.log.Warn("upstream request failed", "provider", p.Name, "path", requestPath, "attempt", attempt+1, "err", err)
			case resp.StatusCode == http.StatusOK:
				b, readErr := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				if readErr != nil {
					r.health.RecordProxyResult(kind, p.ID, latency, resp.StatusCode, readErr)
					r.log.Error("read upstream body", "provider", p.Name, "err", readErr)
					return nil, fmt.Errorf("%w: %v", ErrUpstreamBody, readErr)
				}
				r.health.RecordProxyResult(kind, p.ID, latency, resp.StatusCode, nil)
				r.log.Debug("relaying upstream response", "provider", p.Name, "path", requestPath, "latency", latency)
				return &UpstreamResponse{
					Provider:   p.Name,
					StatusCode: resp.StatusCode,
					Header:     resp.Header.Clone(),
					Body:       b,
				}, nil
			default:
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				_ = resp.Body.Close()
				r.health.RecordProxyResult(kind, p.ID, latency, resp.StatusCode, nil)
				r.log.Warn("upstream returned non-200", "provider", p.Name, "path", requestPath, "status", resp.StatusCode, "attempt", attempt+1)
			}

			if attempt < retries {
				if err := sleepContext(ctx, r.backoff); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrAllProvidersExhausted, kind)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
