package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/provider"
)

const maxRequestBodyBytes = 32 << 20

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// SettingsSource supplies the current operation mode and retry count.
type SettingsSource interface {
	Snapshot() config.Settings
}

// Controller owns the proxy listener. Start and Stop are idempotent and
// safe for concurrent use.
type Controller struct {
	listenAddr string
	settings   SettingsSource
	router     *Router
	health     *ProviderHealthChecker
	handler    http.Handler
	log        *log.Logger

	mu         sync.Mutex
	state      State
	httpServer *http.Server
	boundAddr  string
	done       chan struct{}
}

func NewController(listenAddr string, settings SettingsSource, providers ProviderSource) *Controller {
	if listenAddr == "" {
		listenAddr = config.DefaultProxyListenAddr
	}
	health := NewProviderHealthChecker()
	c := &Controller{
		listenAddr: listenAddr,
		settings:   settings,
		health:     health,
		log:        logutil.For("proxy"),
	}
	c.router = NewRouter(providers, func() int {
		return settings.Snapshot().ProxyRetryCount
	}, health)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/*", http.HandlerFunc(c.proxyHandler))
	c.handler = r
	return c
}

func (c *Controller) Handler() http.Handler { return c.handler }

func (c *Controller) Health() *ProviderHealthChecker { return c.health }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr is the bound listener address while running, else "".
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundAddr
}

// Start binds the listener when the operation mode is proxy. It returns nil
// without doing anything in direct mode or when already started.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		return nil
	}
	if mode := c.settings.Snapshot().OperationMode; mode != config.ModeProxy {
		c.log.Debug("not starting proxy", "mode", mode)
		return nil
	}
	c.state = StateStarting

	ln, err := net.Listen("tcp", c.listenAddr)
	if err != nil {
		c.state = StateStopped
		return fmt.Errorf("proxy listen %s: %w", c.listenAddr, err)
	}
	srv := &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("proxy server stopped", "err", err)
		}
	}()

	c.httpServer = srv
	c.boundAddr = ln.Addr().String()
	c.done = done
	c.state = StateRunning
	c.log.Info("proxy listening", "addr", c.boundAddr)
	return nil
}

// Stop closes the listener and aborts in-flight requests.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return nil
	}
	c.state = StateStopping
	err := c.httpServer.Close()
	<-c.done

	c.httpServer = nil
	c.boundAddr = ""
	c.done = nil
	c.state = StateStopped
	c.log.Info("proxy stopped")
	return err
}

// Run starts the controller and blocks until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}

func (c *Controller) proxyHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	kind := provider.DetectAppKind(r.Header.Get("User-Agent"))
	c.log.Debug("proxy request", "app", kind, "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))

	resp, err := c.router.Forward(r.Context(), kind, r, body)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrNoEligibleProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamBody):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
