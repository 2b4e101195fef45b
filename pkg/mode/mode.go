// Package mode moves the downstream clients between direct mode, where
// each client holds a provider's real credentials, and proxy mode, where
// it holds a placeholder token and talks to the local failover proxy.
package mode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/liveconfig"
	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/provider"
	"github.com/lkarlslund/ccswitch/pkg/store"
)

// ProxyToken is the credential clients send while in proxy mode. The
// proxy replaces it with the selected provider's key.
const ProxyToken = "ccswitch-proxymode-token"

const codexProviderTable = `[model_providers.ccswitch]
base_url = %q
name = "ccswitch"
requires_openai_auth = true
wire_api = "responses"
`

var ErrInvalidCommonConfig = errors.New("invalid common config")

// CommonConfig is merged into the generated proxy-mode configs. Claude's
// is a JSON object (comments allowed); Codex's is TOML text.
type CommonConfig struct {
	Claude string
	Codex  string
}

// ProxyLifecycle is the part of the proxy controller the switcher drives.
type ProxyLifecycle interface {
	Start() error
	Stop() error
}

type Switcher struct {
	providers *provider.Manager
	store     store.Store
	live      liveconfig.Writer
	settings  *config.SettingsStore
	proxy     ProxyLifecycle
	proxyURL  string
	log       *log.Logger
}

// NewSwitcher wires the collaborators. proxy may be nil when the caller
// manages the listener itself.
func NewSwitcher(providers *provider.Manager, st store.Store, live liveconfig.Writer, settings *config.SettingsStore, proxy ProxyLifecycle, proxyURL string) *Switcher {
	return &Switcher{
		providers: providers,
		store:     st,
		live:      live,
		settings:  settings,
		proxy:     proxy,
		proxyURL:  proxyURL,
		log:       logutil.For("mode"),
	}
}

// SetMode persists the operation mode, rewrites both clients' configs
// and starts or stops the proxy to match.
func (s *Switcher) SetMode(mode string) error {
	if err := s.settings.Update(func(c *config.Settings) error {
		c.OperationMode = mode
		return nil
	}); err != nil {
		return err
	}
	cfg := s.settings.Snapshot()
	if cfg.OperationMode == config.ModeProxy {
		if err := s.SwitchToProxy(CommonConfig{Claude: cfg.ClaudeCommonConfig, Codex: cfg.CodexCommonConfig}); err != nil {
			return err
		}
		if s.proxy != nil {
			return s.proxy.Start()
		}
		return nil
	}
	if s.proxy != nil {
		if err := s.proxy.Stop(); err != nil {
			s.log.Warn("stopping proxy", "err", err)
		}
	}
	return s.SwitchToDirect()
}

// SwitchToProxy points both clients at the proxy. A failure for one
// client does not undo the other.
func (s *Switcher) SwitchToProxy(common CommonConfig) error {
	var errs []error

	settings, err := ClaudeProxySettings(s.proxyURL, common.Claude)
	if err == nil {
		err = s.live.WriteLiveConfig(provider.AppClaude, liveconfig.Data{Settings: settings})
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("claude: %w", err))
	} else {
		s.log.Info("client switched to proxy", "app", provider.AppClaude, "proxy", s.proxyURL)
	}

	if err := s.live.WriteLiveConfig(provider.AppCodex, CodexProxyData(s.proxyURL, common.Codex)); err != nil {
		errs = append(errs, fmt.Errorf("codex: %w", err))
	} else {
		s.log.Info("client switched to proxy", "app", provider.AppCodex, "proxy", s.proxyURL)
	}
	return errors.Join(errs...)
}

// SwitchToDirect writes the selected provider's credentials into each
// client. With no selection the first provider in failover order is
// written and becomes the selection.
func (s *Switcher) SwitchToDirect() error {
	var errs []error
	for _, kind := range provider.AllAppKinds() {
		p, fallback, ok := s.providers.CurrentOrFirst(kind)
		if !ok {
			s.log.Warn("no providers configured, leaving client config untouched", "app", kind)
			continue
		}
		if err := s.writeDirect(kind, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if fallback {
			if err := s.providers.SetCurrent(kind, p.ID); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				continue
			}
			if err := s.providers.Persist(s.store); err != nil {
				errs = append(errs, fmt.Errorf("%s: persist selection: %w", kind, err))
				continue
			}
			s.log.Info("selected first provider", "app", kind, "provider", p.Name)
		}
	}
	return errors.Join(errs...)
}

// SwitchProvider makes id the selection for kind. In direct mode its
// credentials are written to the client immediately; in proxy mode the
// client config already points at the proxy and is left alone.
func (s *Switcher) SwitchProvider(kind provider.AppKind, id string) error {
	p, ok := s.providers.Get(kind, id)
	if !ok {
		return fmt.Errorf("%w: %s", provider.ErrProviderNotFound, id)
	}
	if s.settings.Snapshot().OperationMode != config.ModeProxy {
		if err := s.writeDirect(kind, p); err != nil {
			return err
		}
	}
	if err := s.providers.SetCurrent(kind, id); err != nil {
		return err
	}
	if err := s.providers.Persist(s.store); err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	s.log.Info("switched provider", "app", kind, "provider", p.Name)
	return nil
}

func (s *Switcher) writeDirect(kind provider.AppKind, p provider.Provider) error {
	data, err := DirectData(kind, p)
	if err != nil {
		return err
	}
	return s.live.WriteLiveConfig(kind, data)
}

// DirectData is the live config carrying p's own credentials.
func DirectData(kind provider.AppKind, p provider.Provider) (liveconfig.Data, error) {
	switch kind {
	case provider.AppClaude:
		return liveconfig.Data{Settings: p.SettingsConfig}, nil
	case provider.AppCodex:
		auth := gjson.GetBytes(p.SettingsConfig, provider.FieldCodexAuth)
		if !auth.IsObject() {
			return liveconfig.Data{}, &provider.ExtractionError{Provider: p.Name, Field: provider.FieldCodexAuth, Err: provider.ErrMissingField}
		}
		return liveconfig.Data{
			Auth:   json.RawMessage(auth.Raw),
			Config: gjson.GetBytes(p.SettingsConfig, provider.FieldCodexConfig).String(),
		}, nil
	default:
		return liveconfig.Data{}, fmt.Errorf("unknown app %q", kind)
	}
}

// ClaudeProxySettings builds settings.json for proxy mode. Common fields
// are copied in; the credential pair always points at the proxy.
func ClaudeProxySettings(proxyURL, common string) (json.RawMessage, error) {
	out := []byte(`{}`)
	if strings.TrimSpace(common) != "" {
		src := jsonc.ToJSON([]byte(common))
		if !gjson.ValidBytes(src) || !gjson.ParseBytes(src).IsObject() {
			return nil, fmt.Errorf("%w: claude common config must be a JSON object", ErrInvalidCommonConfig)
		}
		var err error
		gjson.ParseBytes(src).ForEach(func(key, value gjson.Result) bool {
			if key.String() != provider.FieldClaudeEnv {
				out, err = sjson.SetRawBytes(out, gjson.Escape(key.String()), []byte(value.Raw))
				return err == nil
			}
			if !value.IsObject() {
				return true
			}
			value.ForEach(func(envKey, envValue gjson.Result) bool {
				switch envKey.String() {
				case provider.FieldClaudeAuthToken, provider.FieldClaudeBaseURL:
					return true
				}
				out, err = sjson.SetRawBytes(out, provider.FieldClaudeEnv+"."+gjson.Escape(envKey.String()), []byte(envValue.Raw))
				return err == nil
			})
			return err == nil
		})
		if err != nil {
			return nil, fmt.Errorf("merge claude common config: %w", err)
		}
	}

	var err error
	if out, err = sjson.SetBytes(out, provider.FieldClaudeEnv+"."+provider.FieldClaudeAuthToken, ProxyToken); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, provider.FieldClaudeEnv+"."+provider.FieldClaudeBaseURL, proxyURL); err != nil {
		return nil, err
	}
	return out, nil
}

// CodexProxyData builds auth.json and config.toml for proxy mode. The
// common text sits between the top-level model_provider key and the
// provider table, so its own top-level keys stay top-level.
func CodexProxyData(proxyURL, common string) liveconfig.Data {
	auth, _ := json.Marshal(map[string]string{provider.FieldCodexAPIKey: ProxyToken})
	var b strings.Builder
	b.WriteString("model_provider = \"ccswitch\"\n\n")
	if strings.TrimSpace(common) != "" {
		b.WriteString(strings.TrimRight(common, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, codexProviderTable, proxyURL)
	return liveconfig.Data{Auth: auth, Config: b.String()}
}
