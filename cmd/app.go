package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/liveconfig"
	"github.com/lkarlslund/ccswitch/pkg/mode"
	"github.com/lkarlslund/ccswitch/pkg/provider"
	"github.com/lkarlslund/ccswitch/pkg/store"
)

// app is the state every command works against, loaded fresh per run.
type app struct {
	settings  *config.SettingsStore
	paths     *store.FileStore
	store     *store.FileStore
	storePath string
	providers *provider.Manager
	live      *liveconfig.Files
}

func openApp(settingsPath string) (*app, error) {
	cfg, err := config.LoadOrDefaultSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	paths, err := store.Open(store.ExpandHome(cfg.PathsStorePath))
	if err != nil {
		return nil, err
	}
	storePath := store.ExpandHome(cfg.StorePath)
	if dir, ok := store.AppConfigDirOverride(paths); ok {
		storePath = filepath.Join(dir, filepath.Base(storePath))
	}
	st, err := store.Open(storePath)
	if err != nil {
		return nil, err
	}
	providers := provider.NewManager()
	if err := providers.Load(st); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	return &app{
		settings:  config.NewSettingsStore(settingsPath, cfg),
		paths:     paths,
		store:     st,
		storePath: storePath,
		providers: providers,
		live:      liveconfig.NewFiles(store.ExpandHome(cfg.ClaudeConfigDir), store.ExpandHome(cfg.CodexConfigDir)),
	}, nil
}

// reloadProviders re-reads the provider store, picking up edits made by
// other invocations.
func (a *app) reloadProviders() error {
	st, err := store.Open(a.storePath)
	if err != nil {
		return err
	}
	if err := a.providers.Load(st); err != nil {
		return err
	}
	a.store = st
	return nil
}

func (a *app) switcher(proxy mode.ProxyLifecycle) *mode.Switcher {
	return mode.NewSwitcher(a.providers, a.store, a.live, a.settings, proxy, config.ProxyURL(a.settings.Snapshot().ProxyListenAddr))
}

func (a *app) persist() error {
	return a.providers.Persist(a.store)
}
