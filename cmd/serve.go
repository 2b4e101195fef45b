package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/proxy"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local failover proxy (proxy mode only)",
		Long:  "Run the local failover proxy on proxy_listen_addr. Send SIGHUP to reload providers after editing them from another shell.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.settingsPath)
			if err != nil {
				return err
			}
			cfg := a.settings.Snapshot()
			if cfg.OperationMode != config.ModeProxy {
				return fmt.Errorf("operation mode is %s; run `ccswitch mode %s` first", cfg.OperationMode, config.ModeProxy)
			}

			ctrl := proxy.NewController(cfg.ProxyListenAddr, a.settings, a.providers)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go reloadOnHangup(ctx, a, ctrl)

			return ctrl.Run(ctx)
		},
	}
}

// reloadOnHangup re-reads providers on SIGHUP and logs what the proxy has
// seen of each one so far.
func reloadOnHangup(ctx context.Context, a *app, ctrl *proxy.Controller) {
	logger := logutil.For("serve")
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			ctrl.Health().LogSummary()
			if err := a.reloadProviders(); err != nil {
				logger.Error("reload providers", "err", err)
				continue
			}
			logger.Info("providers reloaded")
		}
	}
}
