package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/config"
)

func newModeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mode [direct|proxy]",
		Short:     "Show or switch the operation mode",
		Long:      "Without an argument, print the operation mode. With one, rewrite the Claude Code and Codex configs for that mode.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{config.ModeDirect, config.ModeProxy},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.settingsPath)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), a.settings.Snapshot().OperationMode)
				return nil
			}
			if err := a.switcher(nil).SetMode(args[0]); err != nil {
				return err
			}
			current := a.settings.Snapshot().OperationMode
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s mode.\n", current)
			if current == config.ModeProxy {
				fmt.Fprintf(cmd.OutOrStdout(), "Clients now point at %s; run `ccswitch serve` to start the proxy.\n", config.ProxyURL(a.settings.Snapshot().ProxyListenAddr))
			}
			return nil
		},
	}
}
