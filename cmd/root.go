package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/config"
	"github.com/lkarlslund/ccswitch/pkg/logutil"
)

type rootOptions struct {
	settingsPath string
	logLevel     string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ccswitch",
		Short: "Switch Claude Code and Codex between API providers",
		Long:  "ccswitch manages API providers for Claude Code and Codex, writes their live configs, and runs a local failover proxy.",
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceUsage = true
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logutil.Configure(opts.logLevel); err != nil {
			return err
		}
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root, client configs will be written under root's home")
		}
		return nil
	}
	root.PersistentFlags().StringVar(&opts.settingsPath, "config", config.DefaultSettingsPath(), "Settings TOML path")
	root.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")

	root.AddCommand(
		newServeCmd(opts),
		newModeCmd(opts),
		newProviderCmd(opts),
		newUsageCmd(opts),
		newConfigDirCmd(opts),
		newVersionCmd(),
	)
	return root
}
