package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccswitch/pkg/store"
)

func newConfigDirCmd(opts *rootOptions) *cobra.Command {
	var clearOverride bool
	configDirCmd := &cobra.Command{
		Use:   "config-dir [path]",
		Short: "Show or override the directory holding the provider store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.settingsPath)
			if err != nil {
				return err
			}
			switch {
			case clearOverride:
				if err := store.SetAppConfigDirOverride(a.paths, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Config directory override cleared.")
			case len(args) == 1:
				dir := store.ExpandHome(args[0])
				if info, err := os.Stat(dir); err != nil || !info.IsDir() {
					return fmt.Errorf("%s is not an existing directory", dir)
				}
				if err := store.SetAppConfigDirOverride(a.paths, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Provider store now lives under %s.\n", dir)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), a.storePath)
			}
			return nil
		},
	}
	configDirCmd.Flags().BoolVar(&clearOverride, "clear", false, "Remove the override")
	return configDirCmd
}
